package rpa

import (
	"errors"
	"fmt"
)

// Kind classifies a failed round trip.
type Kind int

const (
	KindUnknown Kind = iota
	KindChannelUnavailable
	KindHandshakeRejected
	KindHandshakeTimeout
	KindNoResponse
)

func (k Kind) String() string {
	switch k {
	case KindChannelUnavailable:
		return "ChannelUnavailable"
	case KindHandshakeRejected:
		return "HandshakeRejected"
	case KindHandshakeTimeout:
		return "HandshakeTimeout"
	case KindNoResponse:
		return "NoResponse"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is; every *Error unwraps to one of them.
var (
	ErrChannelUnavailable = errors.New("rpa channel unavailable")
	ErrHandshakeRejected  = errors.New("rpa handshake rejected")
	ErrHandshakeTimeout   = errors.New("rpa handshake timeout")
	ErrNoResponse         = errors.New("rpa no response")
)

func (k Kind) sentinel() error {
	switch k {
	case KindChannelUnavailable:
		return ErrChannelUnavailable
	case KindHandshakeRejected:
		return ErrHandshakeRejected
	case KindHandshakeTimeout:
		return ErrHandshakeTimeout
	case KindNoResponse:
		return ErrNoResponse
	default:
		return nil
	}
}

// Error is returned by Client.SendCommand. Err holds the transport cause, if any.
type Error struct {
	Kind    Kind
	Command string
	Addr    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: command %q to %s: %v", e.Kind, e.Command, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: command %q to %s", e.Kind, e.Command, e.Addr)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the taxonomy kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
