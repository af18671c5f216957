// Package solair drives a Lighthouse SOLAIR 1100LD particle counter over
// Modbus/TCP. Every operation opens its own connection and closes it before
// returning, matching how the instrument is polled between robot moves.
package solair

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// Holding register offsets (4xxxx minus 40001).
const (
	CommandRegister     = 1  // 40002
	RecordIndexRegister = 24 // 40025
	DataRegister        = 0
	DataRegisterCount   = 10

	ModeStart uint16 = 11
	ModeStop  uint16 = 12

	// latestRecord is -1 as a 16-bit register value.
	latestRecord uint16 = 0xFFFF
)

var (
	ErrUnreachable = errors.New("gateway unreachable")
	ErrNoData      = errors.New("no measurement")
)

type Config struct {
	Address   string
	SlaveID   byte
	Timeout   time.Duration
	StartMode uint16
	StopMode  uint16
}

// Client implements the measurement gateway contract for one instrument.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.SlaveID == 0 {
		cfg.SlaveID = 1
	}
	if cfg.StartMode == 0 {
		cfg.StartMode = ModeStart
	}
	if cfg.StopMode == 0 {
		cfg.StopMode = ModeStop
	}
	return &Client{cfg: cfg}
}

func (c *Client) Addr() string { return c.cfg.Address }

// Probe connects and disconnects. A failure means the point must be skipped.
func (c *Client) Probe(ctx context.Context) error {
	return c.with(ctx, func(modbus.Client) error { return nil })
}

// Start writes the start mode to the command register.
func (c *Client) Start(ctx context.Context) error {
	return c.writeCommand(ctx, c.cfg.StartMode)
}

// Stop writes the stop mode to the command register.
func (c *Client) Stop(ctx context.Context) error {
	return c.writeCommand(ctx, c.cfg.StopMode)
}

// ReadLatest selects the most recent record and returns its data registers.
// Register 0 holds the dust level.
func (c *Client) ReadLatest(ctx context.Context) ([]uint16, error) {
	var regs []uint16
	err := c.with(ctx, func(mb modbus.Client) error {
		if _, err := mb.WriteSingleRegister(RecordIndexRegister, latestRecord); err != nil {
			return fmt.Errorf("%w: set record index: %v", ErrNoData, err)
		}
		raw, err := mb.ReadHoldingRegisters(DataRegister, DataRegisterCount)
		if err != nil {
			return fmt.Errorf("%w: read registers: %v", ErrNoData, err)
		}
		regs = decodeRegisters(raw)
		if len(regs) == 0 {
			return ErrNoData
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// DustLevel reads the latest record and returns its first register.
func (c *Client) DustLevel(ctx context.Context) (float64, error) {
	regs, err := c.ReadLatest(ctx)
	if err != nil {
		return 0, err
	}
	return float64(regs[0]), nil
}

func (c *Client) writeCommand(ctx context.Context, mode uint16) error {
	return c.with(ctx, func(mb modbus.Client) error {
		if _, err := mb.WriteSingleRegister(CommandRegister, mode); err != nil {
			return fmt.Errorf("write command %d: %w", mode, err)
		}
		return nil
	})
}

// with opens a connection bounded by the configured timeout and ctx's
// deadline, runs fn and closes the connection.
func (c *Client) with(ctx context.Context, fn func(modbus.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := modbus.NewTCPClientHandler(c.cfg.Address)
	h.SlaveId = c.cfg.SlaveID
	h.Timeout = c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left <= 0 {
			return context.DeadlineExceeded
		}
		if left < h.Timeout {
			h.Timeout = left
		}
	}
	if err := h.Connect(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, c.cfg.Address, err)
	}
	defer h.Close()
	return fn(modbus.NewClient(h))
}

func decodeRegisters(raw []byte) []uint16 {
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return out
}
