// Package rpa implements the line-oriented command channel spoken between the
// measurement orchestrator and the robot-control (RPA) endpoint.
//
// Every exchange happens on a fresh TCP connection: the client sends the
// handshake literal, waits for the acknowledgment, sends one command line and
// reads one response. Bulk commands stream their payload in frames terminated
// by the EndMarker line.
package rpa

import "strings"

const (
	Handshake    = "start connection rpa"
	HandshakeAck = "Handshake accepted"
	DoneCommand  = "done"
	EndMarker    = "[END]"

	// PingCommand is used by the orchestrator to wait for the endpoint.
	PingCommand = "ping"
	// FullUICommand asks the endpoint for its full UI hierarchy (bulk).
	FullUICommand = "getFullUI"

	// MaxResponseBytes bounds a single (non-bulk) response read.
	MaxResponseBytes = 4096
	// BulkFrameBytes sizes the server's write buffer for bulk payloads.
	BulkFrameBytes = 4000

	DefaultPort = 12345
)

// IsBulk reports whether command streams a multi-frame response.
func IsBulk(command string) bool {
	return strings.TrimSpace(command) == FullUICommand
}

// IsDone reports whether command ends a session.
func IsDone(command string) bool {
	return strings.EqualFold(strings.TrimSpace(command), DoneCommand)
}

// Frame splits a bulk payload into newline-terminated frames followed by the
// EndMarker line. Joining the frames before the marker and dropping the final
// newline gives back the payload.
func Frame(payload string) []string {
	payload = strings.TrimSuffix(payload, "\n")
	var out []string
	if payload != "" {
		for _, line := range strings.Split(payload, "\n") {
			out = append(out, line+"\n")
		}
	}
	return append(out, EndMarker+"\n")
}
