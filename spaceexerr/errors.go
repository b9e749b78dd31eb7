// Package spaceexerr defines the typed error kinds surfaced across the
// connection, codec, and streaming layers: exported struct types with
// exported fields and an Error() method that reads naturally with
// fmt.Errorf's %w — never a bare sentinel string, so callers can
// errors.As their way to the structured detail.
package spaceexerr

import "fmt"

// ConfigError indicates a bad address, port, or other client-supplied
// configuration value.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "spaceex: config error: " + e.Reason }

// ConnectError indicates a TCP failure while dialing or during the
// connection handshake.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("spaceex: connect to %s: %v", e.Addr, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// HandshakeRejected indicates the server replied to a ConnectionRequest
// with a non-OK status.
type HandshakeRejected struct {
	Message string
}

func (e *HandshakeRejected) Error() string {
	return "spaceex: handshake rejected: " + e.Message
}

// ProtocolError indicates framing, varint, or type-decoding failure.
// One raised by a socket's read loop tears that connection down; one
// raised while decoding a single value is returned only to the caller
// that decoded it.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "spaceex: protocol error: " + e.Reason }

// RemoteError mirrors a server-side exception delivered inside a
// Response.error or ProcedureResult.error.
type RemoteError struct {
	Service     string
	Name        string
	Description string
	StackTrace  string
}

func (e *RemoteError) Error() string {
	if e.Service == "" && e.Name == "" {
		return "spaceex: remote error: " + e.Description
	}
	return fmt.Sprintf("spaceex: remote error %s.%s: %s", e.Service, e.Name, e.Description)
}

// RpcTimeout indicates a Call's caller-side timer expired before a
// response arrived.
type RpcTimeout struct {
	Service, Procedure string
}

func (e *RpcTimeout) Error() string {
	return fmt.Sprintf("spaceex: rpc timeout calling %s.%s", e.Service, e.Procedure)
}

// StreamTimeout indicates a Get or Wait's caller-side timer expired.
type StreamTimeout struct {
	StreamID uint64
}

func (e *StreamTimeout) Error() string {
	return fmt.Sprintf("spaceex: stream %d: timed out waiting for a value", e.StreamID)
}

// ConnectionClosed indicates an operation was issued after, or raced
// with, connection teardown.
type ConnectionClosed struct {
	Cause error
}

func (e *ConnectionClosed) Error() string {
	if e.Cause == nil {
		return "spaceex: connection closed"
	}
	return fmt.Sprintf("spaceex: connection closed: %v", e.Cause)
}
func (e *ConnectionClosed) Unwrap() error { return e.Cause }

// BuilderError indicates a bad expression shape was given to the
// expression builder: an unknown operator, an unsupported node shape,
// or an ambiguous bare-literal argument.
type BuilderError struct {
	Reason string
}

func (e *BuilderError) Error() string { return "spaceex: expression builder: " + e.Reason }
