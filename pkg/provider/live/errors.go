package live

import "errors"

var (
	// ErrInvalidConfig is returned by [Open] and [Config.Validate] for a
	// configuration that can never produce a working session.
	ErrInvalidConfig = errors.New("live: invalid config")

	// ErrSessionClosed is returned by [Session.Send] once the session is closed.
	ErrSessionClosed = errors.New("live: session closed")

	// ErrTransport wraps fatal connection failures: dial errors, network
	// errors, and errors reported by the server.
	ErrTransport = errors.New("live: transport error")
)
