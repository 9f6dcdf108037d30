package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMaxClientsReached    = errors.New("maximum clients reached")
	ErrInvalidConfig        = errors.New("invalid server configuration")
	ErrListenerFailed       = errors.New("failed to create listener")
)

// Session errors
var (
	ErrNoSession         = errors.New("command before handshake")
	ErrSessionExists     = errors.New("channel already has a session")
	ErrUnknownSession    = errors.New("unknown session hash")
	ErrSpaceNotRequested = errors.New("space was not requested for the session")
	ErrNotAStream        = errors.New("channel is not a stream channel")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrUserLoggedIn      = errors.New("user is already logged in")
	ErrAlreadyLoggedIn   = errors.New("session is already logged in")
)
