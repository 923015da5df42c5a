package realtime

import "errors"

var (
	// ErrUnauthorized is returned when the handshake carries no valid access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when a client exceeds the handshake limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrGatewayClosed is returned by Start after Close.
	ErrGatewayClosed = errors.New("gateway closed")
)
