package config

import "time"

// Default timeout and interval values
const (
	// DefaultLocalHost is where the tunneled service is expected to listen.
	DefaultLocalHost = "127.0.0.1"

	// DefaultLocalPort is the default port of the tunneled service.
	DefaultLocalPort = 8123

	// DefaultHeartbeatInterval is the default interval between PING frames.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHandshakeTimeout bounds the WebSocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultLocalDialTimeout bounds the dial to the local service when the
	// relay opens a channel.
	DefaultLocalDialTimeout = 5 * time.Second

	// DefaultInitialReconnectDelay is the backoff floor after a failed or
	// dropped connection.
	DefaultInitialReconnectDelay = 1 * time.Second

	// DefaultMaxReconnectDelay is the backoff cap.
	DefaultMaxReconnectDelay = 60 * time.Second
)
