package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type Client struct {
	ServerURL         string        `yaml:"server_url"`         // ws:// or wss:// relay endpoint
	Token             string        `yaml:"token"`              // opaque bearer credential, sent as the first message
	Local             LocalService  `yaml:"local"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // protocol PING cadence, default 30s
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`  // WebSocket handshake timeout, default 10s
	LocalDialTimeout  time.Duration `yaml:"local_dial_timeout"` // local service dial timeout, default 5s
	Reconnect         Reconnect     `yaml:"reconnect"`
}

// LocalService is the loopback service channels are bridged to.
type LocalService struct {
	Host string `yaml:"host"` // localhost or 127.0.0.1
	Port int    `yaml:"port"` // local service port
}

// Addr returns the host:port dial target for the local service.
func (l LocalService) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// Reconnect controls the exponential backoff between connection attempts.
type Reconnect struct {
	InitialDelay time.Duration `yaml:"initial_delay"` // default 1s
	MaxDelay     time.Duration `yaml:"max_delay"`     // default 60s
}

// ApplyDefaults fills unset fields with their default values.
func (c *Client) ApplyDefaults() {
	if c.Local.Host == "" {
		c.Local.Host = DefaultLocalHost
	}
	if c.Local.Port == 0 {
		c.Local.Port = DefaultLocalPort
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.LocalDialTimeout == 0 {
		c.LocalDialTimeout = DefaultLocalDialTimeout
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultInitialReconnectDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxReconnectDelay
	}
}

// Validate checks the client configuration for fields that cannot be
// defaulted.
func (c *Client) Validate() error {
	if err := ValidateServerURL(c.ServerURL); err != nil {
		return err
	}
	if c.Token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if c.Local.Host == "" {
		return fmt.Errorf("local host must not be empty")
	}
	if c.Local.Port < 1 || c.Local.Port > 65535 {
		return fmt.Errorf("local port must be between 1 and 65535, got %d", c.Local.Port)
	}
	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	if c.Reconnect.MaxDelay != 0 && c.Reconnect.InitialDelay > c.Reconnect.MaxDelay {
		return fmt.Errorf("reconnect initial_delay %s exceeds max_delay %s",
			c.Reconnect.InitialDelay, c.Reconnect.MaxDelay)
	}
	return nil
}
