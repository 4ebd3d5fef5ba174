package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The backoff floor and cap are part of the relay protocol's expected client
// behavior; the local defaults match the service the original deployment
// fronts.
func TestDefaultValues(t *testing.T) {
	assert.Equal(t, "127.0.0.1", DefaultLocalHost)
	assert.Equal(t, 8123, DefaultLocalPort)
	assert.Equal(t, 30*time.Second, DefaultHeartbeatInterval)
	assert.Equal(t, time.Second, DefaultInitialReconnectDelay)
	assert.Equal(t, 60*time.Second, DefaultMaxReconnectDelay)
	assert.Less(t, DefaultInitialReconnectDelay, DefaultMaxReconnectDelay)
}
