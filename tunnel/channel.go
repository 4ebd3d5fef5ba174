package tunnel

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jetassist/wsmux/protocol"
)

// ChannelState represents the lifecycle state of a channel.
type ChannelState int32

const (
	StateOpening ChannelState = iota
	StateOpen
	StatePaused
	StateClosing
	StateClosed
)

// String returns a string representation of the channel state.
func (s ChannelState) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StatePaused:
		return "paused"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// frameWriter sends frames toward the relay. The Supervisor implements it;
// tests substitute a capturing fake.
type frameWriter interface {
	writeFrame(id uuid.UUID, flag protocol.Flag, payload []byte) error
}

// Local-read chunking and relay→local queue tuning. Filling the queue past
// pauseThreshold sends PAUSE to the relay; draining below resumeThreshold
// sends RESUME.
const (
	readChunkSize   = 4096
	writeQueueLen   = 64
	pauseThreshold  = 48
	resumeThreshold = 16
)

// Channel bridges one local TCP connection to the multiplexed stream. A
// channel never outlives the connection epoch that created it: the local-read
// pump forwards DATA frames until EOF, a write pump drains relay bytes into
// the local socket, and either side's teardown converges on the idempotent
// Close.
type Channel struct {
	id     uuid.UUID
	local  net.Conn
	frames frameWriter
	reg    *Registry
	logger zerolog.Logger

	state atomic.Int32

	// Gate for the local-read pump, toggled by relay PAUSE/RESUME.
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool

	// Relay→local queue. sentPause tracks the backpressure we initiated
	// toward the relay when the queue backed up.
	writeQ    chan []byte
	sentPause atomic.Bool
	inOnce    sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newChannel(id uuid.UUID, local net.Conn, frames frameWriter, reg *Registry, logger zerolog.Logger) *Channel {
	c := &Channel{
		id:     id,
		local:  local,
		frames: frames,
		reg:    reg,
		logger: logger.With().Str("channel_id", id.String()).Logger(),
		writeQ: make(chan []byte, writeQueueLen),
		done:   make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.state.Store(int32(StateOpening))
	return c
}

// ID returns the relay-assigned channel id.
func (c *Channel) ID() uuid.UUID {
	return c.id
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	return ChannelState(c.state.Load())
}

// run starts the write pump and blocks in the local-read pump until the
// channel ends. The supervisor runs it on a dedicated goroutine.
func (c *Channel) run() {
	c.state.CompareAndSwap(int32(StateOpening), int32(StateOpen))
	go c.pumpRemote()
	c.pumpLocal()
}

// FeedRemote queues bytes arriving from the relay for the local socket.
// No-op once the channel is closed. The queue is bounded: past the high
// watermark the channel asks the relay to PAUSE instead of buffering without
// limit, and a full queue blocks until the write pump drains or the epoch
// ends. Only the dispatcher may call it.
func (c *Channel) FeedRemote(ctx context.Context, payload []byte) {
	if len(payload) == 0 || c.State() == StateClosed {
		return
	}
	select {
	case c.writeQ <- payload:
		c.maybePause()
	case <-c.done:
	case <-ctx.Done():
	}
}

func (c *Channel) maybePause() {
	if len(c.writeQ) >= pauseThreshold && c.sentPause.CompareAndSwap(false, true) {
		c.logger.Debug().Int("queued", len(c.writeQ)).Msg("write queue backed up, pausing relay")
		if err := c.frames.writeFrame(c.id, protocol.FlagPause, nil); err != nil {
			c.sentPause.Store(false)
		}
	}
}

func (c *Channel) maybeResume() {
	if c.sentPause.Load() && len(c.writeQ) <= resumeThreshold && c.sentPause.CompareAndSwap(true, false) {
		c.logger.Debug().Msg("write queue drained, resuming relay")
		_ = c.frames.writeFrame(c.id, protocol.FlagResume, nil)
	}
}

// closeRemote handles a CLOSE from the relay: no further payload will arrive
// for this channel, so drain what is queued into the local socket, then tear
// down. Only the dispatcher may call it.
func (c *Channel) closeRemote() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	c.state.CompareAndSwap(int32(StatePaused), int32(StateClosing))
	c.inOnce.Do(func() { close(c.writeQ) })
}

// pumpRemote drains the relay→local queue into the local socket.
func (c *Channel) pumpRemote() {
	for {
		select {
		case <-c.done:
			return
		case p, ok := <-c.writeQ:
			if !ok {
				// Relay closed the channel and the queue is drained.
				c.Close()
				return
			}
			if _, err := c.local.Write(p); err != nil {
				c.logger.Debug().Err(err).Msg("local write failed")
				c.Close()
				return
			}
			c.maybeResume()
		}
	}
}

// pumpLocal reads the local socket in bounded chunks and forwards each as a
// DATA frame. On EOF or error it notifies the relay with CLOSE, removes its
// registry entry and closes the channel.
func (c *Channel) pumpLocal() {
	buf := make([]byte, readChunkSize)
	for {
		if !c.waitResumed() {
			break
		}
		n, err := c.local.Read(buf)
		if n > 0 {
			if werr := c.frames.writeFrame(c.id, protocol.FlagData, buf[:n]); werr != nil {
				c.logger.Debug().Err(werr).Msg("forward data failed")
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Debug().Err(err).Msg("local read ended")
			}
			break
		}
	}

	// Tell the relay we are done unless the teardown already came from its
	// side or from a supervisor stop.
	if s := c.State(); s != StateClosed && s != StateClosing {
		c.state.Store(int32(StateClosing))
		_ = c.frames.writeFrame(c.id, protocol.FlagClose, nil)
	}
	c.reg.Release(c.id, c)
	c.Close()
}

// waitResumed blocks while the relay has paused this channel. It returns
// false once the channel is closed.
func (c *Channel) waitResumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && !c.closed {
		c.cond.Wait()
	}
	return !c.closed
}

// Pause suspends the local-read pump. Data already read is not discarded.
func (c *Channel) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateOpen), int32(StatePaused))
	c.logger.Debug().Msg("channel paused")
}

// Resume restarts the local-read pump after a Pause.
func (c *Channel) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StatePaused), int32(StateOpen))
	c.cond.Broadcast()
	c.logger.Debug().Msg("channel resumed")
}

// Close tears the channel down: marks it Closed, wakes both pumps and closes
// the local socket. Idempotent and safe to call from the dispatch path and
// the pump paths concurrently. The registry entry is removed by whichever
// path owns it, not here, so a replacing channel under the same id survives.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cond.Broadcast()
		close(c.done)
		_ = c.local.Close()
		c.logger.Debug().Msg("channel closed")
	})
}
