package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jetassist/wsmux/config"
	"github.com/jetassist/wsmux/protocol"
)

// ConnState represents the state of the relay connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateActive
)

// String returns a string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Conn is the message transport for one connection epoch.
// *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens the relay transport for one epoch.
type DialFunc func(ctx context.Context) (Conn, error)

// ErrNotConnected is returned by frame writes between epochs.
var ErrNotConnected = errors.New("tunnel: not connected")

// After this many consecutive epochs without a single frame exchanged the
// supervisor starts flagging the failure loop in its logs; a relay that
// rejects the credential looks exactly like this.
const authFailureWarnThreshold = 5

// Supervisor owns the single outbound relay connection. It authenticates,
// dispatches inbound frames to channels, serializes outbound frames and runs
// the reconnect-with-backoff loop. Every reconnect is a clean slate: all
// channels die with the epoch that created them and the relay re-issues NEW
// for anything it still needs.
type Supervisor struct {
	cfg    *config.Client
	dial   DialFunc
	sleep  func(ctx context.Context, d time.Duration) bool
	logger zerolog.Logger

	registry *Registry
	backoff  *Backoff

	state    atomic.Int32
	failures atomic.Int64

	// conn is the live epoch transport; writeMu serializes frame writes
	// across the dispatcher, the keepalive and all channel pumps.
	connMu  sync.Mutex
	conn    Conn
	writeMu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// wg tracks the goroutines of the current epoch.
	wg sync.WaitGroup
}

// New creates a Supervisor for the given client configuration.
func New(cfg *config.Client, logger zerolog.Logger) *Supervisor {
	cfg.ApplyDefaults()

	s := &Supervisor{
		cfg:      cfg,
		logger:   logger.With().Str("com", "tunnel").Logger(),
		registry: NewRegistry(),
		backoff:  NewBackoff(cfg.Reconnect.InitialDelay, cfg.Reconnect.MaxDelay),
	}
	s.dial = s.dialWebSocket
	s.sleep = sleepCtx
	s.state.Store(int32(StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	return ConnState(s.state.Load())
}

// ConsecutiveFailures returns how many epochs in a row ended without a
// single frame exchanged. A persistently rejected credential shows up here.
func (s *Supervisor) ConsecutiveFailures() int64 {
	return s.failures.Load()
}

// ChannelCount returns the number of open channels.
func (s *Supervisor) ChannelCount() int {
	return s.registry.Len()
}

// Run connects to the relay and keeps the tunnel alive until ctx is
// cancelled or Stop is called. Transient errors never end the loop; each
// failure sleeps for the current backoff delay before retrying.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer cancel()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.runEpoch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.backoff.Next()
		evt := s.logger.Warn().Err(err).Dur("retry_in", delay)
		if failures := s.failures.Load(); failures >= authFailureWarnThreshold {
			evt.Int64("consecutive_failures", failures).
				Msg("tunnel keeps failing before any frame exchange, check relay URL and credential")
		} else {
			evt.Msg("tunnel disconnected, reconnecting")
		}

		if !s.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// Stop ends the retry loop, closes the live transport and with it every open
// channel. Safe to call concurrently with an in-flight reconnect attempt.
func (s *Supervisor) Stop() {
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// runEpoch drives one connection from dial to teardown.
func (s *Supervisor) runEpoch(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	s.logger.Info().Str("server_url", s.cfg.ServerURL).Msg("connecting to relay")

	conn, err := s.dial(ctx)
	if err != nil {
		s.failures.Add(1)
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial relay: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	epochCtx, epochCancel := context.WithCancel(ctx)
	defer func() {
		epochCancel()
		s.teardownEpoch(conn)
	}()

	// The bearer credential goes out as the very first message, before any
	// binary traffic. The protocol has no acknowledgement: an invalid
	// credential surfaces as the relay closing the socket.
	s.state.Store(int32(StateAuthenticating))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(s.cfg.Token)); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("send credential: %w", err)
	}

	s.state.Store(int32(StateActive))
	s.logger.Info().Msg("tunnel connected")

	s.wg.Add(1)
	go s.keepalive(epochCtx)

	exchanged := false
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !exchanged {
				s.failures.Add(1)
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if err := s.dispatch(epochCtx, data); err != nil {
			if !exchanged {
				s.failures.Add(1)
			}
			return err
		}

		// The first message that dispatches cleanly counts as the frame
		// exchange that proves the relay accepted us.
		if !exchanged {
			exchanged = true
			s.backoff.Reset()
			s.failures.Store(0)
		}
	}
}

// teardownEpoch force-closes everything scoped to the epoch: the transport,
// all channels, the keepalive. The registry ends empty.
func (s *Supervisor) teardownEpoch(conn Conn) {
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()

	_ = conn.Close()
	for _, ch := range s.registry.Drain() {
		ch.Close()
	}
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
}

// dispatch decodes the frames of one transport message in order and routes
// them by flag. Unknown flags are dropped per frame; broken framing drops
// the connection.
func (s *Supervisor) dispatch(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		frame, rest, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.UnknownFlagError
			switch {
			case errors.As(err, &unknown):
				s.logger.Warn().Uint8("flag", unknown.Flag).Msg("unknown frame flag, dropping frame")
				data = rest
				continue
			case errors.Is(err, protocol.ErrPayloadTooLarge):
				// A protocol error scoped to one channel; the remainder of
				// this message cannot be trusted, the connection can.
				s.logger.Warn().Err(err).
					Str("channel_id", frame.ChannelID.String()).
					Msg("oversized frame, closing channel")
				if ch, ok := s.registry.Take(frame.ChannelID); ok {
					ch.Close()
				}
				_ = s.writeFrame(frame.ChannelID, protocol.FlagClose, nil)
				return nil
			default:
				return fmt.Errorf("decode frame: %w", err)
			}
		}

		s.handleFrame(ctx, frame)
		data = rest
	}
	return nil
}

func (s *Supervisor) handleFrame(ctx context.Context, frame protocol.Frame) {
	switch frame.Flag {
	case protocol.FlagPing:
		_ = s.writeFrame(protocol.ControlID, protocol.FlagPong, nil)
	case protocol.FlagPong:
		// keepalive reply, nothing to do
	case protocol.FlagNew:
		s.openChannel(frame.ChannelID, frame.Payload)
	case protocol.FlagData:
		if ch, ok := s.registry.Get(frame.ChannelID); ok {
			ch.FeedRemote(ctx, frame.Payload)
		} else {
			s.dropUnknown(frame)
		}
	case protocol.FlagClose:
		if ch, ok := s.registry.Take(frame.ChannelID); ok {
			ch.closeRemote()
		} else {
			s.dropUnknown(frame)
		}
	case protocol.FlagPause:
		if ch, ok := s.registry.Get(frame.ChannelID); ok {
			ch.Pause()
		} else {
			s.dropUnknown(frame)
		}
	case protocol.FlagResume:
		if ch, ok := s.registry.Get(frame.ChannelID); ok {
			ch.Resume()
		} else {
			s.dropUnknown(frame)
		}
	}
}

// dropUnknown notes a frame for a channel this side no longer knows. Not an
// error: a local close races in-flight relay frames by design.
func (s *Supervisor) dropUnknown(frame protocol.Frame) {
	s.logger.Debug().
		Str("flag", frame.Flag.String()).
		Str("channel_id", frame.ChannelID.String()).
		Msg("frame for unknown channel dropped")
}

// openChannel dials the local service for a relay-issued NEW and registers
// the channel. A dial failure answers with CLOSE and registers nothing; a
// NEW for an id already in use silently replaces the old channel.
func (s *Supervisor) openChannel(id uuid.UUID, payload []byte) {
	logger := s.logger.With().Str("channel_id", id.String()).Logger()

	if meta, ok := protocol.ParseNewChannelMeta(payload); ok {
		logger.Debug().
			Str("meta_host", meta.Host).
			Int("meta_port", meta.Port).
			Msg("channel carries destination metadata")
	}

	local, err := net.DialTimeout("tcp", s.cfg.Local.Addr(), s.cfg.LocalDialTimeout)
	if err != nil {
		logger.Error().Err(err).
			Str("local_addr", s.cfg.Local.Addr()).
			Msg("dial local service failed")
		_ = s.writeFrame(id, protocol.FlagClose, nil)
		return
	}
	if tc, ok := local.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	ch := newChannel(id, local, s, s.registry, s.logger)
	if old := s.registry.Put(id, ch); old != nil {
		// Relay reused the id before we saw its CLOSE; replace silently.
		old.Close()
	}

	logger.Info().Str("local_addr", s.cfg.Local.Addr()).Msg("channel opened")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ch.run()
	}()
}

// writeFrame serializes one frame onto the live transport. A single writer
// owns the socket at a time so frames never interleave mid-header.
func (s *Supervisor) writeFrame(id uuid.UUID, flag protocol.Flag, payload []byte) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	buf := protocol.GetBufferWithSize(protocol.HeaderSize + len(payload))
	defer protocol.PutBuffer(buf)
	if err := protocol.EncodeTo(buf, id, flag, payload); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// keepalive sends a protocol-level PING on the control id at the configured
// cadence, keeping idle connections open through intermediaries.
func (s *Supervisor) keepalive(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeFrame(protocol.ControlID, protocol.FlagPing, nil); err != nil {
				s.logger.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		}
	}
}

// dialWebSocket is the default DialFunc, opening the configured relay URL.
func (s *Supervisor) dialWebSocket(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.ServerURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

// sleepCtx sleeps for d unless ctx ends first; it reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
