// Package adapter implements the venue adapter session state machine:
// connect, authenticate, subscribe, stream, and reconnect with exponential
// backoff — generalized from the teacher's exchange.WSFeed so the same
// state machine serves both the binary reference venue and the JSON
// reference venue via an injected Decoder.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradebridge/internal/queue"
	"tradebridge/pkg/types"
)

// State names the adapter session's position in its connection lifecycle.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Subscribing  State = "SUBSCRIBING"
	Streaming    State = "STREAMING"
	Reconnecting State = "RECONNECTING"
	Terminated   State = "TERMINATED"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	readTimeout    = 30 * time.Second // ~30s inactivity per the library's suggested timeout
	pingInterval   = 15 * time.Second
	writeTimeout   = 10 * time.Second
	stopDeadline   = 2 * time.Second
	outQueueCap    = 4096
)

// Decoder turns one raw venue message into zero or more canonical
// MarketUpdates, and supplies the CANCEL-everything events to emit when
// the session transitions into RECONNECTING.
type Decoder interface {
	Decode(raw []byte) ([]types.MarketUpdate, error)
	Reconnect() []types.MarketUpdate
}

// ControlEncoder renders the venue's subscribe/unsubscribe/mode control
// messages. The reference equity venue uses the `{"a":...,"v":...}` shape
// from spec §6; a crypto venue can supply its own.
type ControlEncoder interface {
	EncodeSubscribe(tokens []types.VenueToken) ([]byte, error)
	EncodeUnsubscribe(tokens []types.VenueToken) ([]byte, error)
	EncodeMode(mode types.StreamMode, tokens []types.VenueToken) ([]byte, error)
}

// Capability is the only surface the trade engine and main entry may use —
// no venue-specific type leaks upward.
type Capability interface {
	Start(ctx context.Context) error
	Stop() error
	Subscribe(tokens []types.VenueToken, mode types.StreamMode) error
	Unsubscribe(tokens []types.VenueToken) error
	IsConnected() bool
}

// Session owns one venue WebSocket connection. All socket reads happen on
// its single I/O goroutine; outbound writes from other goroutines
// (Subscribe/Unsubscribe calls) take connMu, which the read loop never
// contends for.
type Session struct {
	url     string
	decoder Decoder
	encoder ControlEncoder
	out     *queue.SPSCQueue[types.MarketUpdate]
	logger  *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	subscribedMu sync.RWMutex
	subscribed   map[types.VenueToken]types.StreamMode

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session together with the SPSC queue the decoded
// MarketUpdates are published into (exposed by Updates) — the only
// shared-state edge between this session's I/O task and the trade engine.
func New(url string, decoder Decoder, encoder ControlEncoder, logger *slog.Logger) *Session {
	return &Session{
		url:        url,
		decoder:    decoder,
		encoder:    encoder,
		out:        queue.NewSPSCQueue[types.MarketUpdate](outQueueCap),
		logger:     logger,
		state:      Disconnected,
		subscribed: make(map[types.VenueToken]types.StreamMode),
	}
}

// Updates returns the queue the trade engine should drain.
func (s *Session) Updates() *queue.SPSCQueue[types.MarketUpdate] { return s.out }

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is actively streaming.
func (s *Session) IsConnected() bool {
	return s.State() == Streaming
}

// Start launches the connect/read/reconnect loop on its own goroutine and
// returns immediately.
func (s *Session) Start(ctx context.Context) error {
	if s.State() != Disconnected {
		return fmt.Errorf("adapter: session already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Stop flips the running flag, closes the socket, and waits up to
// stopDeadline for the I/O goroutine to exit. If it does not exit in time
// the goroutine is abandoned — no further messages will be delivered.
func (s *Session) Stop() error {
	s.setState(Terminated)
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	if s.done == nil {
		return nil
	}
	select {
	case <-s.done:
	case <-time.After(stopDeadline):
		s.logger.Warn("adapter: session I/O goroutine did not exit within deadline, abandoning")
	}
	return nil
}

// Subscribe adds tokens to the persistent subscription set at the given
// streaming mode and, if currently streaming, sends the control message
// immediately. Subscribing twice to the same token is idempotent.
func (s *Session) Subscribe(tokens []types.VenueToken, mode types.StreamMode) error {
	s.subscribedMu.Lock()
	for _, t := range tokens {
		s.subscribed[t] = mode
	}
	s.subscribedMu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	msg, err := s.encoder.EncodeMode(mode, tokens)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	return s.writeMessage(msg)
}

// Unsubscribe removes tokens from the subscription set.
func (s *Session) Unsubscribe(tokens []types.VenueToken) error {
	s.subscribedMu.Lock()
	for _, t := range tokens {
		delete(s.subscribed, t)
	}
	s.subscribedMu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	msg, err := s.encoder.EncodeUnsubscribe(tokens)
	if err != nil {
		return fmt.Errorf("encode unsubscribe: %w", err)
	}
	return s.writeMessage(msg)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(Connecting)
		reachedStreaming, err := s.connectAndStream(ctx)
		if s.State() == Terminated || ctx.Err() != nil {
			return
		}

		if reachedStreaming {
			// A successful STREAMING entry resets the delay to 1s; no
			// attempt counter is kept.
			backoff = initialBackoff
		}

		s.logger.Warn("adapter: disconnected, reconnecting", "error", err, "backoff", backoff)
		s.setState(Reconnecting)
		for _, u := range s.decoder.Reconnect() {
			if slot := s.out.NextToWrite(); slot != nil {
				*slot = u
				s.out.CommitWrite()
			} else {
				s.out.RecordDrop()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if !reachedStreaming {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// connectAndStream dials, subscribes, and reads until the connection fails
// or ctx is cancelled. The bool return reports whether STREAMING was ever
// entered, which run() uses to decide whether to reset the backoff delay.
func (s *Session) connectAndStream(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.setState(Connected)
	s.setState(Subscribing)
	if err := s.replaySubscriptions(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	reachedStreaming := false
	for {
		if ctx.Err() != nil {
			return reachedStreaming, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return reachedStreaming, fmt.Errorf("read: %w", err)
		}
		if !reachedStreaming {
			s.setState(Streaming)
			reachedStreaming = true
		}
		s.handleMessage(msg)
	}
}

// replaySubscriptions groups the persistent subscription set by mode and
// sends one mode message per group, per the "(re)enter STREAMING replays
// the full set, grouped by mode" contract.
func (s *Session) replaySubscriptions() error {
	s.subscribedMu.RLock()
	byMode := make(map[types.StreamMode][]types.VenueToken)
	for token, mode := range s.subscribed {
		byMode[mode] = append(byMode[mode], token)
	}
	s.subscribedMu.RUnlock()

	for mode, tokens := range byMode {
		msg, err := s.encoder.EncodeMode(mode, tokens)
		if err != nil {
			return err
		}
		if err := s.writeMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleMessage(raw []byte) {
	if looksLikeControlJSON(raw) {
		s.logger.Debug("adapter: control message", "data", string(raw))
		return
	}

	updates, err := s.decoder.Decode(raw)
	if err != nil {
		s.logger.Warn("adapter: decode error, skipping", "error", err)
	}
	for _, u := range updates {
		if slot := s.out.NextToWrite(); slot != nil {
			*slot = u
			s.out.CommitWrite()
		} else {
			s.out.RecordDrop()
		}
	}
}

func looksLikeControlJSON(raw []byte) bool {
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	switch envelope.Type {
	case "order", "error", "message":
		return true
	default:
		return false
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("adapter: ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) writeMessage(msg []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("adapter: not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

var _ Capability = (*Session)(nil)
