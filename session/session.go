package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/logging"
	"github.com/room4-2/voicerelay/messages"
	"github.com/room4-2/voicerelay/upstream"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 4 * 1024 * 1024
)

type state int

const (
	stateConnecting state = iota
	stateReady
	stateClosed
)

// Options tune a single session
type Options struct {
	MaxPending      int
	KeepAlivePeriod time.Duration // 0 disables pings to the client
}

// ClientSession pairs one inbound client connection with one upstream proxy
type ClientSession struct {
	ID         string
	ClientConn *websocket.Conn
	CreatedAt  time.Time
	CloseChan  chan struct{}

	dialer    upstream.Dialer
	keepAlive time.Duration
	logger    zerolog.Logger

	// Raw frames for the client, written by writePump only
	writeChan chan []byte

	// mu guards state, proxy and pending. Queue drain and the switch to
	// direct forwarding happen under it so no new message can overtake.
	mu      sync.Mutex
	state   state
	proxy   upstream.Proxy
	pending *PendingQueue

	lastActivity atomic.Int64
	started      atomic.Bool
	closeOnce    sync.Once
	closeCode    int
	closeReason  string
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewClientSession creates a session; the upstream handshake starts with Start
func NewClientSession(id string, clientConn *websocket.Conn, dialer upstream.Dialer, opts Options) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(maxMessageSize)

	cs := &ClientSession{
		ID:         id,
		ClientConn: clientConn,
		CreatedAt:  time.Now(),
		CloseChan:  make(chan struct{}),
		dialer:     dialer,
		keepAlive:  opts.KeepAlivePeriod,
		logger:     log.With().Str("session", logging.ShortID(id)).Logger(),
		writeChan:  make(chan []byte, writeBufferSize),
		pending:    NewPendingQueue(opts.MaxPending),
		ctx:        ctx,
		cancel:     cancel,
	}
	cs.touch()
	return cs
}

// Start begins the upstream handshake and both relay directions.
// Inbound messages are queued until the handshake completes.
func (cs *ClientSession) Start() {
	cs.started.Store(true)
	go cs.writePump()
	go cs.connectUpstream()
	go cs.handleClientMessages()
}

func (cs *ClientSession) connectUpstream() {
	cs.logger.Info().Msg("connecting to upstream")

	proxy, err := cs.dialer.Connect(cs.ctx, upstream.Callbacks{
		OnEvent: cs.relayToClient,
		OnClose: cs.upstreamClosed,
	})
	if err != nil {
		if !cs.IsClosed() {
			cs.logger.Error().Err(err).Msg("upstream handshake failed")
		}
		cs.Close()
		return
	}

	cs.mu.Lock()
	if cs.state == stateClosed {
		cs.mu.Unlock()
		_ = proxy.Close()
		return
	}
	cs.proxy = proxy
	queued := cs.pending.Drain()
	for _, data := range queued {
		cs.forward(proxy, data)
	}
	cs.state = stateReady
	cs.mu.Unlock()

	cs.logger.Info().Int("drained", len(queued)).Msg("connected to upstream")
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		_, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.logger.Warn().Err(err).Msg("client read error")
			}
			return
		}
		cs.touch()
		cs.HandleInbound(data)
	}
}

// HandleInbound routes one client message: queued while the handshake is
// pending, forwarded directly afterwards, ignored once the session is closed.
func (cs *ClientSession) HandleInbound(data []byte) {
	cs.mu.Lock()
	switch cs.state {
	case stateClosed:
		cs.mu.Unlock()
		return
	case stateConnecting:
		err := cs.pending.Append(data)
		cs.mu.Unlock()
		if err != nil {
			cs.logger.Error().Int("max", cs.pending.MaxLen()).Msg("pending queue full, closing session")
			cs.queueMessage(mustEncode(messages.NewErrorEvent(messages.ErrCodeQueueFull, "too many messages before upstream connected")))
			cs.closeWithReason(websocket.ClosePolicyViolation, "pending queue full")
		}
		return
	}
	proxy := cs.proxy
	cs.mu.Unlock()

	cs.forward(proxy, data)
}

// forward parses and sends one message upstream. A malformed message is
// dropped; the session stays open.
func (cs *ClientSession) forward(proxy upstream.Proxy, data []byte) {
	ev, err := messages.Parse(data)
	if err != nil {
		cs.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed client event")
		return
	}

	cs.logger.Debug().Str("type", ev.Type).Msg("relaying to upstream")
	if ev.Type == messages.TypeResponseCreate {
		cs.logger.Debug().RawJSON("event", ev.Raw).Msg("response create")
	}

	if err := proxy.Send(ev); err != nil {
		switch {
		case errors.Is(err, upstream.ErrClosed):
		case errors.Is(err, upstream.ErrUnsupportedEvent):
			cs.logger.Warn().Str("type", ev.Type).Msg("upstream does not support event, dropped")
		default:
			cs.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to relay to upstream")
		}
	}
}

func (cs *ClientSession) relayToClient(ev messages.Event) {
	if ev.IsError() {
		cs.logger.Error().RawJSON("event", ev.Raw).Msg("upstream error event")
	} else {
		cs.logger.Debug().Str("type", ev.Type).Msg("relaying to client")
	}
	cs.queueMessage(ev.Raw)
}

func (cs *ClientSession) upstreamClosed(err error) {
	if err != nil && !cs.IsClosed() {
		cs.logger.Warn().Err(err).Msg("upstream connection closed")
	}
	cs.Close()
}

// writePump handles all outgoing messages in a single goroutine. It owns the
// client connection's write side: on close it flushes what is queued, sends
// the close frame and closes the connection.
func (cs *ClientSession) writePump() {
	var ping <-chan time.Time
	if cs.keepAlive > 0 {
		ticker := time.NewTicker(cs.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(cs.closeCode, cs.closeReason),
		)
		_ = cs.ClientConn.Close()
	}()

	for {
		select {
		case <-cs.CloseChan:
			cs.flush()
			return
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				cs.Close()
				return
			}
		case <-ping:
			if err := cs.ClientConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cs.Close()
				return
			}
		}
	}
}

func (cs *ClientSession) write(msg []byte) error {
	_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cs.ClientConn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	cs.touch()
	return nil
}

// flush writes whatever is left in the write queue without waiting for more
func (cs *ClientSession) flush() {
	for {
		select {
		case msg := <-cs.writeChan:
			if err := cs.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// queueMessage hands a frame to writePump. It blocks while the write queue
// is full so upstream order is kept; it gives up once the session closes.
func (cs *ClientSession) queueMessage(msg []byte) {
	if msg == nil {
		return
	}
	select {
	case cs.writeChan <- msg:
	case <-cs.CloseChan:
	}
}

func (cs *ClientSession) touch() {
	cs.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last message in either direction
func (cs *ClientSession) LastActivity() time.Time {
	return time.Unix(0, cs.lastActivity.Load())
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state == stateClosed
}

// IsReady returns whether the upstream handshake has completed
func (cs *ClientSession) IsReady() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state == stateReady
}

// Close terminates both sides of the session
func (cs *ClientSession) Close() error {
	cs.closeWithReason(websocket.CloseNormalClosure, "")
	return nil
}

func (cs *ClientSession) closeWithReason(code int, reason string) {
	cs.closeOnce.Do(func() {
		cs.mu.Lock()
		cs.state = stateClosed
		proxy := cs.proxy
		cs.pending.Clear()
		cs.mu.Unlock()

		cs.closeCode = code
		cs.closeReason = reason

		// Aborts a handshake still in flight
		cs.cancel()
		close(cs.CloseChan)

		if proxy != nil {
			_ = proxy.Close()
		}

		// writePump closes the client connection once started
		if !cs.started.Load() {
			_ = cs.ClientConn.Close()
		}

		cs.logger.Info().Msg("session closed")
	})
}

func mustEncode(v any) []byte {
	ev, err := messages.New(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode relay event")
		return nil
	}
	return ev.Raw
}
