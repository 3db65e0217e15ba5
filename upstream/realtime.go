package upstream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/messages"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 16 * 1024 * 1024
)

// RealtimeDialer connects to a realtime speech API speaking the
// type-tagged JSON event protocol over a websocket
type RealtimeDialer struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	KeepAlivePeriod  time.Duration // 0 disables pings
}

// RealtimeProxy relays events verbatim over the upstream websocket
type RealtimeProxy struct {
	conn      *websocket.Conn
	callbacks Callbacks

	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Connect dials the upstream and starts receiving
func (d *RealtimeDialer) Connect(ctx context.Context, cb Callbacks) (Proxy, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	p := &RealtimeProxy{
		conn:      conn,
		callbacks: cb,
		done:      make(chan struct{}),
	}
	go p.receive()
	if d.KeepAlivePeriod > 0 {
		go p.keepAlive(d.KeepAlivePeriod)
	}
	return p, nil
}

func (p *RealtimeProxy) receive() {
	var closeErr error
	defer func() {
		close(p.done)
		p.callbacks.closed(closeErr)
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !p.IsClosed() {
				closeErr = err
			}
			return
		}

		ev, err := messages.Parse(data)
		if err != nil {
			// Still forwarded verbatim; the client decides what to do with it
			log.Warn().Err(err).Msg("unparseable event from upstream")
			ev = messages.Event{Raw: data}
		}
		p.callbacks.event(ev)
	}
}

func (p *RealtimeProxy) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Send writes the event's original bytes upstream
func (p *RealtimeProxy) Send(ev messages.Event) error {
	if p.IsClosed() {
		return ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, ev.Raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Type, err)
	}
	return nil
}

// IsClosed returns whether Close has been called
func (p *RealtimeProxy) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close sends a close frame and tears down the connection
func (p *RealtimeProxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.writeMu.Lock()
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	p.writeMu.Unlock()

	return p.conn.Close()
}
