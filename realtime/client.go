package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/messages"
	"github.com/room4-2/voicerelay/playback"
)

// ErrClosed is returned when sending on a closed client
var ErrClosed = errors.New("realtime client closed")

const (
	sendBufferSize = 256
	writeTimeout   = 10 * time.Second
)

// Client talks to the relay (or any realtime-compatible endpoint) over one
// websocket. Sends are queued and written by a single goroutine; events are
// dispatched to Handlers in arrival order from the read goroutine.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers
	send     chan []byte
	done     chan struct{}

	closeOnce sync.Once
}

// NewClient creates a client. Handlers must be complete before Connect.
func NewClient(handlers Handlers) *Client {
	return &Client{
		handlers: handlers,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay at url and starts the read and write loops.
// Events sent before Connect are written once connected.
func (c *Client) Connect(ctx context.Context, url string) error {
	if c.isDone() {
		return ErrClosed
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime.Connect: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("realtime.Connect: %w", err)
	}

	c.conn = conn
	go c.writeLoop()
	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	var closeErr error
	defer func() {
		c.shutdown()
		c.handlers.dispatch(Closed{Err: closeErr})
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !c.isDone() {
				closeErr = err
			}
			return
		}

		ev, err := decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable relay event")
			continue
		}
		c.handlers.dispatch(ev)
	}
}

func (c *Client) writeLoop() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Error().Err(err).Msg("failed to write to relay")
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout),
			)
			return
		}
	}
}

// flush writes what was queued before Close
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Send queues one client event. v must serialize to an object with a type.
func (c *Client) Send(ctx context.Context, v any) error {
	ev, err := messages.New(v)
	if err != nil {
		return fmt.Errorf("realtime.Send: %w", err)
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- ev.Raw:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type clientEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

func newClientEvent(eventType string) clientEvent {
	return clientEvent{EventID: "evt_" + uuid.New().String(), Type: eventType}
}

// SessionConfig is the part of session.update this client sets
type SessionConfig struct {
	Instructions  string         `json:"instructions,omitempty"`
	Voice         string         `json:"voice,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// ServerVAD enables server-side voice activity detection
var ServerVAD = &TurnDetection{Type: "server_vad"}

// UpdateSession sends session.update
func (c *Client) UpdateSession(ctx context.Context, cfg SessionConfig) error {
	return c.Send(ctx, struct {
		clientEvent
		Session SessionConfig `json:"session"`
	}{newClientEvent(messages.TypeSessionUpdate), cfg})
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// SendUserText adds a user text message to the conversation and asks for a
// response
func (c *Client) SendUserText(ctx context.Context, text string) error {
	err := c.Send(ctx, struct {
		clientEvent
		Item conversationItem `json:"item"`
	}{newClientEvent(messages.TypeItemCreate), conversationItem{
		Type:    "message",
		Role:    "user",
		Content: []contentPart{{Type: "input_text", Text: text}},
	}})
	if err != nil {
		return err
	}
	return c.CreateResponse(ctx)
}

// CreateResponse sends response.create
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.Send(ctx, newClientEvent(messages.TypeResponseCreate))
}

// AppendInputAudio streams PCM16 mono audio at 24kHz
func (c *Client) AppendInputAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.Send(ctx, struct {
		clientEvent
		Audio string `json:"audio"`
	}{newClientEvent(messages.TypeAudioAppend), base64.StdEncoding.EncodeToString(pcm)})
}

// CancelResponse cancels the in-progress response and truncates the item
// that was playing to the samples actually played. It only queues the two
// events and does not wait for the server.
func (c *Client) CancelResponse(ctx context.Context, trackID string, sampleOffset int64) error {
	if err := c.Send(ctx, newClientEvent(messages.TypeResponseCancel)); err != nil {
		return err
	}
	if trackID == "" {
		return nil
	}
	return c.Send(ctx, struct {
		clientEvent
		ItemID       string `json:"item_id"`
		ContentIndex int    `json:"content_index"`
		AudioEndMS   int64  `json:"audio_end_ms"`
	}{newClientEvent(messages.TypeItemTruncate), trackID, 0, SamplesToMS(sampleOffset)})
}

// SamplesToMS converts a sample count of agent audio to milliseconds
func SamplesToMS(samples int64) int64 {
	return samples * 1000 / playback.SampleRate
}

// Done is closed once the connection has ended
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and stops both loops
func (c *Client) Close() error {
	c.shutdown()
	return nil
}
