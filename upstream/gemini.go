package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/room4-2/voicerelay/messages"
)

const (
	geminiInputMIME = "audio/pcm;rate=24000"
	geminiVoice     = "Zephyr" // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
)

// GeminiDialer connects to the Gemini Live API. Gemini speaks its own protocol,
// so the proxy translates the subset of realtime events it can express.
type GeminiDialer struct {
	APIKey           string
	Model            string
	Instructions     string
	HandshakeTimeout time.Duration
}

// GeminiProxy manages one Gemini Live session
type GeminiProxy struct {
	session   *genai.Session
	callbacks Callbacks

	sendMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	itemID string // current model turn, used as the audio track id
}

// Connect opens the Live session and starts receiving
func (d *GeminiDialer) Connect(ctx context.Context, cb Callbacks) (Proxy, error) {
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: geminiVoice,
				},
			},
		},
	}
	if d.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: d.Instructions}},
		}
	}

	session, err := client.Live.Connect(ctx, d.Model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	p := &GeminiProxy{
		session:   session,
		callbacks: cb,
	}
	go p.receive()
	return p, nil
}

func (p *GeminiProxy) receive() {
	var closeErr error
	defer func() {
		p.callbacks.closed(closeErr)
	}()

	for {
		// Receive blocks until a message arrives or the session ends
		resp, err := p.session.Receive()
		if err != nil {
			if !p.IsClosed() {
				closeErr = err
			}
			return
		}
		p.handleResponse(resp)
	}
}

func (p *GeminiProxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.SetupComplete != nil {
		p.emit(map[string]any{"type": messages.TypeSessionCreated})
	}

	content := resp.ServerContent
	if content == nil {
		return
	}

	if content.Interrupted {
		// The interrupted turn is over; the reply gets a new track id
		p.mu.Lock()
		p.itemID = ""
		p.mu.Unlock()
		p.emit(map[string]any{"type": messages.TypeSpeechStarted})
	}

	if content.ModelTurn != nil {
		itemID := p.currentItem()
		for _, part := range content.ModelTurn.Parts {
			if part.Text != "" {
				p.emit(map[string]any{
					"type":    messages.TypeTextDelta,
					"item_id": itemID,
					"delta":   part.Text,
				})
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				p.emit(map[string]any{
					"type":    messages.TypeAudioDelta,
					"item_id": itemID,
					"delta":   base64.StdEncoding.EncodeToString(part.InlineData.Data),
				})
			}
		}
	}

	if content.TurnComplete {
		p.emit(map[string]any{"type": messages.TypeResponseDone})
		p.mu.Lock()
		p.itemID = ""
		p.mu.Unlock()
	}
}

func (p *GeminiProxy) currentItem() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.itemID == "" {
		p.itemID = "item_" + uuid.NewString()
	}
	return p.itemID
}

func (p *GeminiProxy) emit(v map[string]any) {
	ev, err := messages.New(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode gemini event")
		return
	}
	p.callbacks.event(ev)
}

type audioAppend struct {
	Audio string `json:"audio"`
}

type itemCreate struct {
	Item struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"item"`
}

// Send translates a realtime client event into the matching Live call
func (p *GeminiProxy) Send(ev messages.Event) error {
	if p.IsClosed() {
		return ErrClosed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	switch ev.Type {
	case messages.TypeAudioAppend:
		var payload audioAppend
		if err := sonic.Unmarshal(ev.Raw, &payload); err != nil {
			return fmt.Errorf("invalid audio payload: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(payload.Audio)
		if err != nil {
			return fmt.Errorf("invalid base64: %w", err)
		}
		if err := p.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{MIMEType: geminiInputMIME, Data: data},
		}); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
		return nil

	case messages.TypeAudioCommit:
		if err := p.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
			return fmt.Errorf("failed to send audio stream end: %w", err)
		}
		return nil

	case messages.TypeItemCreate:
		var payload itemCreate
		if err := sonic.Unmarshal(ev.Raw, &payload); err != nil {
			return fmt.Errorf("invalid item payload: %w", err)
		}
		var parts []*genai.Part
		for _, c := range payload.Item.Content {
			if c.Text != "" {
				parts = append(parts, &genai.Part{Text: c.Text})
			}
		}
		if len(parts) == 0 {
			return fmt.Errorf("%w: %s without text content", ErrUnsupportedEvent, ev.Type)
		}
		turnComplete := true
		if err := p.session.SendClientContent(genai.LiveSendClientContentParameters{
			Turns:        []*genai.Content{{Role: "user", Parts: parts}},
			TurnComplete: &turnComplete,
		}); err != nil {
			return fmt.Errorf("failed to send text: %w", err)
		}
		return nil

	case messages.TypeResponseCreate:
		// Gemini answers on its own once a turn completes
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
}

// IsClosed returns whether Close has been called
func (p *GeminiProxy) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close terminates the Gemini connection
func (p *GeminiProxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.session.Close()
}
