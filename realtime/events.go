package realtime

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/room4-2/voicerelay/messages"
)

// Event is one server event received from the relay. The set of
// implementations is closed; Handlers has one callback per kind.
type Event interface {
	eventType() string
}

type SessionCreated struct {
	Raw []byte
}

type ErrorEvent struct {
	ErrType string
	Code    string
	Message string
	Raw     []byte
}

func (e ErrorEvent) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.ErrType, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrType, e.Message)
}

// AudioDelta carries decoded PCM16 audio for one response item
type AudioDelta struct {
	ItemID     string
	ResponseID string
	Audio      []byte
}

type TextDelta struct {
	ItemID string
	Delta  string
}

type TranscriptDelta struct {
	ItemID string
	Delta  string
}

// SpeechStarted is sent by server VAD when the user starts talking
type SpeechStarted struct {
	ItemID       string
	AudioStartMS int64
}

type ResponseDone struct {
	Raw []byte
}

// Unknown is any event the client has no typed form for
type Unknown struct {
	Type string
	Raw  []byte
}

// Closed is delivered once when the connection to the relay ends
type Closed struct {
	Err error
}

func (SessionCreated) eventType() string  { return messages.TypeSessionCreated }
func (ErrorEvent) eventType() string      { return messages.TypeError }
func (AudioDelta) eventType() string      { return messages.TypeAudioDelta }
func (TextDelta) eventType() string       { return messages.TypeTextDelta }
func (TranscriptDelta) eventType() string { return messages.TypeTranscriptDelta }
func (SpeechStarted) eventType() string   { return messages.TypeSpeechStarted }
func (ResponseDone) eventType() string    { return messages.TypeResponseDone }
func (u Unknown) eventType() string       { return u.Type }
func (Closed) eventType() string          { return "close" }

// Handlers registers one typed callback per event kind. Nil callbacks are
// skipped.
type Handlers struct {
	OnSessionCreated  func(SessionCreated)
	OnError           func(ErrorEvent)
	OnAudioDelta      func(AudioDelta)
	OnTextDelta       func(TextDelta)
	OnTranscriptDelta func(TranscriptDelta)
	OnSpeechStarted   func(SpeechStarted)
	OnResponseDone    func(ResponseDone)
	OnUnknown         func(Unknown)
	OnClosed          func(Closed)
}

func (h Handlers) dispatch(ev Event) {
	switch e := ev.(type) {
	case SessionCreated:
		if h.OnSessionCreated != nil {
			h.OnSessionCreated(e)
		}
	case ErrorEvent:
		if h.OnError != nil {
			h.OnError(e)
		}
	case AudioDelta:
		if h.OnAudioDelta != nil {
			h.OnAudioDelta(e)
		}
	case TextDelta:
		if h.OnTextDelta != nil {
			h.OnTextDelta(e)
		}
	case TranscriptDelta:
		if h.OnTranscriptDelta != nil {
			h.OnTranscriptDelta(e)
		}
	case SpeechStarted:
		if h.OnSpeechStarted != nil {
			h.OnSpeechStarted(e)
		}
	case ResponseDone:
		if h.OnResponseDone != nil {
			h.OnResponseDone(e)
		}
	case Unknown:
		if h.OnUnknown != nil {
			h.OnUnknown(e)
		}
	case Closed:
		if h.OnClosed != nil {
			h.OnClosed(e)
		}
	}
}

type wireEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ResponseID   string `json:"response_id"`
	Delta        string `json:"delta"`
	AudioStartMS int64  `json:"audio_start_ms"`
	Error        *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decode turns one relay frame into a typed event
func decode(data []byte) (Event, error) {
	env, err := messages.Parse(data)
	if err != nil {
		return nil, err
	}

	var w wireEvent
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("realtime.decode: %w", err)
	}

	switch env.Type {
	case messages.TypeSessionCreated:
		return SessionCreated{Raw: env.Raw}, nil
	case messages.TypeError:
		ev := ErrorEvent{Raw: env.Raw}
		if w.Error != nil {
			ev.ErrType = w.Error.Type
			ev.Code = w.Error.Code
			ev.Message = w.Error.Message
		}
		return ev, nil
	case messages.TypeAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return nil, fmt.Errorf("realtime.decode: audio delta: %w", err)
		}
		return AudioDelta{ItemID: w.ItemID, ResponseID: w.ResponseID, Audio: audio}, nil
	case messages.TypeTextDelta:
		return TextDelta{ItemID: w.ItemID, Delta: w.Delta}, nil
	case messages.TypeTranscriptDelta:
		return TranscriptDelta{ItemID: w.ItemID, Delta: w.Delta}, nil
	case messages.TypeSpeechStarted:
		return SpeechStarted{ItemID: w.ItemID, AudioStartMS: w.AudioStartMS}, nil
	case messages.TypeResponseDone:
		return ResponseDone{Raw: env.Raw}, nil
	default:
		return Unknown{Type: env.Type, Raw: env.Raw}, nil
	}
}
