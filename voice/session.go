package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/playback"
	"github.com/room4-2/voicerelay/realtime"
)

var (
	ErrMissingRelayURL = errors.New(`missing required "wss" relay url`)
	ErrInvalidRelayURL = errors.New(`invalid url format for "wss" relay url`)
)

const defaultGreeting = "Hello!"

// ValidateRelayURL checks the relay address a voice client was given
func ValidateRelayURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingRelayURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRelayURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRelayURL, raw)
	}
	return u, nil
}

// Config for one voice session
type Config struct {
	RelayURL     string
	Instructions string
	Greeting     string    // first user message, "Hello!" when empty
	Sink         io.Writer // agent audio, PCM16 mono 24kHz
	OnText       func(itemID, delta string)
}

// Session is the state of one voice conversation: the relay client, the
// audio player and the barge-in coordinator. It is created once and passed
// to whatever needs it.
type Session struct {
	cfg         Config
	client      *realtime.Client
	player      *playback.Player
	coordinator *playback.Coordinator
	closed      chan error
	stopPlayer  context.CancelFunc
}

// NewSession wires a session. Nothing is connected until Start.
func NewSession(cfg Config) (*Session, error) {
	if _, err := ValidateRelayURL(cfg.RelayURL); err != nil {
		return nil, err
	}
	if cfg.Sink == nil {
		cfg.Sink = io.Discard
	}
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}

	s := &Session{
		cfg:    cfg,
		closed: make(chan error, 1),
	}
	s.player = playback.NewPlayer(cfg.Sink)
	s.client = realtime.NewClient(s.handlers())
	s.coordinator = playback.NewCoordinator(s.player, s.client)
	return s, nil
}

func (s *Session) handlers() realtime.Handlers {
	return realtime.Handlers{
		OnSessionCreated: func(realtime.SessionCreated) {
			log.Info().Msg("session created")
		},
		OnError: func(e realtime.ErrorEvent) {
			log.Error().Err(e).Msg("relay error")
		},
		OnAudioDelta: func(e realtime.AudioDelta) {
			s.player.Add(e.ItemID, e.Audio)
		},
		OnTextDelta: func(e realtime.TextDelta) {
			s.text(e.ItemID, e.Delta)
		},
		OnTranscriptDelta: func(e realtime.TranscriptDelta) {
			s.text(e.ItemID, e.Delta)
		},
		OnSpeechStarted: func(realtime.SpeechStarted) {
			if pos, ok := s.coordinator.Interrupt(context.Background()); ok {
				log.Info().Str("track", pos.TrackID).Int64("ms", realtime.SamplesToMS(pos.Offset)).Msg("user interrupted")
			}
		},
		OnResponseDone: func(realtime.ResponseDone) {
			log.Debug().Msg("response done")
		},
		OnClosed: func(e realtime.Closed) {
			s.closed <- e.Err
		},
	}
}

func (s *Session) text(itemID, delta string) {
	if s.cfg.OnText != nil {
		s.cfg.OnText(itemID, delta)
	}
}

// Start connects to the relay, configures the conversation and starts
// playing agent audio. It does not block.
func (s *Session) Start(ctx context.Context) error {
	if err := s.client.UpdateSession(ctx, realtime.SessionConfig{
		Instructions:  s.cfg.Instructions,
		TurnDetection: realtime.ServerVAD,
	}); err != nil {
		return err
	}
	if err := s.client.SendUserText(ctx, s.cfg.Greeting); err != nil {
		return err
	}
	if err := s.client.Connect(ctx, s.cfg.RelayURL); err != nil {
		return err
	}

	playCtx, stop := context.WithCancel(context.Background())
	s.stopPlayer = stop
	go func() {
		if err := s.player.Run(playCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("audio output stopped")
		}
	}()
	return nil
}

// Wait blocks until ctx is done or the relay goes away, then closes the session
func (s *Session) Wait(ctx context.Context) error {
	defer s.Close()

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.closed:
		if err != nil {
			return fmt.Errorf("voice.Wait: relay connection lost: %w", err)
		}
		return nil
	}
}

// Run is Start followed by Wait
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// AppendAudio streams microphone audio, PCM16 mono 24kHz
func (s *Session) AppendAudio(ctx context.Context, pcm []byte) error {
	return s.client.AppendInputAudio(ctx, pcm)
}

// SendText adds a user text message and asks for a response
func (s *Session) SendText(ctx context.Context, text string) error {
	return s.client.SendUserText(ctx, text)
}

// Interrupt stops the agent's speech as if the user had started talking
func (s *Session) Interrupt(ctx context.Context) (playback.TrackOffset, bool) {
	return s.coordinator.Interrupt(ctx)
}

// Close ends the session
func (s *Session) Close() error {
	if s.stopPlayer != nil {
		s.stopPlayer()
	}
	return s.client.Close()
}
