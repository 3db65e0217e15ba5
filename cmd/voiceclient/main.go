// Command voiceclient talks to the relay from a terminal: it streams an audio
// file or a text message and plays the agent's audio through sox.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/logging"
	"github.com/room4-2/voicerelay/prompt"
	"github.com/room4-2/voicerelay/voice"
)

// 100ms of PCM16 mono at 24kHz
const chunkSize = 4800

func main() {
	relayURL := flag.String("relay", "ws://localhost:3000/", "relay websocket url")
	audioFile := flag.String("file", "", "audio file to stream (PCM16 24kHz mono, raw or WAV)")
	text := flag.String("text", "", "text message to send instead of audio")
	greeting := flag.String("greeting", "Hello!", "first user message")
	mute := flag.Bool("mute", false, "do not play agent audio")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for the agent")
	flag.Parse()

	logging.Configure(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	if _, err := voice.ValidateRelayURL(*relayURL); err != nil {
		log.Fatal().Err(err).Msg("bad relay url")
	}

	var sink io.Writer = io.Discard
	if !*mute {
		player, err := NewAudioPlayer()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start audio player (is sox installed?)")
		}
		defer player.Close()
		sink = player
	}

	s, err := voice.NewSession(voice.Config{
		RelayURL:     *relayURL,
		Instructions: prompt.Instructions,
		Greeting:     *greeting,
		Sink:         sink,
		OnText: func(_, delta string) {
			fmt.Print(delta)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log.Info().Str("relay", *relayURL).Msg("connecting")
	if err := s.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}

	switch {
	case *text != "":
		if err := s.SendText(ctx, *text); err != nil {
			log.Error().Err(err).Msg("failed to send text")
		}
	case *audioFile != "":
		if err := streamFile(ctx, s, *audioFile); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("failed to stream audio")
		}
	}

	if err := s.Wait(ctx); err != nil {
		log.Error().Err(err).Msg("session ended")
	}
	fmt.Println()
	log.Info().Msg("done")
}

// streamFile sends the file in 100ms chunks at real-time pace
func streamFile(ctx context.Context, s *voice.Session, path string) error {
	audio, err := loadAudioFile(path)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	total := (len(audio) + chunkSize - 1) / chunkSize
	for i := 0; i < len(audio); i += chunkSize {
		end := min(i+chunkSize, len(audio))
		if err := s.AppendAudio(ctx, audio[i:end]); err != nil {
			return err
		}
		log.Debug().Int("chunk", i/chunkSize+1).Int("of", total).Msg("sent audio")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	log.Info().Msg("audio sent, waiting for response")
	return nil
}

// loadAudioFile loads a PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Standard 44 byte WAV header
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		log.Debug().Msg("detected WAV file, skipping header")
		return data[44:], nil
	}
	return data, nil
}
