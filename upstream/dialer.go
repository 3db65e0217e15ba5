package upstream

import (
	"github.com/room4-2/voicerelay/config"
)

// NewDialer returns the dialer for the configured provider. Instructions only
// apply to Gemini, which takes them at connect time; realtime clients send
// their own with session.update.
func NewDialer(cfg *config.Config, instructions string) Dialer {
	if cfg.Provider == config.ProviderGemini {
		return &GeminiDialer{
			APIKey:           cfg.GeminiAPIKey,
			Model:            cfg.GeminiModel,
			Instructions:     instructions,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return &RealtimeDialer{
		URL:              cfg.RealtimeURL,
		APIKey:           cfg.OpenAIAPIKey,
		HandshakeTimeout: cfg.HandshakeTimeout,
		KeepAlivePeriod:  cfg.KeepAlivePeriod,
	}
}
