package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/voicerelay/config"
)

func TestNewDialer(t *testing.T) {
	cfg := &config.Config{
		Provider:         config.ProviderOpenAI,
		RealtimeURL:      "wss://example.com/v1/realtime",
		OpenAIAPIKey:     "sk-test",
		HandshakeTimeout: 3 * time.Second,
		GeminiAPIKey:     "g-test",
		GeminiModel:      "models/test",
	}

	rt, ok := NewDialer(cfg, "be brief").(*RealtimeDialer)
	require.True(t, ok)
	assert.Equal(t, "wss://example.com/v1/realtime", rt.URL)
	assert.Equal(t, "sk-test", rt.APIKey)
	assert.Equal(t, 3*time.Second, rt.HandshakeTimeout)

	cfg.Provider = config.ProviderGemini
	gem, ok := NewDialer(cfg, "be brief").(*GeminiDialer)
	require.True(t, ok)
	assert.Equal(t, "g-test", gem.APIKey)
	assert.Equal(t, "models/test", gem.Model)
	assert.Equal(t, "be brief", gem.Instructions)
	assert.Equal(t, 3*time.Second, gem.HandshakeTimeout)
}
