package upstream

import (
	"encoding/base64"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/room4-2/voicerelay/messages"
)

func TestGeminiHandleResponseTranslatesTurn(t *testing.T) {
	rec := newRecorder()
	p := &GeminiProxy{callbacks: rec.callbacks()}

	p.handleResponse(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})
	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{
					{Text: "hi"},
					{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2, 3, 4}}},
				},
			},
		},
	})
	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	})

	assert.Equal(t, []string{
		messages.TypeSessionCreated,
		messages.TypeTextDelta,
		messages.TypeAudioDelta,
		messages.TypeResponseDone,
	}, rec.types())

	var delta struct {
		ItemID string `json:"item_id"`
		Delta  string `json:"delta"`
	}
	require.NoError(t, sonic.Unmarshal(rec.events[2].Raw, &delta))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}), delta.Delta)
	assert.NotEmpty(t, delta.ItemID)
	assert.Empty(t, p.itemID, "item id resets after turn complete")
}

func TestGeminiItemIDStableWithinTurn(t *testing.T) {
	p := &GeminiProxy{callbacks: newRecorder().callbacks()}

	first := p.currentItem()
	assert.Equal(t, first, p.currentItem())

	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{TurnComplete: true},
	})
	assert.NotEqual(t, first, p.currentItem())
}

func TestGeminiInterruptedBecomesSpeechStarted(t *testing.T) {
	rec := newRecorder()
	p := &GeminiProxy{callbacks: rec.callbacks()}

	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{Interrupted: true},
	})
	assert.Equal(t, []string{messages.TypeSpeechStarted}, rec.types())
}

func TestGeminiReplyAfterInterruptGetsNewItem(t *testing.T) {
	rec := newRecorder()
	p := &GeminiProxy{callbacks: rec.callbacks()}

	audio := func() {
		p.handleResponse(&genai.LiveServerMessage{
			ServerContent: &genai.LiveServerContent{
				ModelTurn: &genai.Content{
					Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}}},
				},
			},
		})
	}
	itemID := func(i int) string {
		var delta struct {
			ItemID string `json:"item_id"`
		}
		require.NoError(t, sonic.Unmarshal(rec.events[i].Raw, &delta))
		return delta.ItemID
	}

	audio()
	p.handleResponse(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{Interrupted: true},
	})
	// next model turn starts without a TurnComplete in between
	audio()

	require.Equal(t, []string{
		messages.TypeAudioDelta,
		messages.TypeSpeechStarted,
		messages.TypeAudioDelta,
	}, rec.types())
	first, second := itemID(0), itemID(2)
	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestGeminiSendUnsupported(t *testing.T) {
	p := &GeminiProxy{}

	err := p.Send(messages.Event{Type: messages.TypeItemTruncate, Raw: []byte(`{"type":"conversation.item.truncate"}`)})
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	err = p.Send(messages.Event{Type: messages.TypeResponseCreate, Raw: []byte(`{"type":"response.create"}`)})
	assert.NoError(t, err)
}

func TestGeminiSendClosed(t *testing.T) {
	p := &GeminiProxy{closed: true}
	err := p.Send(messages.Event{Type: messages.TypeAudioCommit})
	assert.ErrorIs(t, err, ErrClosed)
}
