package realtime

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	server   *httptest.Server
	received chan map[string]any
	conns    chan *websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	f := &fakeRelay{
		received: make(chan map[string]any, 32),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if sonic.Unmarshal(data, &ev) == nil {
				f.received <- ev
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRelay) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case ev := <-f.received:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("relay received nothing")
		return nil
	}
}

func dial(t *testing.T, f *fakeRelay, h Handlers) *Client {
	t.Helper()
	c := NewClient(h)
	require.NoError(t, c.Connect(context.Background(), f.url()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCancelResponseSendsCancelThenTruncate(t *testing.T) {
	relay := newFakeRelay(t)
	c := dial(t, relay, Handlers{})

	require.NoError(t, c.CancelResponse(context.Background(), "item_42", 48000))

	cancel := relay.next(t)
	assert.Equal(t, "response.cancel", cancel["type"])
	assert.NotEmpty(t, cancel["event_id"])

	truncate := relay.next(t)
	assert.Equal(t, "conversation.item.truncate", truncate["type"])
	assert.Equal(t, "item_42", truncate["item_id"])
	assert.EqualValues(t, 0, truncate["content_index"])
	assert.EqualValues(t, 2000, truncate["audio_end_ms"])
}

func TestCancelResponseWithoutTrack(t *testing.T) {
	relay := newFakeRelay(t)
	c := dial(t, relay, Handlers{})

	require.NoError(t, c.CancelResponse(context.Background(), "", 0))
	require.NoError(t, c.CreateResponse(context.Background()))

	assert.Equal(t, "response.cancel", relay.next(t)["type"])
	assert.Equal(t, "response.create", relay.next(t)["type"])
}

func TestSendUserText(t *testing.T) {
	relay := newFakeRelay(t)
	c := dial(t, relay, Handlers{})

	require.NoError(t, c.SendUserText(context.Background(), "Hello!"))

	item := relay.next(t)
	assert.Equal(t, "conversation.item.create", item["type"])
	content := item["item"].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "input_text", content["type"])
	assert.Equal(t, "Hello!", content["text"])

	assert.Equal(t, "response.create", relay.next(t)["type"])
}

func TestUpdateSessionAndAudio(t *testing.T) {
	relay := newFakeRelay(t)
	c := dial(t, relay, Handlers{})

	require.NoError(t, c.UpdateSession(context.Background(), SessionConfig{
		Instructions:  "be brief",
		TurnDetection: ServerVAD,
	}))
	require.NoError(t, c.AppendInputAudio(context.Background(), []byte{1, 2, 3, 4}))
	require.NoError(t, c.AppendInputAudio(context.Background(), nil))

	update := relay.next(t)
	assert.Equal(t, "session.update", update["type"])
	session := update["session"].(map[string]any)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, "server_vad", session["turn_detection"].(map[string]any)["type"])
	assert.NotContains(t, session, "voice")

	audio := relay.next(t)
	assert.Equal(t, "input_audio_buffer.append", audio["type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}), audio["audio"])

	select {
	case ev := <-relay.received:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlersReceiveTypedEventsInOrder(t *testing.T) {
	relay := newFakeRelay(t)

	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}
	closed := make(chan Closed, 1)

	dial(t, relay, Handlers{
		OnSessionCreated: func(SessionCreated) { record("created") },
		OnAudioDelta: func(e AudioDelta) {
			record("audio:" + e.ItemID + ":" + string(rune('0'+len(e.Audio))))
		},
		OnSpeechStarted: func(e SpeechStarted) { record("speech") },
		OnError:         func(e ErrorEvent) { record("error:" + e.Code) },
		OnUnknown:       func(e Unknown) { record("unknown:" + e.Type) },
		OnClosed:        func(e Closed) { closed <- e },
	})

	conn := <-relay.conns
	for _, msg := range []string{
		`{"type":"session.created","session":{}}`,
		`{"type":"response.audio.delta","item_id":"item_1","delta":"AQID"}`,
		`not json`,
		`{"type":"input_audio_buffer.speech_started","audio_start_ms":120}`,
		`{"type":"error","error":{"type":"relay_error","code":"queue_full","message":"x"}}`,
		`{"type":"rate_limits.updated"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case ev := <-closed:
		assert.NoError(t, ev.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("close not dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"created",
		"audio:item_1:3",
		"speech",
		"error:queue_full",
		"unknown:rate_limits.updated",
	}, got)
}

func TestConnectAfterClose(t *testing.T) {
	c := NewClient(Handlers{})
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Connect(context.Background(), "ws://127.0.0.1:1"), ErrClosed)
}

func TestSendAfterClose(t *testing.T) {
	relay := newFakeRelay(t)
	c := dial(t, relay, Handlers{})

	require.NoError(t, c.Close())
	<-c.Done()

	assert.ErrorIs(t, c.CreateResponse(context.Background()), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := NewClient(Handlers{}).Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Event
		wantErr bool
	}{
		{
			name: "speech started",
			data: `{"type":"input_audio_buffer.speech_started","item_id":"item_9","audio_start_ms":40}`,
			want: SpeechStarted{ItemID: "item_9", AudioStartMS: 40},
		},
		{
			name: "text delta",
			data: `{"type":"response.text.delta","item_id":"item_1","delta":"hi"}`,
			want: TextDelta{ItemID: "item_1", Delta: "hi"},
		},
		{
			name: "transcript delta",
			data: `{"type":"response.audio_transcript.delta","item_id":"item_1","delta":"hi"}`,
			want: TranscriptDelta{ItemID: "item_1", Delta: "hi"},
		},
		{
			name:    "bad audio",
			data:    `{"type":"response.audio.delta","delta":"%%%"}`,
			wantErr: true,
		},
		{
			name:    "missing type",
			data:    `{"delta":"hi"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorEventMessage(t *testing.T) {
	ev, err := decode([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`))
	require.NoError(t, err)
	assert.EqualError(t, ev.(ErrorEvent), "invalid_request_error (bad): nope")
}

func TestSamplesToMS(t *testing.T) {
	assert.Equal(t, int64(0), SamplesToMS(0))
	assert.Equal(t, int64(1000), SamplesToMS(24000))
	assert.Equal(t, int64(20), SamplesToMS(499))
}
