package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/voicerelay/config"
)

// serverConns returns server-side websocket connections, one per dial
func serverConns(t *testing.T, n int) []*websocket.Conn {
	t.Helper()

	accepted := make(chan *websocket.Conn, n)
	done := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
		<-done
	}))
	t.Cleanup(func() {
		close(done)
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conns := make([]*websocket.Conn, 0, n)
	for range n {
		client, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		conns = append(conns, <-accepted)
	}
	return conns
}

func testConfig() *config.Config {
	return &config.Config{
		Provider:       config.ProviderOpenAI,
		MaxSessions:    2,
		MaxPending:     16,
		SessionTimeout: time.Minute,
	}
}

func TestManagerCreateAndRemove(t *testing.T) {
	m := NewManager(testConfig(), newFakeDialer(), nil)
	conns := serverConns(t, 1)

	s, err := m.CreateSession(context.Background(), conns[0])
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, m.GetActiveSessionCount())

	got, ok := m.GetSession(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	m.RemoveSession(context.Background(), s.ID)
	assert.Equal(t, 0, m.GetActiveSessionCount())
	assert.True(t, s.IsClosed())

	_, ok = m.GetSession(s.ID)
	assert.False(t, ok)

	// removing twice is harmless
	m.RemoveSession(context.Background(), s.ID)
}

func TestManagerMaxSessions(t *testing.T) {
	m := NewManager(testConfig(), newFakeDialer(), nil)
	conns := serverConns(t, 3)

	_, err := m.CreateSession(context.Background(), conns[0])
	require.NoError(t, err)
	second, err := m.CreateSession(context.Background(), conns[1])
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), conns[2])
	assert.ErrorIs(t, err, ErrMaxSessions)
	assert.Equal(t, 2, m.GetActiveSessionCount())

	m.RemoveSession(context.Background(), second.ID)
	_, err = m.CreateSession(context.Background(), conns[2])
	assert.NoError(t, err)
}

func TestManagerSessionsHaveUniqueIDs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 10
	m := NewManager(cfg, newFakeDialer(), nil)

	seen := map[string]bool{}
	for _, conn := range serverConns(t, 5) {
		s, err := m.CreateSession(context.Background(), conn)
		require.NoError(t, err)
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

func TestManagerCleanupInactiveSessions(t *testing.T) {
	m := NewManager(testConfig(), newFakeDialer(), nil)
	conns := serverConns(t, 2)

	stale, err := m.CreateSession(context.Background(), conns[0])
	require.NoError(t, err)
	fresh, err := m.CreateSession(context.Background(), conns[1])
	require.NoError(t, err)

	stale.lastActivity.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	m.CleanupInactiveSessions(context.Background())

	assert.Equal(t, 1, m.GetActiveSessionCount())
	assert.True(t, stale.IsClosed())
	assert.False(t, fresh.IsClosed())
	_, ok := m.GetSession(fresh.ID)
	assert.True(t, ok)
}

func TestManagerShutdownClosesEverySession(t *testing.T) {
	m := NewManager(testConfig(), newFakeDialer(), nil)
	conns := serverConns(t, 2)

	var sessions []*ClientSession
	for _, conn := range conns {
		s, err := m.CreateSession(context.Background(), conn)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.GetActiveSessionCount())
	for _, s := range sessions {
		assert.True(t, s.IsClosed())
	}
}

func TestManagerStartedSessionRelays(t *testing.T) {
	dialer := newFakeDialer()
	close(dialer.release)
	m := NewManager(testConfig(), dialer, nil)
	conns := serverConns(t, 1)

	s, err := m.CreateSession(context.Background(), conns[0])
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, s.IsReady, waitFor, 5*time.Millisecond)
	s.HandleInbound([]byte(event(1)))
	assert.Equal(t, []string{event(1)}, dialer.proxy.Sent())

	m.RemoveSession(context.Background(), s.ID)
	assert.True(t, dialer.proxy.IsClosed())
}

func TestConnectRedisOptional(t *testing.T) {
	cfg := testConfig()
	assert.Nil(t, ConnectRedis(context.Background(), cfg))

	cfg.RedisURL = "127.0.0.1:1"
	assert.Nil(t, ConnectRedis(context.Background(), cfg))
}
