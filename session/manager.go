package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/config"
	"github.com/room4-2/voicerelay/upstream"
)

// ErrMaxSessions is returned when the relay is at capacity
var ErrMaxSessions = errors.New("maximum sessions reached")

const activeSessionsKey = "active_sessions"

// Manager manages all client sessions. Sessions share nothing but this
// registry; each owns its own queue and upstream connection.
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dialer   upstream.Dialer
}

// ConnectRedis returns a client for the session registry mirror, or nil when
// Redis is not configured or not reachable. The relay works without it.
func ConnectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisURL).Msg("redis unavailable, session registry kept in memory only")
		_ = redisClient.Close()
		return nil
	}
	return redisClient
}

// NewManager creates a session manager. redisClient may be nil.
func NewManager(cfg *config.Config, dialer upstream.Dialer, redisClient *redis.Client) *Manager {
	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		dialer:   dialer,
	}
}

// CreateSession registers a new session for an accepted client connection.
// The caller starts it.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	if len(sm.sessions) >= sm.config.MaxSessions {
		sm.mu.Unlock()
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, sm.dialer, Options{
		MaxPending:      sm.config.MaxPending,
		KeepAlivePeriod: sm.config.KeepAlivePeriod,
	})
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	sm.storeSession(ctx, session, clientConn.RemoteAddr().String())
	return session, nil
}

// storeSession mirrors a session to Redis
func (sm *Manager) storeSession(ctx context.Context, session *ClientSession, remoteAddr string) {
	if sm.redis == nil {
		return
	}

	key := sessionKey(session.ID)
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":  session.CreatedAt.Format(time.RFC3339),
		"remote_addr": remoteAddr,
		"provider":    sm.config.Provider,
		"status":      "active",
	})
	pipe.SAdd(ctx, activeSessionsKey, session.ID)
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", session.ID).Msg("failed to mirror session to redis")
	}
}

func (sm *Manager) forgetSession(ctx context.Context, sessionID string) {
	if sm.redis == nil {
		return
	}

	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to remove session from redis")
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession closes and unregisters a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if !exists {
		return
	}

	session.Close()
	sm.forgetSession(ctx, sessionID)
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions with no traffic in either
// direction for longer than the session timeout
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	now := time.Now()

	sm.mu.RLock()
	var stale []string
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, id)
		}
	}
	sm.mu.RUnlock()

	for _, id := range stale {
		log.Info().Str("session", id).Msg("closing inactive session")
		sm.RemoveSession(ctx, id)
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	for id, session := range sessions {
		session.Close()
		sm.forgetSession(ctx, id)
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
}
