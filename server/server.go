package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/config"
	"github.com/room4-2/voicerelay/recall"
	"github.com/room4-2/voicerelay/session"
)

// BotCreator provisions meeting bots that load the voice client
type BotCreator interface {
	CreateBot(ctx context.Context, req recall.BotRequest) ([]byte, error)
}

type Server struct {
	router         chi.Router
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	bots           BotCreator
	config         *config.Config
}

// New wires the relay endpoint, /health and /create-bot. ctx bounds the
// background work of the rate limiter.
func New(ctx context.Context, cfg *config.Config, sessionManager *session.Manager, bots BotCreator) *Server {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestLogger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}).Handler)

	s := &Server{
		router:         router,
		sessionManager: sessionManager,
		bots:           bots,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
		httpServer: &http.Server{
			Addr:    cfg.Addr(),
			Handler: router,
			// No read/write timeouts, they would cut long-lived websockets
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.Use(s.rejectStrayUpgrades)

	router.Get("/health", s.handleHealth)
	router.With(RateLimitByIP(ctx, cfg.Recall.RateLimit, cfg.Recall.RateBurst)).
		Post("/create-bot", s.handleCreateBot)
	router.Get(cfg.RelayPath, s.handleRelay)
	router.NotFound(s.handleNotFound)

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Str("relay_path", s.config.RelayPath).
		Str("provider", s.config.Provider).Msg("relay server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every session, then stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")
	s.sessionManager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

// rejectStrayUpgrades hands websocket upgrades on any path but the relay path
// to handleNotFound, including paths that have a plain HTTP route
func (s *Server) rejectStrayUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != s.config.RelayPath && websocket.IsWebSocketUpgrade(r) {
			s.handleNotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Str("request_id", chimw.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
