package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain/ports/adapter"
	"chat-token-budget/internal/usecase"
)

type Server struct {
	tokens         usecase.TokenUseCase
	chats          usecase.ChatUseCase
	auth           *AuthManager
	limiter        adapter.RateLimiter
	rateWindow     time.Duration
	requestTimeout time.Duration
	health         func(ctx context.Context) error
	log            *zerolog.Logger
}

type ServerOptions struct {
	Limiter        adapter.RateLimiter
	RateWindow     time.Duration
	RequestTimeout time.Duration
	// Health reports backing store readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

func NewServer(
	tokens usecase.TokenUseCase,
	chats usecase.ChatUseCase,
	auth *AuthManager,
	opts ServerOptions,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		tokens:         tokens,
		chats:          chats,
		auth:           auth,
		limiter:        opts.Limiter,
		rateWindow:     opts.RateWindow,
		requestTimeout: opts.RequestTimeout,
		health:         opts.Health,
		log:            logger,
	}
}

// Router builds the HTTP routes. /health and /metrics are public.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.requestTimeout), Authenticate(s.auth), RateLimit(s.limiter, "api", s.rateWindow, s.log))

		r.Post("/tokens/check", tokenCheckHandler(s.tokens, s.log))
		r.Get("/models", modelsHandler(s.tokens))

		if s.chats != nil {
			r.Post("/chats", startChatHandler(s.chats, s.log))
			r.Get("/chats/{id}", getChatHandler(s.chats, s.log))
			r.Post("/chats/{id}/messages", sendMessageHandler(s.chats, s.log))
			r.Delete("/chats/{id}", endChatHandler(s.chats, s.log))
		}
	})
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
