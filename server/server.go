// Package server exposes the HTTP API of the bot: health and status probes,
// Prometheus metrics, the Twitch authorization flow that stores chat
// credentials, and admin endpoints to manage plugins and send lines.
// Requests carry correlation IDs for consistent logging and are traced
// through otelhttp.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/onnwee/twitcher/chat"
	"github.com/onnwee/twitcher/config"
	"github.com/onnwee/twitcher/db"
	"github.com/onnwee/twitcher/plugin"
	"github.com/onnwee/twitcher/queue"
	"github.com/onnwee/twitcher/twitchapi"
)

// Bot is the runtime the server reports on and manages. *chat.Client implements it.
type Bot interface {
	plugin.Bot
	State() chat.State
	Plugins() *plugin.Host
	Queue() *queue.FloodQueue
	Config() *config.Config
}

// TokenStore persists the chat token obtained through the authorization flow.
type TokenStore interface {
	Upsert(ctx context.Context, t db.Token) error
}

// Validator resolves the login behind an access token.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*twitchapi.Validation, error)
}

var _ Validator = (*twitchapi.Client)(nil)

// Options are the dependencies of the HTTP API. Only Bot is required; routes
// whose dependencies are missing answer 503.
type Options struct {
	Bot     Bot
	Catalog *plugin.Catalog
	DB      *sql.DB

	// Authorization flow
	OAuth     *oauth2.Config
	Tokens    TokenStore
	Validator Validator

	// Reload re-reads the configuration and applies it.
	Reload func(ctx context.Context) error

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts   Options
	logger *slog.Logger
	states *stateStore
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{opts: opts, logger: logger.With(slog.String("component", "http")), states: newStateStore()}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /chat/recent", h.HandleRecentChat)
	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /auth/twitch/callback", h.HandleTwitchOAuthCallback)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/plugins", h.HandleAdminPlugins)
	admin.HandleFunc("POST /admin/plugins/{name}", h.HandleAdminLoadPlugin)
	admin.HandleFunc("DELETE /admin/plugins/{name}", h.HandleAdminUnloadPlugin)
	admin.HandleFunc("POST /admin/plugins/{name}/reload", h.HandleAdminReloadPlugin)
	admin.HandleFunc("POST /admin/recompile", h.HandleAdminRecompile)
	admin.HandleFunc("POST /admin/send", h.HandleAdminSend)
	limiter := newIPRateLimiter(ctx, opts.RateLimit)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), opts.Auth))

	return otelhttp.NewHandler(withCorrelation(mux), "twitcher-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, opts Options) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values while letting shutdown finish
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
