// Package api provides the SlotChat HTTP server and the bootstrap that wires
// the store, text generation, chat engine and messaging channels together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/flow"
	"github.com/BTreeMap/SlotChat/internal/messaging"
	"github.com/BTreeMap/SlotChat/internal/models"
)

const (
	// DefaultServerAddress is the listen address when none is configured.
	DefaultServerAddress = ":8080"
	// DefaultVersion is reported by GET /debug when no version is configured.
	DefaultVersion = "dev"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// chatService is the part of the chat engine the handlers use.
type chatService interface {
	Advance(ctx context.Context, req flow.TurnRequest) (flow.TurnResult, error)
	Session(ctx context.Context, id string) (*models.Session, error)
	Sessions(ctx context.Context) ([]models.SessionSummary, error)
	Turns(ctx context.Context, id string) ([]models.Turn, error)
	Table() *conditions.Table
}

// Compile-time check that the engine satisfies chatService.
var _ chatService = (*flow.Engine)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string   // listen address, e.g. ":8080"
	CORSOrigins []string // allowed browser origins; empty means "*"
	Version     string   // reported by GET /debug
	Twilio      *messaging.TwilioService
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithCORSOrigins sets the allowed browser origins. Entries may be "*", an
// exact origin, or "*.example.com" to allow every subdomain.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) {
		o.CORSOrigins = origins
	}
}

// WithVersion sets the version string reported by GET /debug.
func WithVersion(v string) Option {
	return func(o *Opts) {
		o.Version = v
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook at POST /twilio/webhook.
func WithTwilioWebhook(svc *messaging.TwilioService) Option {
	return func(o *Opts) {
		o.Twilio = svc
	}
}

// Server serves the chat API.
type Server struct {
	chat        chatService
	twilio      *messaging.TwilioService
	addr        string
	corsOrigins []string
	version     string
	httpServer  *http.Server
}

// NewServer creates a Server for the given chat engine.
func NewServer(chat chatService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultServerAddress, Version: DefaultVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{
		chat:        chat,
		twilio:      cfg.Twilio,
		addr:        cfg.Addr,
		corsOrigins: cfg.CORSOrigins,
		version:     cfg.Version,
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/history/{id}", s.historyHandler)
	mux.HandleFunc("/download/{file}", s.downloadHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/debug", s.debugHandler)
	if s.twilio != nil {
		mux.HandleFunc("/twilio/webhook", s.twilio.TwilioWebhookHandler)
		slog.Debug("Server.Handler: Twilio webhook mounted", "path", "/twilio/webhook")
	}
	return s.withCORS(mux)
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("Server.ListenAndServe: API listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server on %s: %w", s.addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}
