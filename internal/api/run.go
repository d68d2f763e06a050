package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SlotChat/internal/conditions"
	"github.com/BTreeMap/SlotChat/internal/flow"
	"github.com/BTreeMap/SlotChat/internal/genai"
	"github.com/BTreeMap/SlotChat/internal/messaging"
	"github.com/BTreeMap/SlotChat/internal/scheduler"
	"github.com/BTreeMap/SlotChat/internal/store"
	"github.com/BTreeMap/SlotChat/internal/twiliowhatsapp"
	"github.com/BTreeMap/SlotChat/internal/whatsapp"
)

// Modules carries the per-module options Run wires together.
type Modules struct {
	Store    []store.Option
	GenAI    []genai.Option
	WhatsApp []whatsapp.Option
	Twilio   []twiliowhatsapp.Option
	API      []Option

	// ConditionsPath is a YAML condition table; empty uses the built-in table.
	ConditionsPath string

	EnableWhatsApp bool
	EnableTwilio   bool
	// TwilioWebhookURL and TwilioAuthToken enable webhook signature checks
	// when both are set.
	TwilioWebhookURL string
	TwilioAuthToken  string

	// Retention bounds how long durable dedup records and delivered replies
	// are kept; zero uses scheduler.DefaultRetention.
	Retention time.Duration
}

// durableStore is a SQL backend that also holds inbound dedup and the reply outbox.
type durableStore interface {
	store.SessionStore
	store.InboundDedup
	store.ReplyOutbox
	store.Pruner
}

// Run builds every module, serves the API and blocks until ctx is cancelled
// or the HTTP server fails.
func Run(ctx context.Context, m Modules) error {
	table := conditions.Default()
	if m.ConditionsPath != "" {
		t, err := conditions.Load(m.ConditionsPath)
		if err != nil {
			return fmt.Errorf("load conditions: %w", err)
		}
		table = t
	}
	slog.Info("Run: condition table ready", "pool", table.Pool())

	st, durable, err := openStore(m.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Run: failed to close store", "error", err)
		}
	}()

	gen, err := genai.NewClient(m.GenAI...)
	if err != nil {
		return fmt.Errorf("create genai client: %w", err)
	}
	engine, err := flow.NewEngine(flow.WithStore(st), flow.WithTable(table), flow.WithGenerator(gen))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	services, twilioSvc, err := openChannels(ctx, m)
	if err != nil {
		return err
	}
	defer func() {
		for _, svc := range services {
			if err := svc.Stop(); err != nil {
				slog.Error("Run: failed to stop messaging service", "channel", svc.Name(), "error", err)
			}
		}
	}()

	router := messaging.ChannelRouter{}
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s service: %w", svc.Name(), err)
		}
		var relayOpts []messaging.RelayOption
		if durable != nil {
			relayOpts = append(relayOpts, messaging.WithInboundDedup(durable), messaging.WithReplyOutbox(durable))
		}
		messaging.NewChatRelay(svc, engine, relayOpts...).Start(ctx)
		router[svc.Name()] = svc
	}
	if durable != nil {
		var sender *store.ReplySender
		if len(router) > 0 {
			sender = store.NewReplySender(durable, router.Send)
			if err := sender.RecoverStale(ctx); err != nil {
				slog.Warn("Run: failed to recover stale replies", "error", err)
			}
			go sender.Run(ctx)
		}
		sched := scheduler.NewScheduler(ctx)
		defer sched.Stop()
		if err := scheduler.RegisterMaintenance(sched, scheduler.Maintenance{
			Pruner:    durable,
			Sender:    sender,
			Retention: m.Retention,
		}); err != nil {
			return fmt.Errorf("schedule maintenance: %w", err)
		}
	}

	apiOpts := m.API
	if twilioSvc != nil {
		apiOpts = append(apiOpts, WithTwilioWebhook(twilioSvc))
	}
	server := NewServer(engine, apiOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Run: shutdown requested")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// openStore picks the backend from the configured DSN. The in-memory store
// is used when no DSN is set; it has no durable dedup or outbox.
func openStore(opts []store.Option) (store.SessionStore, durableStore, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Run: no database configured, using in-memory store")
		return store.NewInMemoryStore(), nil, nil
	}

	var (
		st  durableStore
		err error
	)
	switch store.DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Info("Run: using PostgreSQL store")
		st, err = store.NewPostgresStore(opts...)
	default:
		slog.Info("Run: using SQLite store", "path", cfg.DSN)
		st, err = store.NewSQLiteStore(opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, st, nil
}

func openChannels(ctx context.Context, m Modules) ([]messaging.Service, *messaging.TwilioService, error) {
	var (
		services  []messaging.Service
		twilioSvc *messaging.TwilioService
	)
	if m.EnableWhatsApp {
		client, err := whatsapp.NewClient(ctx, m.WhatsApp...)
		if err != nil {
			return nil, nil, fmt.Errorf("create whatsapp client: %w", err)
		}
		services = append(services, messaging.NewWhatsAppService(client))
	}
	if m.EnableTwilio {
		client, err := twiliowhatsapp.NewClient(m.Twilio...)
		if err != nil {
			return nil, nil, fmt.Errorf("create twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if m.TwilioWebhookURL != "" && m.TwilioAuthToken != "" {
			opts = append(opts, messaging.WithSignatureValidation(
				twiliowhatsapp.NewSignatureValidator(m.TwilioAuthToken), m.TwilioWebhookURL))
		} else {
			slog.Warn("Run: Twilio webhook signature validation disabled")
		}
		twilioSvc = messaging.NewTwilioService(client, opts...)
		services = append(services, twilioSvc)
	}
	return services, twilioSvc, nil
}
