package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"cookieconsent/internal/consent/events"
	consenthandler "cookieconsent/internal/consent/handler"
	consentmetrics "cookieconsent/internal/consent/metrics"
	consentservice "cookieconsent/internal/consent/service"
	consentstore "cookieconsent/internal/consent/store/consent"
	historystore "cookieconsent/internal/consent/store/history"
	"cookieconsent/internal/platform/config"
	"cookieconsent/internal/platform/health"
	"cookieconsent/internal/platform/httpserver"
	"cookieconsent/internal/platform/logger"
	platformmetrics "cookieconsent/internal/platform/metrics"
	"cookieconsent/internal/platform/postgres"
	platformredis "cookieconsent/internal/platform/redis"
	scripthandler "cookieconsent/internal/scriptconfig/handler"
	scriptmodels "cookieconsent/internal/scriptconfig/models"
	scriptservice "cookieconsent/internal/scriptconfig/service"
	scriptstore "cookieconsent/internal/scriptconfig/store"
	tenantmetrics "cookieconsent/internal/tenant/metrics"
	"cookieconsent/internal/tenant/secrets"
	tenantservice "cookieconsent/internal/tenant/service"
	tenantstore "cookieconsent/internal/tenant/store"
	"cookieconsent/internal/webhook"
	webhookmetrics "cookieconsent/internal/webhook/metrics"
	id "cookieconsent/pkg/domain"
	dErrors "cookieconsent/pkg/domain-errors"
	"cookieconsent/pkg/platform/middleware/metadata"
	"cookieconsent/pkg/platform/middleware/request"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional external connections. Nil fields are not configured.
type infra struct {
	db    *sql.DB
	redis *platformredis.Client
	kafka *kgo.Client
}

func (i *infra) close(log *slog.Logger) {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		in.db = db
		if err := postgres.Migrate(ctx, db, log); err != nil {
			in.close(log)
			return nil, err
		}
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		in.close(log)
		return nil, err
	}
	in.redis = rc

	if cfg.Kafka.Enabled() {
		client, err := events.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ConsentTopic)
		if err != nil {
			in.close(log)
			return nil, err
		}
		in.kafka = client
		if err := events.EnsureTopic(ctx, client, cfg.Kafka.ConsentTopic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			in.close(log)
			return nil, err
		}
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	in, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close(log)

	// Tenants
	digester, err := secrets.NewDigester(cfg.APIKeyPepper)
	if err != nil {
		return err
	}
	var keys tenantservice.KeyStore = tenantstore.NewInMemory()
	if in.db != nil {
		keys = tenantstore.NewPostgres(in.db)
	}
	tenants := tenantservice.New(keys, digester,
		tenantservice.WithLogger(log),
		tenantservice.WithMetrics(tenantmetrics.New()),
	)

	// Script configurations
	var scripts scriptstore.Backend = scriptstore.NewInMemory()
	if in.db != nil {
		scripts = scriptstore.NewPostgres(in.db)
	}
	if in.redis != nil {
		scripts = scriptstore.NewCached(scripts, in.redis.Client, cfg.Redis.CacheTTL, log)
	}
	registry := scriptservice.New(scripts, scriptservice.WithLogger(log))

	if cfg.BootstrapAPIKey != "" {
		if err := bootstrap(ctx, cfg, keys, tenants, scripts, log); err != nil {
			return err
		}
	}

	// Webhooks
	dispatcher := webhook.New(
		webhook.WithWorkers(cfg.Webhook.Workers),
		webhook.WithQueueSize(cfg.Webhook.QueueSize),
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithLogger(log),
		webhook.WithMetrics(webhookmetrics.New()),
	)
	dispatcher.Start()

	// Consents
	cMetrics := consentmetrics.New()
	var (
		consents consentservice.ConsentStore = consentstore.NewInMemory()
		history  consentservice.HistoryStore = historystore.NewInMemory()
	)
	opts := []consentservice.Option{
		consentservice.WithScriptResolver(registry),
		consentservice.WithNotifier(dispatcher),
		consentservice.WithLogger(log),
		consentservice.WithMetrics(cMetrics),
		consentservice.WithConsentTTL(cfg.ConsentTTL),
	}
	if in.db != nil {
		consents = consentstore.NewPostgres(in.db)
		history = historystore.NewPostgres(in.db)
		opts = append(opts, consentservice.WithTx(newConsentPostgresTx(in.db, consentservice.Stores{
			Consents: consents,
			History:  history,
		})))
	}
	var publisher *events.KafkaPublisher
	if in.kafka != nil {
		publisher = events.NewKafkaPublisher(in.kafka, cfg.Kafka.ConsentTopic,
			events.WithLogger(log),
			events.WithMetrics(cMetrics),
		)
		opts = append(opts, consentservice.WithEventPublisher(publisher))
	} else {
		opts = append(opts, consentservice.WithEventPublisher(events.Nop{}))
	}
	consent := consentservice.New(consents, history, opts...)

	// HTTP
	clientIPs, err := metadata.NewResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(request.Latency(platformmetrics.New()))

	r.Get("/health", health.Handler(in.checks(), 2*time.Second))
	r.Handle("/metrics", promhttp.Handler())
	scripthandler.New(registry, log).Register(r)
	consenthandler.New(consent, tenants, log, consenthandler.WithClientIPResolver(clientIPs)).Register(r)

	srv := httpserver.New(cfg.Server, r)

	drains := []httpserver.Drain{{Name: "webhook drain", Fn: dispatcher.Shutdown}}
	if publisher != nil {
		drains = append(drains, httpserver.Drain{Name: "kafka flush", Fn: publisher.Flush})
	}
	return httpserver.Serve(ctx, srv, cfg.Server.ShutdownTimeout, log, drains...)
}

func (i *infra) checks() map[string]health.Check {
	checks := map[string]health.Check{}
	if i.db != nil {
		checks["postgres"] = i.db.PingContext
	}
	if i.redis != nil {
		checks["redis"] = i.redis.Health
	}
	if i.kafka != nil {
		checks["kafka"] = i.kafka.Ping
	}
	return checks
}

// bootstrap registers the development API key and, when configured, a
// published script configuration owned by the same tenant. It is idempotent
// across restarts against a persistent database.
func bootstrap(
	ctx context.Context,
	cfg config.Config,
	keys tenantservice.KeyStore,
	tenants *tenantservice.Service,
	scripts scriptstore.Backend,
	log *slog.Logger,
) error {
	var tenantID id.TenantID
	_, key, err := tenants.Issue(ctx, tenantservice.IssueRequest{
		CustomerName: "bootstrap",
		RawKey:       cfg.BootstrapAPIKey,
	})
	switch {
	case err == nil:
		tenantID = key.TenantID
	case dErrors.HasCode(err, dErrors.CodeConflict):
		keyID, perr := secrets.ParseAPIKey(cfg.BootstrapAPIKey)
		if perr != nil {
			return perr
		}
		existing, ferr := keys.FindByKeyID(ctx, keyID)
		if ferr != nil {
			return fmt.Errorf("load bootstrap key: %w", ferr)
		}
		tenantID = existing.TenantID
	default:
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	log.Info("bootstrap tenant ready", "tenant_id", tenantID.String(), "log_type", "audit")

	if cfg.BootstrapScript == "" {
		return nil
	}
	now := time.Now().UTC()
	if err := scripts.Save(ctx, &scriptmodels.ScriptConfig{
		ScriptID:           cfg.BootstrapScript,
		TenantID:           tenantID,
		Categories:         map[string]any{"necessary": map[string]any{"required": true}, "analytics": map[string]any{"required": false}},
		BannerConfig:       map[string]any{"position": "bottom"},
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en"},
		IsActive:           true,
		IsPublished:        true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		return fmt.Errorf("bootstrap script config: %w", err)
	}
	return nil
}
