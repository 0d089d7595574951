package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/auth"
	"github.com/wolfeidau/engagetrack/internal/backend"
	"github.com/wolfeidau/engagetrack/internal/coordinator"
	"github.com/wolfeidau/engagetrack/internal/engagement"
	"github.com/wolfeidau/engagetrack/internal/intervention"
	"github.com/wolfeidau/engagetrack/internal/logger"
	"github.com/wolfeidau/engagetrack/internal/store"
	"github.com/wolfeidau/engagetrack/internal/store/memory"
	"github.com/wolfeidau/engagetrack/internal/store/postgres"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen         string   `help:"HTTP listen address" default:"127.0.0.1:8765" env:"ENGAGETRACK_LISTEN"`
	AllowedOrigins []string `help:"extension origins allowed to connect" default:"*" env:"ENGAGETRACK_ALLOWED_ORIGINS"`

	// Collaborators
	BackendURL     string        `help:"backend API base URL" default:"http://localhost:5000/api" env:"ENGAGETRACK_BACKEND_URL"`
	AIServiceURL   string        `help:"AI analysis service base URL" default:"http://localhost:5001/api" env:"ENGAGETRACK_AI_SERVICE_URL"`
	CallTimeout    time.Duration `help:"timeout for each backend call" default:"10s" env:"ENGAGETRACK_CALL_TIMEOUT"`
	CacheDir       string        `help:"directory for the AI response cache, in memory when empty" default:"" env:"ENGAGETRACK_CACHE_DIR"`
	CredentialsDir string        `help:"directory holding the persisted auth token" default:"" env:"ENGAGETRACK_CREDENTIALS_DIR"`

	// Intervention scheduling
	PollInterval time.Duration `help:"intervention check interval" default:"30s" env:"ENGAGETRACK_POLL_INTERVAL"`
	Cooldown     time.Duration `help:"minimum time between interventions" default:"180s" env:"ENGAGETRACK_COOLDOWN"`
	Threshold    float64       `help:"engagement score below which interventions are requested" default:"0.4" env:"ENGAGETRACK_THRESHOLD"`

	// Tracking
	EngagementInterval time.Duration `help:"engagement score poll interval" default:"15s" env:"ENGAGETRACK_ENGAGEMENT_INTERVAL"`
	WebcamInterval     time.Duration `help:"webcam capture request interval" default:"10s" env:"ENGAGETRACK_WEBCAM_INTERVAL"`
	Batch              BatchFlags    `embed:"" prefix:"batch-"`

	Tracing bool `help:"enable tracing" default:"false" env:"ENGAGETRACK_TRACING"`

	// Journal configuration
	JournalType string        `help:"journal type (memory or postgres)" default:"memory" env:"ENGAGETRACK_JOURNAL_TYPE" enum:"memory,postgres"`
	Postgres    PostgresFlags `embed:"" prefix:"postgres-"`
}

// BatchFlags configures activity batching.
type BatchFlags struct {
	FlushInterval time.Duration `help:"activity flush interval" default:"5s" env:"ENGAGETRACK_BATCH_FLUSH_INTERVAL"`
	MaxSize       int           `help:"activity entries that trigger a flush" default:"50" env:"ENGAGETRACK_BATCH_MAX_SIZE"`
	MaxRetries    uint          `help:"upload attempts per flush" default:"3"`
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"4"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ENGAGETRACK_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) Validate() error {
	if p.ConnString == "" {
		return nil
	}
	if p.MinConns > p.MaxConns {
		return fmt.Errorf("postgres min conns %d exceeds max conns %d", p.MinConns, p.MaxConns)
	}
	return nil
}

func (p *PostgresFlags) poolConfig() *postgres.PoolConfig {
	return &postgres.PoolConfig{
		ConnString:      p.ConnString,
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
		AutoMigrate:     p.AutoMigrate,
	}
}

func (c *ServeCmd) Run(globals *Globals) error {
	log.Logger = logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting coordinator")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "engagetrack", Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	journal, err := c.openJournal(ctx)
	if err != nil {
		return err
	}

	tokens, err := auth.NewFileTokenStore(c.CredentialsDir)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}

	backendCfg := backend.Config{
		BaseURL:      c.BackendURL,
		AIServiceURL: c.AIServiceURL,
		Timeout:      c.CallTimeout,
		CacheDir:     c.CacheDir,
	}

	gateway := auth.NewGateway(backend.NewAuthAPI(backendCfg), tokens, auth.WithTimeout(c.CallTimeout))

	cfg := coordinator.DefaultConfig()
	cfg.CallTimeout = c.CallTimeout
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.Intervention = intervention.Config{
		PollInterval: c.PollInterval,
		Cooldown:     c.Cooldown,
		Threshold:    c.Threshold,
		CallTimeout:  c.CallTimeout,
	}
	cfg.Tracker.EngagementPollInterval = c.EngagementInterval
	cfg.Tracker.WebcamInterval = c.WebcamInterval
	cfg.Tracker.Batch = engagement.BatchConfig{
		FlushInterval:   c.Batch.FlushInterval,
		MaxBatchSize:    c.Batch.MaxSize,
		MaxRetries:      c.Batch.MaxRetries,
		InitialInterval: engagement.DefaultBatchConfig().InitialInterval,
	}

	coord, err := coordinator.New(cfg, coordinator.Deps{
		Gateway:  gateway,
		Backend:  backend.New(backendCfg, gateway),
		Analyzer: backend.NewAIClient(backendCfg),
		Journal:  journal,
	})
	if err != nil {
		_ = journal.Close()
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	coord.Startup(ctx)

	handler, err := coord.Hub.Handler(c.AllowedOrigins)
	if err != nil {
		_ = journal.Close()
		return err
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Strs("origins", c.AllowedOrigins).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Failed to shutdown HTTP server")
	}

	return errors.Join(err, coord.Shutdown(shutdownCtx))
}

func (c *ServeCmd) openJournal(ctx context.Context) (store.Journal, error) {
	switch c.JournalType {
	case "postgres":
		if c.Postgres.ConnString == "" {
			return nil, errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
		}
		journal, err := postgres.NewJournal(ctx, c.Postgres.poolConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
		log.Info().Msg("Using PostgreSQL journal")
		return journal, nil
	default:
		log.Info().Msg("Using in-memory journal")
		return memory.NewJournal(), nil
	}
}
