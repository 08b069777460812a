package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PortNumber53/social-publisher/internal/ai"
	"github.com/PortNumber53/social-publisher/internal/auth"
	"github.com/PortNumber53/social-publisher/internal/config"
	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/handlers"
	"github.com/PortNumber53/social-publisher/internal/logger"
	"github.com/PortNumber53/social-publisher/internal/metrics"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/PortNumber53/social-publisher/internal/tokens"
	"github.com/PortNumber53/social-publisher/internal/workers"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

const (
	aiTimeout       = 60 * time.Second
	refreshLeaseTTL = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(db *sql.DB, sourceURL string) error
	listenAndServe func(*http.Server) error
	stopCh         chan os.Signal
	notify         func(c chan<- os.Signal, sig ...os.Signal)
}

func defaultDeps() deps {
	return deps{
		getenv:    os.Getenv,
		openDB:    sql.Open,
		migrateUp: migrateUp,
		listenAndServe: func(s *http.Server) error {
			return s.ListenAndServe()
		},
		notify: signal.Notify,
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(defaultDeps()); err != nil {
		logrus.WithError(err).Fatal("[Main] server exited")
	}
}

func run(d deps) error {
	cfg, err := config.Load(d.getenv)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if d.openDB == nil {
		return errors.New("openDB dependency is required")
	}
	db, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if d.migrateUp != nil {
		if err := d.migrateUp(db, cfg.MigrationsPath); err != nil {
			return err
		}
		log.Info("[Main] database is up-to-date")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewPostgres(db)
	rec := metrics.Init(cfg.MetricsEnabled)

	reg := platforms.Default(platforms.NewHTTPClient(cfg.OutboundTimeout))
	resolver := credentials.NewResolver(st, reg.Policies())
	tm := newTokenManager(rootCtx, cfg, st, reg, rec, log)

	orch := publish.New(reg, resolver, tm,
		publish.WithConcurrency(cfg.PublishConcurrency),
		publish.WithRateLimits(cfg.RateLimits, st),
		publish.WithLogger(log),
		publish.WithMetrics(rec),
	)

	gen := ai.New(ai.Config{
		OpenAIKey:     cfg.OpenAIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GoogleKey:     cfg.GoogleAIKey,
		AnthropicKey:  cfg.AnthropicKey,
		DefaultModel:  cfg.AIDefaultModel,
	}, &http.Client{Timeout: aiTimeout}, log, rec)

	hd := handlers.Deps{
		Store:            st,
		Orchestrator:     orch,
		Resolver:         resolver,
		Refresher:        tm,
		Generator:        gen,
		Verifier:         auth.NewVerifier(cfg.JWTSecret),
		Logger:           log,
		Metrics:          rec,
		InternalWSSecret: cfg.InternalWSSecret,
	}
	if cfg.MetricsEnabled {
		hd.MetricsHandler = metrics.Handler()
	}
	h := handlers.New(hd)

	startWorkersIfEnabled(rootCtx, cfg, workerSet{
		expiring:   st,
		tokens:     tm,
		scheduled:  st,
		publisher:  orch,
		onComplete: h.NotifyPublishCompleted,
	}, log)

	srv := &http.Server{
		Handler:      buildRouter(h),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Handle graceful shutdown on SIGINT/SIGTERM
	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	listen := d.listenAndServe
	if listen == nil {
		listen = func(s *http.Server) error { return s.ListenAndServe() }
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("[Main] server starting")
		errCh <- listen(srv)
	}()

	select {
	case err := <-errCh:
		cancel()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-stop:
		log.Info("[Main] shutting down server")
		cancel()
		ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("[Main] server shutdown error")
		}
	}
	log.Info("[Main] server stopped")
	return nil
}

func newTokenManager(ctx context.Context, cfg *config.Config, st *store.Postgres, reg *platforms.Registry, rec metrics.Recorder, log logrus.FieldLogger) *tokens.Manager {
	opts := []tokens.Option{
		tokens.WithManagedProviders(reg.ShortLivedTokenProviders()...),
		tokens.WithThreshold(cfg.TokenRefreshThreshold),
		tokens.WithHTTPClient(platforms.NewHTTPClient(cfg.OutboundTimeout)),
		tokens.WithLogger(log),
		tokens.WithMetrics(rec),
	}
	if cfg.TwitterClientID != "" {
		opts = append(opts, tokens.WithProvider(models.ProviderTwitter, tokens.ProviderConfig{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			TokenURL:     cfg.TwitterTokenURL,
		}))
	} else {
		log.Warn("[Main] TWITTER_CLIENT_ID not set; expiring twitter connections will need re-authentication")
	}
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("[Main] invalid REDIS_URL; refresh leases stay in-process")
		} else {
			client := redis.NewClient(ropts)
			if err := client.Ping(ctx).Err(); err != nil {
				log.WithError(err).Warn("[Main] redis ping failed; leases will retry per refresh")
			}
			opts = append(opts, tokens.WithLocker(tokens.NewRedisLocker(client), refreshLeaseTTL))
		}
	}
	return tokens.NewManager(st, opts...)
}

type workerSet struct {
	expiring   workers.ExpiringConnectionStore
	tokens     workers.TokenRefresher
	scheduled  workers.ScheduledPostStore
	publisher  workers.TargetPublisher
	onComplete func(userID, campaignID string, out publish.Outcome)
}

// startWorkersIfEnabled launches the background workers the config turns on and returns how many started.
func startWorkersIfEnabled(ctx context.Context, cfg *config.Config, ws workerSet, log logrus.FieldLogger) int {
	started := 0
	if cfg.TokenSweepEnabled && ws.expiring != nil && ws.tokens != nil {
		sweeper := &workers.TokenRefreshSweeper{
			Store:    ws.expiring,
			Tokens:   ws.tokens,
			Interval: cfg.TokenSweepInterval,
			Logger:   log,
		}
		go sweeper.Start(ctx)
		started++
	} else {
		log.Info("[Main] token refresh sweeper disabled")
	}

	if cfg.ScheduledPostsEnabled && ws.scheduled != nil && ws.publisher != nil {
		w := &workers.ScheduledPostsWorker{
			Store:     ws.scheduled,
			Publisher: ws.publisher,
			Interval:  cfg.ScheduledPostsInterval,
			Logger:    log,
		}
		if ws.onComplete != nil {
			w.OnPublished = func(p *models.Post, res publish.PlatformResult) {
				ws.onComplete(p.UserID, models.Deref(p.CampaignID), publish.Summarize([]publish.PlatformResult{res}))
			}
		}
		go w.Start(ctx)
		started++
	} else {
		log.Info("[Main] scheduled posts worker disabled")
	}
	return started
}

func buildRouter(h *handlers.Handler) http.Handler {
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func migrateUp(db *sql.DB, sourceURL string) error {
	if db == nil {
		return errors.New("migrateUp: db is nil")
	}
	if sourceURL == "" {
		sourceURL = "file://db/migrations"
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}
