package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-resume-service/internal/app"
	"quiz-resume-service/internal/auth"
	"quiz-resume-service/internal/config"
	"quiz-resume-service/internal/domain"
	"quiz-resume-service/internal/infra/memory"
	pgstore "quiz-resume-service/internal/infra/postgres"
	redisstore "quiz-resume-service/internal/infra/redis"
	"quiz-resume-service/internal/logging"
	"quiz-resume-service/internal/metrics"
	transport "quiz-resume-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader, err := quizLoader(cfg, pool)
	if err != nil {
		return err
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var sessions app.SessionRepository
	var relays app.RelayFactory
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL, logger)
		sessions = redisstore.NewSessionStore(redisClient, sessionTTL)
		relays = redisstore.NewRelayStore(redisClient,
			config.TTLDuration(cfg.Redis.SessionTTL, 30*time.Minute),
			config.TTLDuration(cfg.Redis.DurableTTL, 30*24*time.Hour),
		)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		sessions = memory.NewSessionStore(sessionTTL)
		relays = memory.NewRelayHub()
	}

	var results app.ResultStore = memory.NewResultStore()
	if pool != nil {
		results = pgstore.NewResultStore(pool)
	} else {
		logger.Warn("postgres not configured, results are kept in memory")
	}

	gating, err := app.NewGatingPolicy(cfg.Gating.Types)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	provider := auth.NewProvider(cfg.Auth.Secret, cfg.Auth.SignInURL, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour), logger)

	service := app.NewQuizService(app.ServiceOptions{
		Sessions: sessions,
		Quizzes:  quizRepo,
		Relays:   relays,
		Auth:     provider,
		Results:  results,
		Gating:   gating,
		Reconciler: app.NewReconciler(app.ReconcilerOptions{
			ReturnMarker:   cfg.Auth.ReturnMarker,
			SubmitAttempts: cfg.Reconcile.SubmitAttempts,
			RetryInterval:  config.TTLDuration(cfg.Reconcile.Backoff, 200*time.Millisecond),
			Logger:         logger,
			Metrics:        recorder,
		}),
		Coordinator: app.NewCoordinator(cfg.Auth.ReturnMarker, logger),
		Logger:      logger,
		Metrics:     recorder,
	})

	go service.RunSweeper(ctx, time.Minute)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.RouterOptions{
			Service:      service,
			Authenticate: provider.Middleware,
			Gatherer:     registry,
			Logger:       logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// quizLoader picks the quiz content source: Postgres, then the configured
// YAML catalogue, then the built-in sample.
func quizLoader(cfg config.Config, pool *pgxpool.Pool) (memory.QuizLoader, error) {
	if pool != nil {
		return pgstore.NewQuizLoader(pool), nil
	}
	if cfg.Quiz.File != "" {
		loader, err := memory.LoadQuizFile(cfg.Quiz.File)
		if err != nil {
			return nil, err
		}
		return loader, nil
	}
	return memory.NewStaticQuizLoader(sampleQuizzes()), nil
}

func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:   "quiz-1",
			Slug: "arithmetic",
			Type: domain.QuizTypeMCQ,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
				},
			},
		},
	}
}
