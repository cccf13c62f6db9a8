package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atrium-loyalty/atrium-loyalty/cmd/atrium/cli"
	"github.com/atrium-loyalty/atrium-loyalty/internal/app"
	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
	"github.com/atrium-loyalty/atrium-loyalty/internal/catalog"
	"github.com/atrium-loyalty/atrium-loyalty/internal/legacy"
	"github.com/atrium-loyalty/atrium-loyalty/internal/membership"
	"github.com/atrium-loyalty/atrium-loyalty/internal/observability"
	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/cache"
	"github.com/atrium-loyalty/atrium-loyalty/internal/platform/db"
	"github.com/atrium-loyalty/atrium-loyalty/internal/shared"
	"github.com/atrium-loyalty/atrium-loyalty/internal/users"
	"github.com/atrium-loyalty/atrium-loyalty/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		os.Exit(serve(ctx, stop, cfg, logger))
	case "legacy-import":
		os.Exit(legacyImport(ctx, cfg, logger, os.Args[2:]))
	case "jobs":
		os.Exit(jobsCommand(ctx, cfg, os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "atrium: unknown command %q (expected serve, legacy-import or jobs)\n", command)
		os.Exit(1)
	}
}

// welcomeNotifier enqueues the welcome email through the jobs queue.
type welcomeNotifier struct {
	client *jobs.Client
}

func (n *welcomeNotifier) SendWelcome(ctx context.Context, email, name string) error {
	_, err := n.client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		To:      email,
		Subject: "Welcome to the loyalty program",
		Body:    "Hi " + name + ", your account is ready.",
	})
	return err
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	tokens := auth.NewTokenService(cfg.TokenSecret, auth.TokenTTLs{
		Login:      cfg.LoginTokenTTL,
		Verify:     cfg.VerifyTokenTTL,
		Membership: cfg.MembershipTokenTTL,
	})
	appRepo := auth.NewCachedRepository(auth.NewRepository(pool), redisClient, cfg.AppKeyCacheTTL)

	directory := membership.NewDirectoryProvider(pool)
	registry := membership.NewRegistry()
	registry.Register(membership.DirectoryPluginID, directory)

	userRepo := users.NewRepository(pool)
	manager := auth.NewManager(appRepo, tokens, userRepo, directory, registry)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	userService := users.NewService(userRepo)
	catalogService := catalog.NewService(catalog.NewRepository(pool))
	notifier := &welcomeNotifier{client: jobsClient}
	usersHandler := users.NewHandler(logger, manager, userService, catalogService, auditLogger, metrics, notifier, app.AuthRateLimiter())

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		UsersHandler: usersHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return 0
}

func legacyImport(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if cfg.LegacyPGDSN == "" {
		fmt.Fprintln(os.Stderr, "legacy-import: LEGACY_PG_DSN is not configured")
		return 1
	}

	sourcePool, err := db.New(ctx, cfg.LegacyPGDSN)
	if err != nil {
		logger.Error("connect legacy postgres", slog.Any("error", err))
		return 1
	}
	defer sourcePool.Close()

	targetPool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer targetPool.Close()

	importer, err := legacy.NewImporter(
		legacy.NewPGSource(sourcePool),
		legacy.NewPGTarget(targetPool),
		logger, observability.NewMetrics(), cfg.ImportBatchSize)
	if err != nil {
		logger.Error("init importer", slog.Any("error", err))
		return 1
	}

	opts := cli.LegacyImportOptions{}
	for _, arg := range args {
		switch arg {
		case "--json":
			opts.JSONOutput = true
		case "--results":
			opts.ShowResults = true
		default:
			fmt.Fprintf(os.Stderr, "legacy-import: unknown flag %q\n", arg)
			return 1
		}
	}
	return cli.NewLegacyImportCLI(importer).Run(ctx, opts)
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "jobs: expected subcommand trigger or stats")
		return 1
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: job name required")
			return 1
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 1
	}
}
