package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/veilnet-io/veilnet/internal/application/fleet"
	"github.com/veilnet-io/veilnet/internal/application/subscription"
	"github.com/veilnet-io/veilnet/internal/application/traffic"
	"github.com/veilnet-io/veilnet/internal/infrastructure/cache"
	"github.com/veilnet-io/veilnet/internal/infrastructure/config"
	"github.com/veilnet-io/veilnet/internal/infrastructure/database"
	"github.com/veilnet-io/veilnet/internal/infrastructure/panel"
	"github.com/veilnet-io/veilnet/internal/infrastructure/persistence/models"
	"github.com/veilnet-io/veilnet/internal/infrastructure/repository"
	"github.com/veilnet-io/veilnet/internal/infrastructure/scheduler"
	"github.com/veilnet-io/veilnet/internal/infrastructure/security"
	"github.com/veilnet-io/veilnet/internal/infrastructure/token"
	httpRouter "github.com/veilnet-io/veilnet/internal/interfaces/http"
	"github.com/veilnet-io/veilnet/internal/shared/biztime"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

var (
	env         string
	autoMigrate bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long:  `Start the veilnet HTTP server with specified configuration.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Automatically run database migrations on startup (not recommended for production)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Server.Mode = mapEnvToGinMode(env)

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := biztime.Init("UTC"); err != nil {
		return fmt.Errorf("failed to initialize business timezone: %w", err)
	}

	log := logger.NewLogger()
	log.Infow("starting server", "environment", env, "auto_migrate", autoMigrate)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
	}

	if err := database.Init(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	if autoMigrate {
		if err := database.Get().AutoMigrate(
			&models.SubscriberModel{},
			&models.NodeModel{},
			&models.DailyTrafficModel{},
			&models.AccessLogModel{},
		); err != nil {
			return fmt.Errorf("auto-migration failed: %w", err)
		}
		log.Infow("auto-migration completed")
	}

	subscriberRepo := repository.NewSubscriberRepository(database.Get(), log)
	nodeRepo := repository.NewNodeRepository(database.Get(), log)
	dailyRepo := repository.NewDailyTrafficRepository(database.Get(), log)
	accessLogRepo := repository.NewAccessLogRepository(database.Get(), log)

	codec := token.NewCodec(cfg.Token.Secret, cfg.Token.TTL())
	factory := panel.NewFactory(panel.Options{
		RetryMaxElapsed: cfg.Fleet.PanelRetryMaxElapsed(),
	}, log)

	guard := security.NewGuard(cfg.Security, log)
	counters := cache.NewNodeTrafficCache(cfg.Traffic.StalenessCeiling())

	var responses cache.SubscriptionConfigCache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		responses = cache.NewRedisSubscriptionConfigCache(redisClient, cfg.Subscription.CacheTTL())
		log.Infow("using redis subscription cache", "addr", cfg.Redis.GetAddr())
	} else {
		responses = cache.NewMemorySubscriptionConfigCache(cfg.Subscription.CacheTTL())
		log.Infow("using in-memory subscription cache")
	}

	reconciler := fleet.NewReconciler(subscriberRepo, nodeRepo, factory, codec, cfg.Fleet, log)
	ledger := traffic.NewLedger(subscriberRepo, nodeRepo, dailyRepo, factory, reconciler, counters, cfg.Traffic, cfg.Fleet, log)
	subscriptionSvc := subscription.NewService(codec, guard, subscriberRepo, reconciler, responses, accessLogRepo, cfg.Subscription, log)

	schedulerManager, err := scheduler.NewSchedulerManager(log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	notifier := traffic.NewLogNotifier(log)
	if err := schedulerManager.RegisterTrafficJobs(
		traffic.NewSyncJob(ledger, notifier),
		traffic.NewResetJob(ledger, notifier),
		traffic.NewSnapshotJob(ledger),
		time.Duration(cfg.Traffic.SyncIntervalMinutes)*time.Minute,
	); err != nil {
		return fmt.Errorf("failed to register traffic jobs: %w", err)
	}
	if err := schedulerManager.RegisterSweepJobs(guard, counters); err != nil {
		return fmt.Errorf("failed to register sweep jobs: %w", err)
	}

	schedulerManager.Start()
	defer schedulerManager.Stop()

	router := httpRouter.NewRouter(subscriptionSvc, reconciler, ledger, guard, cfg.Admin, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "address", cfg.Server.GetAddr(), "mode", cfg.Server.Mode)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
		return err
	}

	log.Infow("server exited gracefully")
	return nil
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
