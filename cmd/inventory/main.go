package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"goflare.io/inventory"
	"goflare.io/inventory/api"
	"goflare.io/inventory/bundle"
	"goflare.io/inventory/config"
	"goflare.io/inventory/driver"
	"goflare.io/inventory/event"
	"goflare.io/inventory/stock"
)

func main() {
	app := &cli.App{
		Name:  "inventory",
		Usage: "inventory and bundle availability service",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dev",
				Usage:   "human readable debug logging",
				EnvVars: []string{"INVENTORY_DEV"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the NATS command consumer",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Action: migrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("dev") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func migrate(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	return driver.Migrate(cfg.DatabaseURL, logger)
}

func serve(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 建立外部連線
	db, err := driver.ConnectSQL(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = driver.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Info("redis address not set, inventory cache disabled")
	}

	natsConn, err := driver.ConnectNATS(cfg.NATSURL, "inventory-service", logger)
	if err != nil {
		return err
	}
	defer natsConn.Close()

	// 2. 組裝 repository 與 service
	stockRepo := stock.NewRepository(db.Pool, redisClient, cfg.CacheTTL, logger)
	bundleRepo := bundle.NewRepository(db.Pool, logger)
	eventRepo := event.NewRepository(db.Pool, logger)
	evaluator := bundle.NewEvaluator(stock.NewAvailabilityStore(db.Pool, logger), cfg.AvailabilityLimit, logger)

	eventManager := inventory.NewEventManager(natsConn, logger)
	svc := inventory.NewService(stockRepo, bundleRepo, evaluator,
		driver.NewTransactionManager(db.Pool, logger), eventManager,
		inventory.Options{
			DefaultLocation:   cfg.DefaultLocation,
			LowStockThreshold: cfg.LowStockThreshold,
		}, logger)

	// 3. 訂閱調整指令
	processor := inventory.NewCommandProcessor(svc, eventRepo, logger)
	workerPool := inventory.NewWorkerPool(cfg.WorkerPoolSize, cfg.WorkerQueue, processor, logger)
	if err = eventManager.SubscribeToCommands(workerPool); err != nil {
		return err
	}

	// 4. 啟動 HTTP 服務
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewHandler(svc, logger).Router(),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serverErr:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("failed to shut down server", zap.Error(shutdownErr))
	}
	if drainErr := eventManager.Drain(shutdownCtx); drainErr != nil {
		logger.Error("failed to drain command subscription", zap.Error(drainErr))
	}
	workerPool.Shutdown()

	return err
}
