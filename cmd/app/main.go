package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inpaint-backend/internal/config"
	inferAdapter "inpaint-backend/internal/infra/adapters/inference"
	pg "inpaint-backend/internal/infra/db/postgres"
	"inpaint-backend/internal/infra/logging"
	"inpaint-backend/internal/infra/metrics"
	red "inpaint-backend/internal/infra/redis"
	"inpaint-backend/internal/infra/sched"
	"inpaint-backend/internal/infra/web"
	"inpaint-backend/internal/infra/worker"
	"inpaint-backend/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logging, relaxed validation)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()

	// ---- Repositories ----
	accountRepo := pg.NewAccountRepo(pool)
	txnRepo := pg.NewTransactionRepo(pool)
	datasetRepo := pg.NewDatasetRepo(pool)
	jobRepo := pg.NewJobRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Queue ----
	queue := red.NewJobQueue(redisClient, cfg.Queue, logger)
	go queue.Run(ctx)

	// ---- Adapters ----
	engine := inferAdapter.NewHTTPBlackBox(cfg.Inference, logger)

	// ---- Use cases ----
	calc := usecase.NewCostCalculator()
	tokenUC := usecase.NewTokenService(accountRepo, txnRepo, txManager, cfg.Ledger.ReservationTTL, logger)
	datasetUC := usecase.NewDatasetService(datasetRepo, calc, tokenUC, logger)
	inferUC := usecase.NewInferenceService(datasetRepo, jobRepo, calc, tokenUC, queue, logger)

	// ---- Workers ----
	pool2 := worker.NewPool(cfg.Queue.Concurrency, logger)
	pool2.Start(ctx)
	processor := worker.NewInferenceProcessor(queue, engine, jobRepo, datasetRepo, tokenUC, cfg.Queue.Visibility, logger)
	processor.Start(ctx, pool2)

	// ---- Ledger sweeper ----
	sweeper := sched.NewLedgerSweeper(cfg.Ledger.SweepInterval, cfg.Ledger.StalePendingAge, tokenUC, logger)
	go func() { _ = sweeper.Run(ctx) }()

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.Auth.JWTSecret, 24*time.Hour)
	srv := web.NewServer(inferUC, datasetUC, tokenUC, engine, auth, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	cancel()
	pool2.Stop()
}
