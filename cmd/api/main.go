package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deskhooks/internal/api"
	"deskhooks/internal/auth"
	"deskhooks/internal/buildinfo"
	"deskhooks/internal/config"
	"deskhooks/internal/logger"
	"deskhooks/internal/metrics"
	"deskhooks/internal/secrets"
	"deskhooks/internal/webhooks"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml")
	envPath := flag.String("env", ".", "directory holding .env files")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Debug: cfg.Debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	st, closeStore, err := api.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	sealer, err := secrets.NewSealerFromString(cfg.Secrets.Key)
	if err != nil {
		return fmt.Errorf("init secrets: %w", err)
	}
	exec := webhooks.NewExecutor(webhooks.NewHTTPClient(), cfg.Webhooks.Timeout)

	svc := webhooks.NewService(st, sealer, exec, log)
	svc.AllowInsecureURLs = cfg.Webhooks.AllowInsecureURLs
	pub := webhooks.NewPublisher(st, log)
	worker := webhooks.NewWorker(st, sealer, exec, log, webhooks.WorkerConfig{
		PollInterval:  cfg.Webhooks.PollInterval,
		BatchSize:     cfg.Webhooks.BatchSize,
		Concurrency:   cfg.Webhooks.Concurrency,
		Lease:         cfg.Webhooks.Lease,
		RatePerSecond: cfg.Webhooks.RatePerSecond,
		RateBurst:     cfg.Webhooks.RateBurst,
		Retry: webhooks.RetryPolicy{
			MaxAttempts: cfg.Webhooks.MaxAttempts,
			BaseDelay:   cfg.Webhooks.BaseDelay,
			MaxDelay:    cfg.Webhooks.MaxDelay,
		},
	})

	verifier := auth.NewVerifier(cfg.Auth.Mode, []byte(cfg.Auth.HMACSecret))
	verifier.JWKSURL = cfg.Auth.JWKSURL
	srv := api.NewServer(svc, pub, st, verifier, cfg, log)
	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		log.Info("API listening", zap.String("addr", httpSrv.Addr), zap.String("version", buildinfo.Version), zap.String("auth_mode", cfg.Auth.Mode))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
