package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"partnerflow/auth"
	"partnerflow/catalog"
	"partnerflow/clock"
	"partnerflow/commission"
	"partnerflow/config"
	"partnerflow/db"
	"partnerflow/lead"
	"partnerflow/logging"
	"partnerflow/partner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "partnerflow api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PARTNERFLOW_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Server.DatabaseURL, cfg.Server.MaxConns)
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	var cat *catalog.Catalog
	if cfg.CatalogPath != "" {
		if cat, err = catalog.Load(cfg.CatalogPath); err != nil {
			return err
		}
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.Server.JWTSecret).
		WithLogger(logger.Named("auth")).
		WithOTPSender(auth.LogSender{Logger: logger.Named("otp")}).
		WithTTLs(cfg.Server.TokenTTL, cfg.Server.OTPTTL)
	partnerRepo := partner.NewRepository()
	partnerService := partner.NewService(pool, partnerRepo).WithLogger(logger.Named("partner"))
	projector := partner.NewProjector(pool, partnerRepo).
		WithClock(clock.Real()).
		WithInterval(cfg.Server.ProjectorInterval).
		WithBatchSize(cfg.Server.ProjectorBatch).
		WithLogger(logger.Named("projector"))

	server := &Server{
		authService:       authService,
		partnerService:    partnerService,
		leadService:       lead.NewService(pool, lead.NewRepository(pool)).WithLogger(logger.Named("lead")),
		commissionService: commission.NewService(commission.NewRepository(pool)),
		catalog:           cat,
		logger:            logger.Named("http"),
		now:               time.Now,
		maxUploadBytes:    cfg.Server.MaxUploadBytes,
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return projector.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
