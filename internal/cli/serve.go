package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/passculture/pass-culture-core/internal/handler"
	"github.com/passculture/pass-culture-core/internal/jobs"
	"github.com/passculture/pass-culture-core/internal/middleware"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	logger := opts.logger
	cfg := opts.cfg

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET is empty, tokens are only valid until restart")
	}
	auth, err := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("auth initialization: %w", err)
	}
	h := handler.NewHandler(a.deposits, a.pricing, a.collective, logger, auth)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Периодические задачи
	g.Go(func() error {
		jobs.NewScheduler(logger, a.jobs()...).Run(ctx)
		return nil
	})

	// HTTP-сервер
	g.Go(func() error {
		logger.Info("starting passculture server", zap.String("addr", cfg.RunAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
