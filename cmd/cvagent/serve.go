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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the resume inbox watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("inbox", "", "directory to watch for resumes (overrides ingest.inbox_dir)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = c.v.BindPFlag("ingest.inbox_dir", cmd.Flags().Lookup("inbox"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	a, logger, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	api, err := a.NewServer()
	if err != nil {
		return err
	}

	watcher, err := a.NewInbox()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if watcher != nil {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("inbox: %w", err)
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Warn("stopping inbox watcher", zap.Error(err))
			}
		}()
	}

	cfg := a.Config.Server
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
