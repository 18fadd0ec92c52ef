package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lodgic/authd/internal/container"
	"github.com/lodgic/authd/internal/database"
)

func main() {
	ctx := context.Background()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	// Graceful shutdown on interruption
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	c, err := container.New(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	migrator := database.NewMigrator(c.Database)
	if err := migrator.Up(ctx, []database.Migration{
		database.NewMigrationCreateTables(),
	}); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	srvErr := make(chan error, 1)
	go func() {
		c.Logger.Info("listening and serving", "addr", c.HttpServer.Addr)
		srvErr <- c.HttpServer.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		c.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.HttpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}

		c.Logger.Info("shutdown completed")
	}

	return nil
}
