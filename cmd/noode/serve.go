package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/omen4impact/noode/internal/audit"
	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/internal/orchestrator"
	"github.com/omen4impact/noode/internal/server"
)

var serveDebugLog string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator",
	Long: `Start the coordination core and its HTTP API.

The coordinator recovers any in-flight work recorded in the audit store,
then accepts work requests, worker enrolments, and review traffic until
interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDebugLog, "debug-log", "", "Write a debug log to this path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = audit.DefaultPath()
	}
	store, err := audit.Open(storePath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	logger, err := orchestrator.NewDebugLogger(serveDebugLog)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	svc, err := orchestrator.New(cfg, store, orchestrator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("assemble coordinator: %w", err)
	}
	svc.Start()
	defer svc.Stop()

	if err := svc.Recover(); err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	api := server.New(svc)
	done := make(chan struct{})
	go api.Broadcast(done)
	defer close(done)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	fmt.Printf("%s coordinator listening on %s (store: %s)\n",
		color.GreenString("✓"), cfg.Server.Addr, storePath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Printf("%s shutting down\n", color.YellowString("⚠"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
