package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bgricker/stagehand/internal/cache"
	"github.com/bgricker/stagehand/internal/report"
	"github.com/bgricker/stagehand/internal/runner"
	"github.com/bgricker/stagehand/internal/runner/executor"
	"github.com/bgricker/stagehand/internal/server"
	"github.com/bgricker/stagehand/internal/trigger"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a webhook server that triggers pipeline runs",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8484", "listen address")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return fmt.Errorf("parse --addr: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	// Pipelines are re-read per run so edits between webhooks take effect.
	runFunc := func(ctx context.Context, ev trigger.Event) (report.Summary, error) {
		pipelines, err := loadPipelines(root, cfg)
		if err != nil {
			return report.Summary{}, err
		}
		filtered, err := applyFilters(pipelines, cfg)
		if err != nil {
			return report.Summary{}, err
		}

		shell, docker, _, err := buildExecutors(cfg, filtered, logger)
		if err != nil {
			return report.Summary{}, err
		}
		var dockerExec executor.Executor
		if docker != nil {
			defer docker.Close()
			dockerExec = docker
		}

		runOpts := runner.Options{
			Root:        root,
			Verbose:     cfg.Verbose,
			DryRun:      cfg.DryRun,
			TailLines:   20,
			Concurrency: cfg.Concurrency,
			Shell:       shell,
			Docker:      dockerExec,
			Cache:       cache.New(cacheDir(cfg, root)),
			Event:       ev,
			Logger:      logger,
		}

		summary := report.Summary{Status: report.RunSucceeded}
		for _, p := range filtered {
			_, plSummary, err := runner.New(runOpts).Run(ctx, p)
			if err != nil {
				return summary, err
			}
			summary = mergeSummaries(summary, plSummary)
		}
		return summary, nil
	}

	srv, err := server.New(server.Options{RunFunc: runFunc, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.Start(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
