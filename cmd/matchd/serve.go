package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unimatch/match-engine/internal/infrastructure/scheduler"
	httpapi "github.com/unimatch/match-engine/internal/interface/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the match API, react to profile events and warm the cache on schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
		return serve(!noScheduler)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("no-scheduler", false, "do not run scheduled jobs in this process")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serve(withScheduler bool) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	log.Info("starting match engine", zap.String("version", version), zap.String("store", cfg.Store.Backend), zap.String("cache", cfg.Cache.Backend))

	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.registerHandlers(); err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled && withScheduler {
		if sched, err = c.newScheduler(); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		logJobs(sched, log)
	}

	server := httpapi.NewServer(cfg.HTTP, c.matches, c.health, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := c.shutdownContext()
		defer cancel()

		if sched != nil {
			if err := sched.Stop(); err != nil {
				log.Warn("stopping scheduler", zap.Error(err))
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("match engine stopped")
	return nil
}
