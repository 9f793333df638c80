package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run event handlers and scheduled jobs without the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		once, _ := cmd.Flags().GetString("once")
		return runWorker(once)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().String("once", "", "run the named job once, print its result and exit")
}

func runWorker(once string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	sched, err := c.newScheduler()
	if err != nil {
		return err
	}

	if once != "" {
		result, err := sched.RunNow(ctx, once)
		if err != nil && result.JobName == "" {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			return encErr
		}
		return err
	}

	if err := c.registerHandlers(); err != nil {
		return err
	}
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker only handles events")
	} else {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		logJobs(sched, log)
	}

	log.Info("worker started", zap.String("version", version))
	<-ctx.Done()
	log.Info("shutting down worker")

	if cfg.Scheduler.Enabled {
		if err := sched.Stop(); err != nil {
			log.Warn("stopping scheduler", zap.Error(err))
		}
	}
	return nil
}
