package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unimatch/match-engine/config"
	"github.com/unimatch/match-engine/internal/infrastructure/catalogfile"
	"github.com/unimatch/match-engine/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file-or-dir>",
	Short: "Load courses, programs and student profiles from YAML into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return seed(args[0], dryRun)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().Bool("dry-run", false, "validate the files without writing anything")
}

func seed(path string, dryRun bool) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	bundle, err := catalogfile.Load(path)
	if err != nil {
		return err
	}
	log.Info("seed files valid",
		zap.String("path", path),
		zap.Int("courses", len(bundle.Courses)),
		zap.Int("programs", len(bundle.Programs)),
		zap.Int("students", len(bundle.Students)),
	)
	if dryRun {
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	c, err := newComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := catalogfile.NewApplier(c.catalogWriter, c.profileWriter, c.bus, log).Apply(ctx, bundle)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}

	// With a distributed bus the running instances receive the profile events.
	// Otherwise a shared cache has to be invalidated from here.
	if cfg.Cache.Backend == config.CacheRedis && !cfg.EventBus.Distributed {
		for _, s := range bundle.Students {
			if err := c.matches.Invalidate(ctx, s.ID); err != nil {
				log.Warn("invalidate seeded student", logger.StudentID(s.ID), zap.Error(err))
			}
		}
	}

	fmt.Printf("seeded %d courses, %d programs, %d students\n", res.Courses, res.Programs, res.Students)
	return nil
}
