package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	httpapi "github.com/unimatch/match-engine/internal/interface/http"
)

var scoreCmd = &cobra.Command{
	Use:   "score <student-id>",
	Short: "Compute the ranked matches of one student and print them as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		limit, _ := cmd.Flags().GetInt("limit")
		cached, _ := cmd.Flags().GetBool("cached")
		return score(args[0], mode, limit, cached)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringP("mode", "m", string(matching.ModeBalanced), "weighting mode: BALANCED, ACADEMIC, LOCATION or INTEREST")
	scoreCmd.Flags().IntP("limit", "n", 10, "number of programs to print, 0 prints all")
	scoreCmd.Flags().Bool("cached", false, "read through the match cache instead of computing fresh")
}

func score(studentID, modeName string, limit int, cached bool) error {
	mode, err := matching.ParseMode(modeName)
	if err != nil {
		return err
	}
	top, err := shared.NewTopN(limit)
	if err != nil {
		return err
	}

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

	start := time.Now()
	var results []matching.MatchResult
	if cached {
		results, err = c.matches.GetMatches(ctx, studentID, mode)
	} else {
		results, err = c.matches.Compute(ctx, studentID, mode)
	}
	if err != nil {
		return err
	}
	log.Debug("scored", zap.Duration("took", time.Since(start)), zap.Int("programs", len(results)))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.MatchesResponse{
		StudentID: studentID,
		Mode:      mode,
		Total:     len(results),
		Results:   results[:top.Apply(len(results))],
	})
}
