package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/scoring"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <resume-file>",
	Short: "Score a resume and store the candidate",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()

		rt := newRuntime()
		defer rt.close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			rt.logger.Fatal("reading resume", zap.String("path", args[0]), zap.Error(err))
		}
		text := scoring.DocumentText(filepath.Base(args[0]), data)

		scorer, err := rt.scorer(ctx)
		if err != nil {
			rt.logger.Fatal("preparing scorer", zap.Error(err))
		}

		analysis, err := scorer.Analyze(ctx, text)
		if err != nil {
			rt.logger.Fatal("analyzing resume", zap.Error(err))
		}

		candidate, err := rt.store().CreateCandidate(ctx, *analysis, text)
		if err != nil {
			rt.logger.Fatal("storing candidate", zap.Error(err))
		}

		rt.logger.Info("candidate stored", zap.String("candidate_id", candidate.ID))

		pretty, _ := json.MarshalIndent(candidate, "", "  ")
		fmt.Println(string(pretty))
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
