package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/filtering"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List stored candidates that pass the configured filters",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		rt := newRuntime()
		defer rt.close()

		candidates, err := rt.store().ListCandidates(ctx)
		if err != nil {
			rt.logger.Fatal("listing candidates", zap.Error(err))
		}

		steps := filtering.Default()
		filtered, err := filtering.Run(ctx, &rt.config.Filters, filtering.Deps{Logger: rt.logger}, steps, candidates)
		if err != nil {
			rt.logger.Fatal("filtering failed", zap.Error(err))
		}

		for _, status := range filtering.Describe(steps) {
			rt.logger.Debug("filter status",
				zap.String("name", status.Name),
				zap.Bool("enabled", status.Enabled),
				zap.Any("details", status.Details),
			)
		}

		if len(filtered) == 0 {
			rt.logger.Info("no candidates left", zap.Int("stored", len(candidates)))
			return
		}

		for _, c := range filtered {
			name := c.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%s  %-24s overall %3d  soft %3d  %-14s %s\n",
				c.ID, name, c.OverallScore, c.SoftSkillsScore,
				humanize.Time(c.CreatedAt), strings.Join(c.Skills, ", "))
		}
	},
}

func init() {
	rootCmd.AddCommand(candidatesCmd)

	candidatesCmd.Flags().Int("min-score", 0, "drop candidates with a lower overall score")
	candidatesCmd.Flags().Int("min-soft-skills", 0, "drop candidates with a lower soft skills score")
	candidatesCmd.Flags().StringSlice("skill", nil, "required skill, may be repeated")

	viper.BindPFlag("filters.min_score", candidatesCmd.Flags().Lookup("min-score"))
	viper.BindPFlag("filters.min_soft_skills", candidatesCmd.Flags().Lookup("min-soft-skills"))
	viper.BindPFlag("filters.required_skills", candidatesCmd.Flags().Lookup("skill"))
}
