package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/diffpreview"
	"github.com/spigell/livepatch/internal/livepatch"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var applyCmd = &cobra.Command{
	Use:   "apply [target]",
	Short: "Merge update instructions into a workspace file and write it back",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		runApply(cmd, target)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringP("snippet-file", "s", "", "file with update instructions (default is the built-in update)")
	applyCmd.Flags().BoolP("auto-approve", "y", false, "write the merged file without asking for confirmation")
	applyCmd.Flags().Bool("dry-run", false, "show the preview and exit without writing")
}

func runApply(cmd *cobra.Command, target string) {
	ctx := context.Background()

	rt := newRuntime()
	defer rt.close()

	instructions := ""
	if path, _ := cmd.Flags().GetString("snippet-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			rt.logger.Fatal("reading snippet file", zap.String("path", path), zap.Error(err))
		}
		instructions = string(data)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	applier := rt.applier(!dryRun)

	plan, err := applier.Plan(ctx, target, instructions)
	if err != nil {
		rt.logger.Fatal("planning update", zap.Error(err))
	}

	rt.logger.Info("merge planned",
		zap.String("target", plan.Target),
		zap.String("original_size", humanize.Bytes(uint64(len(plan.Original)))),
		zap.String("merged_size", humanize.Bytes(uint64(len(plan.Merged)))),
		zap.Bool("used_fallback", plan.UsedFallback),
		zap.String("fallback_reason", plan.FallbackReason),
	)

	fmt.Println(diffpreview.Colorize(diffpreview.View(plan.DiffPreview)))

	if dryRun {
		return
	}

	if autoApprove, _ := cmd.Flags().GetBool("auto-approve"); !autoApprove {
		prompt := promptui.Select{
			Label: fmt.Sprintf("Write %s?", plan.Target),
			Items: []string{PromptYes, PromptNo},
		}
		_, answer, err := prompt.Run()
		if err != nil {
			rt.logger.Fatal("exiting", zap.Error(err))
		}
		if answer != PromptYes {
			rt.logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	if err := applier.Commit(ctx, plan); err != nil {
		if errors.Is(err, livepatch.ErrConflict) {
			rt.logger.Fatal("target changed while waiting for confirmation, run apply again", zap.String("target", plan.Target))
		}
		rt.logger.Fatal("writing update", zap.Error(err))
	}

	rt.logger.Info("update applied", zap.String("target", plan.Target))
}
