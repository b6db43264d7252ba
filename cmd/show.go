package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/diffpreview"
	"github.com/spigell/livepatch/internal/storage/store"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last applied patch",
	Run: func(_ *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		state, err := rt.store().GetSystemState(context.Background())
		if errors.Is(err, store.ErrNotFound) {
			fmt.Println(diffpreview.EmptyView)
			return
		}
		if err != nil {
			rt.logger.Fatal("reading system state", zap.Error(err))
		}

		fmt.Printf("%s updated %s\n\n", state.TargetFile, humanize.Time(state.LastUpdate))
		fmt.Println(diffpreview.Colorize(diffpreview.View(state.LastPatch)))
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
