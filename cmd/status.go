package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/storage/migrate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which integrations are configured and the deploy state",
	Run: func(cmd *cobra.Command, _ []string) {
		rt := newRuntime()
		defer rt.close()

		integrations := rt.integrations()
		names := make([]string, 0, len(integrations))
		for name := range integrations {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			state := "error"
			if integrations[name] {
				state = "connected"
			}
			fmt.Printf("%-10s %s\n", name, state)
		}

		rt.store()
		if version, err := migrate.Version(rt.db); err == nil {
			fmt.Printf("%-10s schema v%d (%s)\n", "storage", version, rt.config.DB)
		} else {
			rt.logger.Warn("reading schema version", zap.Error(err))
		}

		id, _ := cmd.Flags().GetString("deploy")
		if id == "" {
			return
		}

		status, err := rt.deployer().Status(context.Background(), id)
		if err != nil {
			rt.logger.Fatal("getting deploy status", zap.Error(err))
		}
		fmt.Printf("%-10s %s %s (%s)\n", "deploy", status.ID, status.Phase, status.Status)
		if status.Log != "" {
			fmt.Println(status.Log)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("deploy", "", "also report the status of this deploy id")
}
