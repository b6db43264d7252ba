package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/events"
	"github.com/spigell/livepatch/internal/freestyle"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Trigger a deployment of the workspace",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()

		rt := newRuntime()
		defer rt.close()

		client := rt.deployer()
		if !client.Configured() {
			rt.logger.Fatal("freestyle is not configured",
				zap.String("hint", "set FREESTYLE_TOKEN and FREESTYLE_PROJECT_ID"))
		}

		deploy, err := client.Trigger(ctx)
		if err != nil {
			rt.sink.Emit(events.ComponentDeploy, events.LevelError, "Deploy trigger failed: "+err.Error())
			rt.logger.Fatal("triggering deploy", zap.Error(err))
		}
		fmt.Printf("%s %s\n", deploy.ID, deploy.Status)

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return
		}

		status, err := client.Wait(ctx, deploy.ID, rt.config.Deploy.PollInterval, rt.config.Deploy.PollAttempts,
			func(s *freestyle.DeployStatus) {
				rt.logger.Info("deploy status", zap.String("deploy_id", s.ID), zap.String("phase", string(s.Phase)))
			})
		if err != nil {
			if status != nil && status.Log != "" {
				fmt.Println(status.Log)
			}
			rt.sink.Emit(events.ComponentDeploy, events.LevelError, err.Error())
			rt.logger.Fatal("waiting for deploy", zap.Error(err))
		}

		rt.sink.Emit(events.ComponentDeploy, events.LevelSuccess, "Deploy "+status.ID+" is live")
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().Bool("wait", false, "poll until the deployment finishes")
}
