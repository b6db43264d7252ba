package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/spigell/livepatch/internal/diffpreview"
)

var diffCmd = &cobra.Command{
	Use:   "diff <before> <after>",
	Short: "Print the positional change summary between two files",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		before, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("reading %s: %v", args[0], err)
		}
		after, err := os.ReadFile(args[1])
		if err != nil {
			log.Fatalf("reading %s: %v", args[1], err)
		}

		preview := diffpreview.Render(string(before), string(after))
		if color, _ := cmd.Flags().GetBool("color"); color {
			fmt.Println(diffpreview.Colorize(diffpreview.View(preview)))
			return
		}
		fmt.Println(preview)
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().Bool("color", false, "render the summary with terminal colours")
}
