package cli

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run analysis only and report per-source delays without muxing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), true)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&jobsFile, "jobs", "j", "", "JSON file listing the batch's jobs")
	_ = analyzeCmd.MarkFlagRequired("jobs")
	rootCmd.AddCommand(analyzeCmd)
}
