package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.GetInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
