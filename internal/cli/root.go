// Package cli wires the cobra command surface: run (batch merge), analyze
// (analysis-only dry run), and version.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/config"
)

var (
	cfgFile   string
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:   "mkvsync <command>",
	Short: "Batch MKV remuxing with sample-accurate cross-source synchronization",
	Long: `mkvsync assembles "best of each" MKV releases: reference video from one
source, audio from another, subtitles from a third. It measures per-source
timing offsets from the raw audio, corrects PAL speed-up, linear drift and
stepped delays, shifts subtitles and chapters consistently, and hands the
final plan to mkvmerge.

Example:
  mkvsync run --jobs jobs.json`,
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is XDG config dir)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")
}

func initConfig() {
	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
	if err := config.InitConfig(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
}
