package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaayaanAi/mcp-crypto-news/internal/update"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "mcp-crypto-news",
	Short: "Crypto news sentiment analysis service",
	Long: `mcp-crypto-news classifies cryptocurrency news by market impact using a
fast keyword lexicon backed by AI confirmation for uncertain verdicts.

Run "serve" to expose the HTTP analysis API, or "scan" to analyze the
configured news feeds once.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")

	versionCmd.Flags().BoolVar(&flagVersionCheck, "check", false, "check for a newer release")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statsCmd)
}

var flagVersionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-crypto-news %s (commit: %s, built: %s)\n", version, commit, date)
		if flagVersionCheck {
			if r := update.Check(cmd.Context(), version); r != nil {
				fmt.Printf("A newer version is available: %s\n", r.LatestVersion)
			} else {
				fmt.Println("You are up to date.")
			}
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// parseSince parses durations with an extra "Nd" day syntax.
func parseSince(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
