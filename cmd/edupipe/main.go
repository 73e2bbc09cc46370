package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "edupipe",
	Short: "Discover, extract, and index educational resources",
	Long: `edupipe crawls an educational content catalog, extracts and enriches
each resource, and upserts the results into a vector search index.

The pipeline runs in four steps (index, extract, analyze, upsert) that
checkpoint their progress locally, so each step can be re-run on its own
and resumes where it left off.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose || strings.EqualFold(os.Getenv("EDUPIPE_LOG_LEVEL"), "debug") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		indexCmd,
		extractCmd,
		analyzeCmd,
		upsertCmd,
		runCmd,
		serveCmd,
		searchCmd,
		statusCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
