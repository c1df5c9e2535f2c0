package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// Environment variables that seed flag defaults. A .env file in the
// working directory is loaded first.
const (
	envBaseURL     = "QUIZLINK_BASE_URL"
	envName        = "QUIZLINK_NAME"
	envStore       = "QUIZLINK_STORE"
	envMetricsAddr = "QUIZLINK_METRICS_ADDR"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "quizlink",
		Short: "Play a live quiz from the terminal",
		Long: `quizlink joins a live quiz game by pin and plays it as a
regular player. It keeps the session alive across network drops and can
resume a saved session later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("base-url", envOr(envBaseURL, "https://kahoot.it"), "game host")

	logger := func() *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	rootCmd.AddCommand(
		playCmd(logger),
		resumeCmd(logger),
		reserveCmd(logger),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quizlink %s (%s)\n", version, commit)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
