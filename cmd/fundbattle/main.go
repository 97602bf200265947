package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fundbattle/battle-engine/internal/config"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()

	root := &cobra.Command{
		Use:          "fundbattle",
		Short:        "Fund trading battle: solo practice and multiplayer rooms",
		SilenceUsage: true,
	}
	var verbose bool
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "room service base URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client diagnostics to stderr")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelError
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	root.AddCommand(
		newSoloCmd(&cfg),
		newHostCmd(&cfg),
		newJoinCmd(&cfg),
		newLinkCmd(&cfg),
		newResultsCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
