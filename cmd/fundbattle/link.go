package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundbattle/battle-engine/internal/config"
	"github.com/fundbattle/battle-engine/internal/joinlink"
	"github.com/fundbattle/battle-engine/internal/player"
)

func newLinkCmd(cfg *config.CLIConfig) *cobra.Command {
	base := cfg.PublicURL
	cmd := &cobra.Command{
		Use:   "link <room>",
		Short: "Print the join link and QR code for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if base == "" {
				return errors.New("no public URL: set BATTLE_PUBLIC_URL or --base")
			}
			link, err := joinlink.URL(base, args[0])
			if err != nil {
				return err
			}
			printJoinLink(os.Stdout, link)
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", base, "origin of the join link")
	return cmd
}

func newResultsCmd(cfg *config.CLIConfig) *cobra.Command {
	var season, fund string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show the hall of fame",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			b, err := player.NewRemote(cfg.APIBaseURL, nil, nil).Results(ctx, season, fund)
			if err != nil {
				return err
			}
			renderGlobal(b)
			return nil
		},
	}
	cmd.Flags().StringVar(&season, "season", "", "filter by season id")
	cmd.Flags().StringVar(&fund, "fund", "", "filter by fund id")
	return cmd
}
