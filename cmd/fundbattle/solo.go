package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fundbattle/battle-engine/internal/config"
	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/player"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/series"
)

const soloHelp = `commands:
  buy <amount|NN%|all>    invest and move to the next day
  sell <amount|NN%|all>   redeem and move to the next day
  next [n]                skip n days (default 1)
  chart                   recent prices and indicators
  end                     finish the game
  help                    this list`

func newSoloCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		fundID   string
		years    int
		seed     uint64
		export   string
		submitAs string
		season   string
		river    = cfg.River
		mode     = string(cfg.River.Mode)
	)
	cmd := &cobra.Command{
		Use:   "solo",
		Short: "Play a turn-based practice game",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := indicator.ParseBandMode(mode)
			if err != nil {
				return err
			}
			river.Mode = m
			if err := river.Validate(); err != nil {
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			rng := rand.New(rand.NewPCG(seed, seed>>1))

			var provider series.Provider
			if cfg.FundBaseURL != "" {
				provider = series.NewHTTPProvider(cfg.FundBaseURL, series.DefaultLibrary())
			}
			loaded := series.NewFallback(provider, rng).Load(cmd.Context(), fundID)
			if loaded.Notice != "" {
				printWarn(loaded.Notice)
			}

			game, err := player.NewSolo(loaded.Series, player.SoloConfig{
				Years:           years,
				StopLossPercent: cfg.StopLossPercent,
				Overlay:         river,
			}, rng)
			if err != nil {
				return err
			}
			printInfo(soloHelp)
			if err := playSolo(game); err != nil {
				return err
			}

			report := game.Report()
			renderReport(report)
			if export != "" {
				if err := exportReport(export, report); err != nil {
					return err
				}
			}
			if submitAs != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				remote := player.NewRemote(cfg.APIBaseURL, nil, nil)
				res, err := remote.SubmitResult(ctx, game.Result(uuid.NewString(), submitAs, season))
				if err != nil {
					return fmt.Errorf("submit result: %w", err)
				}
				printSuccess(fmt.Sprintf("Result %s submitted.", res.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fundID, "fund", series.SyntheticFundID, "fund id to play, or random")
	cmd.Flags().IntVar(&years, "years", room.DefaultYears, "game length in years")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&export, "export", "", "write the final report to this CSV file")
	cmd.Flags().StringVar(&submitAs, "submit-as", "", "submit the result to the hall of fame under this name")
	cmd.Flags().StringVar(&season, "season", model.PracticeSeason, "season id for the submitted result")
	cmd.Flags().StringVar(&mode, "river", mode, "river band mode: fixed or dynamic")
	cmd.Flags().Float64Var(&river.WidthPercent, "river-width", river.WidthPercent, "fixed river half-width in percent of MA60")
	cmd.Flags().Float64Var(&river.K, "river-k", river.K, "dynamic river width in standard deviations")
	return cmd
}

func playSolo(game *player.Solo) error {
	for !game.Ended() {
		renderView(game.View(), game.Date())
		words, err := readCommand("solo")
		if errors.Is(err, io.EOF) {
			game.End()
			return nil
		}
		if err != nil {
			return err
		}
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "buy", "b", "sell", "s":
			kind := model.Buy
			if strings.HasPrefix(words[0], "s") {
				kind = model.Sell
			}
			if len(words) < 2 {
				printWarn("usage: " + words[0] + " <amount|NN%|all>")
				continue
			}
			amount, err := parseAmount(words[1], func(pct float64) float64 { return game.QuickAmount(kind, pct) })
			if err != nil {
				printWarn(err.Error())
				continue
			}
			trade := game.Buy
			if kind == model.Sell {
				trade = game.Sell
			}
			tx, err := trade(amount)
			if err != nil {
				printError(err.Error())
				continue
			}
			renderTransaction(tx)
		case "next", "n":
			n := 1
			if len(words) > 1 {
				fmt.Sscanf(words[1], "%d", &n)
			}
			for i := 0; i < n && !game.Ended(); i++ {
				if err := game.Next(); err != nil && !errors.Is(err, room.ErrSeriesExhausted) {
					return err
				}
			}
		case "chart", "c":
			renderChart(game.Chart(), 15)
		case "end", "quit", "q":
			game.End()
		case "help", "h", "?":
			printInfo(soloHelp)
		default:
			printWarn("unknown command; type help")
		}
	}
	return nil
}
