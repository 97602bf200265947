package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fundbattle/battle-engine/internal/config"
	"github.com/fundbattle/battle-engine/internal/joinlink"
	"github.com/fundbattle/battle-engine/internal/metrics"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/player"
	"github.com/fundbattle/battle-engine/internal/room"
	"github.com/fundbattle/battle-engine/internal/session"
)

const joinHelp = `commands:
  buy <amount|NN%|all>    invest at today's price
  sell <amount|NN%|all>   redeem at today's price
  hold / release          pause the room clock while you decide
  view                    your position
  chart                   recent prices and the host's overlays
  board                   room leaderboard
  rescue                  restart near bankruptcy at a ROI penalty
  report                  summary of your game so far
  export <file.csv>       write the report as CSV
  leave                   forget this session and quit
  quit                    quit; rejoin later with the same command`

const reconnectDelay = 2 * time.Second

func newJoinCmd(cfg *config.CLIConfig) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "join <room|link>",
		Short: "Join a room as a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := joinlink.Parse(args[0])
			if err != nil {
				return err
			}
			sessions, closeSessions, err := openSessions(cfg)
			if err != nil {
				return err
			}
			defer closeSessions()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server error", "err", err)
					}
				}()
				defer srv.Close()
			}

			remote := player.NewRemote(cfg.APIBaseURL, nil, nil)
			client := player.NewClient(remote, sessions, player.Config{
				StopLossPercent:  cfg.StopLossPercent,
				SnapshotInterval: cfg.SnapshotInterval,
			})

			resumed, err := client.Open(ctx, roomID)
			if errors.Is(err, room.ErrRoomNotFound) {
				return fmt.Errorf("room %s does not exist or has closed", roomID)
			}
			if err != nil {
				return err
			}
			if resumed {
				printSuccess("Welcome back, " + client.View().Nickname + ".")
			} else if err := login(ctx, client); err != nil {
				return err
			}

			go follow(ctx, client, remote)
			printInfo(joinHelp)
			return (&playerConsole{client: client, remote: remote}).loop(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve client metrics on this address, e.g. :9101")
	return cmd
}

// openSessions keeps sessions in Redis when configured so a player can
// resume from another terminal, and on disk otherwise.
func openSessions(cfg *config.CLIConfig) (session.Store, func(), error) {
	if cfg.SessionRedisURL == "" {
		st, err := session.NewFileStore(cfg.SessionDir)
		return st, func() {}, err
	}
	opt, err := redis.ParseURL(cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid FUNDBATTLE_SESSION_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	return session.NewRedisStore(rdb, cfg.ClientID, 7*24*time.Hour), func() { rdb.Close() }, nil
}

func login(ctx context.Context, client *player.Client) error {
	if client.View().Status == model.StatusEnded {
		return errors.New("this room has ended")
	}
	nick, err := promptRequired("Nickname")
	if err != nil {
		return err
	}
	contact, err := promptOptional("Contact (optional)")
	if err != nil {
		return err
	}
	p, err := client.Join(ctx, nick, contact)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Joined as %s.", p.Nickname))
	return nil
}

// follow keeps the client on the room's event stream, reconnecting after
// drops until ctx ends or the host deletes the room.
func follow(ctx context.Context, client *player.Client, remote *player.Remote) {
	for {
		err := client.Run(ctx, remote)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, room.ErrRoomNotFound) {
			printWarn("\nThe host closed this room. Your session was cleared; press enter to leave.")
			return
		}
		if errors.Is(err, player.ErrStreamDisconnected) {
			slog.Warn("event stream lost, reconnecting", "delay", reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

type playerConsole struct {
	client *player.Client
	remote *player.Remote
}

func (p *playerConsole) loop(ctx context.Context) error {
	for {
		v := p.client.View()
		words, err := readCommand(fmt.Sprintf("%s day %d", v.Status, v.Day))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if p.client.Closed() {
			return nil
		}
		if len(words) == 0 {
			renderView(p.client.View(), "")
			continue
		}
		done, err := p.run(ctx, words)
		if err != nil {
			printError(err.Error())
		}
		if done {
			return nil
		}
	}
}

func (p *playerConsole) run(parent context.Context, words []string) (bool, error) {
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	switch words[0] {
	case "buy", "b", "sell", "s":
		kind := model.Buy
		if words[0][0] == 's' {
			kind = model.Sell
		}
		if len(words) < 2 {
			return false, fmt.Errorf("usage: %s <amount|NN%%|all>", words[0])
		}
		amount, err := parseAmount(words[1], func(pct float64) float64 { return p.client.QuickAmount(kind, pct) })
		if err != nil {
			return false, err
		}
		tx, err := p.client.Trade(ctx, kind, amount)
		if err != nil {
			return false, err
		}
		renderTransaction(tx)
	case "hold":
		if err := p.client.HoldGate(ctx); err != nil {
			return false, err
		}
		printWarn("Clock paused for the room until you trade or release.")
	case "release":
		return false, p.client.ReleaseGate(ctx)
	case "view", "v":
		renderView(p.client.View(), "")
	case "chart", "c":
		chart, err := p.remote.Chart(ctx, p.client.View().RoomID)
		if err != nil {
			return false, err
		}
		renderChart(chart.Rows, 15)
	case "board":
		lb, err := p.remote.Leaderboard(ctx, p.client.View().RoomID)
		if err != nil {
			return false, err
		}
		renderBoard(lb)
	case "rescue":
		if err := p.client.Rescue(ctx); err != nil {
			return false, err
		}
		printWarn("Rescued: capital restored, ROI penalised.")
	case "report":
		r, err := p.client.Report(ctx)
		if err != nil {
			return false, err
		}
		renderReport(r)
	case "export":
		if len(words) < 2 {
			return false, errors.New("usage: export <file.csv>")
		}
		r, err := p.client.Report(ctx)
		if err != nil {
			return false, err
		}
		return false, exportReport(words[1], r)
	case "leave":
		if err := p.client.Leave(ctx); err != nil {
			return false, err
		}
		printInfo("Session cleared.")
		return true, nil
	case "quit", "q":
		return true, nil
	case "help", "h", "?":
		printInfo(joinHelp)
	default:
		printWarn("unknown command; type help")
	}
	return false, nil
}
