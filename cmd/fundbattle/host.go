package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/config"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/player"
	"github.com/fundbattle/battle-engine/internal/stream"
)

const hostHelp = `commands:
  fund <id>          pick the fund before starting (see: funds)
  funds              list playable funds
  start              start the game
  next               advance one day
  auto <ms>|stop     autoplay at 200, 500, 1000, 2000 or 5000 ms per day
  ind <ma20|ma60|river>  toggle a chart overlay for everyone
  gate               show who is deciding
  clear              force-clear the trade gate
  board              room leaderboard
  end                end the game
  reset              back to the lobby; players are removed
  close              delete the room and quit
  quit               leave the console (the room keeps running)`

func newHostCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Create a room and run it from the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			remote := player.NewRemote(cfg.APIBaseURL, nil, nil)

			created, err := remote.CreateRoom(ctx)
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			h := &hostConsole{remote: remote, roomID: created.Room.ID, token: created.HostToken, ind: created.Room.Indicators}
			accent.Printf("Room %s created.\n", h.roomID)
			if created.JoinURL != "" {
				printJoinLink(os.Stdout, created.JoinURL)
			} else {
				printInfo("Players join with: fundbattle join " + h.roomID)
			}

			events, stop := remote.Subscribe(ctx, h.roomID)
			defer stop()
			go printRoomEvents(events)

			printInfo(hostHelp)
			return h.loop(ctx)
		},
	}
}

type hostConsole struct {
	remote *player.Remote
	roomID string
	token  string
	ind    model.Indicators
}

func (h *hostConsole) loop(ctx context.Context) error {
	for {
		words, err := readCommand("host " + h.roomID)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(words) == 0 {
			continue
		}
		done, err := h.run(ctx, words)
		if err != nil {
			printError(err.Error())
		}
		if done {
			return nil
		}
	}
}

func (h *hostConsole) run(parent context.Context, words []string) (bool, error) {
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	post := func(action string, in any) error {
		v, err := h.remote.Host(ctx, http.MethodPost, h.roomID, action, h.token, in)
		if err != nil {
			return err
		}
		renderRoom(v)
		return nil
	}

	switch words[0] {
	case "start":
		return false, post("start", nil)
	case "next", "n":
		return false, post("advance", nil)
	case "auto":
		ms := 0
		if len(words) > 1 && words[1] != "stop" {
			n, err := strconv.Atoi(words[1])
			if err != nil {
				return false, fmt.Errorf("invalid speed %q", words[1])
			}
			ms = n
		}
		return false, post("autoplay", battle.AutoplayRequest{SpeedMS: ms})
	case "end":
		return false, post("end", nil)
	case "reset":
		return false, post("reset", nil)
	case "fund":
		if len(words) < 2 {
			return false, errors.New("usage: fund <id>")
		}
		v, err := h.remote.Host(ctx, http.MethodPut, h.roomID, "fund", h.token, battle.FundRequest{FundID: words[1]})
		if err != nil {
			return false, err
		}
		renderRoom(v)
	case "funds":
		funds, err := h.remote.Funds(ctx)
		if err != nil {
			return false, err
		}
		for _, f := range funds {
			fmt.Printf("  %-10s %s\n", f.ID, f.Name)
		}
	case "ind":
		if len(words) < 2 {
			return false, errors.New("usage: ind <ma20|ma60|river>")
		}
		switch words[1] {
		case "ma20":
			h.ind.MA20 = !h.ind.MA20
		case "ma60":
			h.ind.MA60 = !h.ind.MA60
		case "river":
			h.ind.River = !h.ind.River
		default:
			return false, fmt.Errorf("unknown overlay %q", words[1])
		}
		v, err := h.remote.Host(ctx, http.MethodPut, h.roomID, "indicators", h.token, h.ind)
		if err != nil {
			return false, err
		}
		h.ind = v.Indicators
		printInfo(fmt.Sprintf("overlays: ma20=%v ma60=%v river=%v", h.ind.MA20, h.ind.MA60, h.ind.River))
	case "gate":
		v, err := h.remote.Room(ctx, h.roomID)
		if err != nil {
			return false, err
		}
		renderGate(v.Gate.Entries, v.Gate.Remaining)
	case "clear":
		n, err := h.remote.ForceClearGate(ctx, h.roomID, h.token)
		if err != nil {
			return false, err
		}
		printWarn(fmt.Sprintf("Cleared %d gate holder(s).", n))
	case "board", "b":
		lb, err := h.remote.Leaderboard(ctx, h.roomID)
		if err != nil {
			return false, err
		}
		renderBoard(lb)
	case "close":
		if _, err := h.remote.Host(ctx, http.MethodDelete, h.roomID, "", h.token, nil); err != nil {
			return false, err
		}
		printSuccess("Room closed.")
		return true, nil
	case "quit", "q":
		return true, nil
	case "help", "h", "?":
		printInfo(hostHelp)
	default:
		printWarn("unknown command; type help")
	}
	return false, nil
}

func renderRoom(v battle.RoomView) {
	line := fmt.Sprintf("room %s %s  day %d", v.ID, v.Status, v.DayCursor)
	if v.DisplayDate != "" {
		line += "  " + v.DisplayDate
	}
	if v.NAV > 0 {
		line += fmt.Sprintf("  NAV %.4f", v.NAV)
	}
	if v.AutoplayMS > 0 {
		line += fmt.Sprintf("  autoplay %dms", v.AutoplayMS)
	}
	line += fmt.Sprintf("  %d player(s)  fund %s", v.Players, v.FundID)
	accent.Println(line)
	if v.Notice != "" {
		printWarn(v.Notice)
	}
}

func renderGate(entries []model.GateEntry, remaining time.Duration) {
	if len(entries) == 0 {
		printInfo("Nobody is deciding.")
		return
	}
	for _, e := range entries {
		warn.Printf("  %s is deciding\n", e.Nickname)
	}
	printInfo(fmt.Sprintf("advisory countdown: %s left", remaining.Round(time.Second)))
}

// printRoomEvents narrates the room until the stream closes.
func printRoomEvents(events <-chan stream.Event) {
	for e := range events {
		switch e.Type {
		case stream.PlayerUpdated:
			if e.Player != nil && e.Player.UpdatedAt.Equal(e.Player.JoinedAt) {
				neutral.Printf("\n  %s joined\n", e.Player.Nickname)
			}
		case stream.GateChanged:
			if len(e.Gate) > 0 {
				warn.Printf("\n  gate held by %d player(s)\n", len(e.Gate))
			} else {
				neutral.Println("\n  gate clear")
			}
		case stream.StatusChanged:
			accent.Printf("\n  room is now %s\n", e.Status)
			if e.Notice != "" {
				printWarn("  " + e.Notice)
			}
		case stream.ConfigChanged:
			if e.AutoplayMS == 0 && e.Indicators == nil && e.FundID == "" {
				neutral.Println("\n  autoplay stopped")
			}
		}
	}
}
