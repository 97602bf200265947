package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"

	"github.com/fundbattle/battle-engine/internal/battle"
	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/model"
	"github.com/fundbattle/battle-engine/internal/player"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// readCommand prompts for one console command and splits it into words.
func readCommand(prompt string) ([]string, error) {
	accent.Printf("%s> ", prompt)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return strings.Fields(strings.ToLower(text)), nil
}

// parseAmount reads "50000", "25%" or "all". Percentages go through quick,
// which rounds them the way the trade shortcuts do.
func parseAmount(arg string, quick func(pct float64) float64) (float64, error) {
	switch {
	case arg == "all":
		return quick(1), nil
	case strings.HasSuffix(arg, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSuffix(arg, "%"), 64)
		if err != nil || pct <= 0 || pct > 100 {
			return 0, fmt.Errorf("invalid percentage %q", arg)
		}
		return quick(pct / 100), nil
	default:
		v, err := strconv.ParseFloat(strings.ReplaceAll(arg, ",", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", arg)
		}
		return v, nil
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := int64(v)
	cents := int64((v-float64(whole))*100 + 0.5)
	if cents == 100 {
		whole++
		cents = 0
	}
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), cents)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func renderView(v player.View, date string) {
	accent.Printf("\n%s  day %d  NAV %.4f\n", date, v.Day, v.NAV)
	fmt.Printf("  cash %s   units %.4f   avg cost %.4f\n", money(v.Cash), v.Units, v.AvgCost)
	fmt.Printf("  total %s   ROI %s", money(v.TotalAssets), colorizePercent(v.ROI))
	if v.Rescues > 0 {
		fmt.Printf("   (raw %s, %d rescue(s))", colorizePercent(v.RawROI), v.Rescues)
	}
	fmt.Println()
	if v.StopLoss {
		danger.Printf("  STOP-LOSS: NAV below %.4f\n", v.StopLossPrice)
	} else if v.StopLossPrice > 0 {
		neutral.Printf("  stop-loss at %.4f\n", v.StopLossPrice)
	}
	if v.RescueAvailable {
		warn.Println("  Near bankruptcy: type `rescue` to restart at a 50% ROI penalty.")
	}
	if v.Notice != "" {
		warn.Println("  " + v.Notice)
	}
}

func renderTransaction(tx model.Transaction) {
	line := fmt.Sprintf("%s %.4f units @ %.4f = %s (cash %s)", tx.Kind, tx.Units, tx.Price, money(tx.Amount), money(tx.BalanceAfter))
	if tx.PnL != nil {
		line += "  P&L " + money(*tx.PnL)
	}
	printSuccess(line)
}

// renderChart prints the last rows of the overlay as a compact table.
func renderChart(rows []indicator.Row, last int) {
	if len(rows) > last {
		rows = rows[len(rows)-last:]
	}
	fmt.Printf("%-12s %10s %10s %10s %10s %10s\n", "DATE", "NAV", "MA20", "MA60", "RIVER HI", "RIVER LO")
	for _, r := range rows {
		fmt.Printf("%-12s %10.4f %10s %10s %10s %10s\n", r.Date, r.NAV, opt(r.MA20), opt(r.MA60), opt(r.RiverTop), opt(r.RiverBottom))
	}
}

func opt(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func renderBoard(lb battle.LeaderboardResponse) {
	accent.Printf("\n== LEADERBOARD (%d players) ==\n", lb.Board.Total)
	if lb.Board.Total == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-6s %-18s %12s %18s\n", "RANK", "PLAYER", "ROI", "TOTAL")
	for i, p := range lb.Board.Top {
		fmt.Printf("%-6d %-18s %21s %18s\n", i+1, truncate(p.Nickname, 18), colorizePercent(p.ROI), money(p.TotalAssets))
	}
	if lb.Board.Remaining > 0 {
		neutral.Printf("  ... %d more\n", lb.Board.Remaining)
	}
	for i, p := range lb.Board.Bottom {
		fmt.Printf("%-6d %-18s %21s %18s\n", lb.Board.Total-i, truncate(p.Nickname, 18), colorizePercent(p.ROI), money(p.TotalAssets))
	}
	fmt.Printf("  invested %s of %s (%.1f%%), %d holders\n", money(lb.Exposure.Invested), money(lb.Exposure.TotalAssets), lb.Exposure.PositionRatio, lb.Exposure.Holders)
}

func renderGlobal(b leaderboard.GlobalBoard) {
	accent.Println("\n== HALL OF FAME ==")
	if !b.Unlocked {
		printInfo(fmt.Sprintf("%d game(s) played; %d more needed to unlock the board.", b.Count, b.Needed))
		return
	}
	fmt.Printf("%-6s %-18s %-10s %12s %18s\n", "RANK", "PLAYER", "FUND", "ROI", "FINAL")
	for i, r := range b.Entries {
		fmt.Printf("%-6d %-18s %-10s %21s %18s\n", i+1, truncate(r.DisplayName, 18), truncate(r.FundID, 10), colorizePercent(r.ROI), money(r.FinalAssets))
	}
}

func renderReport(r ledger.Report) {
	accent.Printf("\n== GAME OVER: %s ==\n", r.FundName)
	fmt.Printf("  final assets %s   ROI %s   %d month(s), %d trade(s)\n",
		money(r.FinalAssets.InexactFloat64()), colorizePercent(r.ROI.InexactFloat64()), r.DurationMonths, len(r.Transactions))
}

// writeReportCSV exports the summary and every trade of r.
func writeReportCSV(w io.Writer, r ledger.Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"fund", r.FundName},
		{"duration_months", strconv.Itoa(r.DurationMonths)},
		{"final_assets", r.FinalAssets.StringFixed(2)},
		{"roi_percent", r.ROI.StringFixed(2)},
		{},
		{"id", "day", "kind", "price", "units", "amount", "balance_after", "pnl"},
	}
	for _, tx := range r.Transactions {
		pnl := ""
		if tx.PnL != nil {
			pnl = strconv.FormatFloat(*tx.PnL, 'f', 2, 64)
		}
		rows = append(rows, []string{
			tx.ID,
			strconv.Itoa(tx.Day),
			string(tx.Kind),
			strconv.FormatFloat(tx.Price, 'f', 4, 64),
			strconv.FormatFloat(tx.Units, 'f', 4, 64),
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			strconv.FormatFloat(tx.BalanceAfter, 'f', 2, 64),
			pnl,
		})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func exportReport(path string, r ledger.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeReportCSV(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printSuccess("Report written to " + path)
	return nil
}

// printJoinLink shows the link and a scannable QR code for phones.
func printJoinLink(w io.Writer, link string) {
	accent.Fprintln(w, "Join link: "+link)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
}
