package leaderboard

import (
	"slices"

	"github.com/fundbattle/battle-engine/internal/model"
)

// Global board defaults.
const (
	DefaultMinParticipants = 3
	DefaultKeep            = 3
	ResultQueryLimit       = 20
)

// ResultFilter selects finished games for the global board. With a season
// other than practice, results are matched by season alone; in practice
// mode they are matched by fund.
type ResultFilter struct {
	SeasonID string
	FundID   string
	Limit    int
}

// Normalize fills defaults.
func (f ResultFilter) Normalize() ResultFilter {
	if f.SeasonID == "" {
		f.SeasonID = model.PracticeSeason
	}
	if f.Limit <= 0 || f.Limit > ResultQueryLimit {
		f.Limit = ResultQueryLimit
	}
	return f
}

// Match reports whether r belongs to the filtered board.
func (f ResultFilter) Match(r model.GameResult) bool {
	if f.SeasonID != model.PracticeSeason {
		return r.SeasonID == f.SeasonID
	}
	return r.SeasonID == model.PracticeSeason && (f.FundID == "" || r.FundID == f.FundID)
}

// SortResults orders results by ROI descending, earliest submission first on
// ties.
func SortResults(results []model.GameResult) {
	slices.SortStableFunc(results, func(a, b model.GameResult) int {
		switch {
		case a.ROI > b.ROI:
			return -1
		case a.ROI < b.ROI:
			return 1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// GlobalBoard is the gated public ranking.
type GlobalBoard struct {
	Unlocked bool               `json:"unlocked"`
	Count    int                `json:"count"`
	Needed   int                `json:"needed"`
	Entries  []model.GameResult `json:"entries"`
}

// Global reveals the best keep of results once at least minParticipants
// games exist. total is the number of matching games, which may exceed
// len(results) when the query was limited; it is never taken as less.
// Until the minimum is reached the board is locked and only the count is
// shown.
func Global(results []model.GameResult, total, minParticipants, keep int) GlobalBoard {
	if minParticipants <= 0 {
		minParticipants = DefaultMinParticipants
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	total = max(total, len(results))
	b := GlobalBoard{Count: total, Entries: []model.GameResult{}}
	if total < minParticipants {
		b.Needed = minParticipants - total
		return b
	}
	sorted := slices.Clone(results)
	SortResults(sorted)
	b.Unlocked = true
	b.Entries = append(b.Entries, sorted[:min(keep, len(sorted))]...)
	return b
}
