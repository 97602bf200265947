package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// ROI, assets and units are stored as NUMERIC and travel as decimal strings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a tuned pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

//go:embed schema.sql
var schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func num(f float64) string { return decimal.NewFromFloat(f).String() }

func fromNum(s string) float64 {
	d, _ := decimal.NewFromString(s)
	return d.InexactFloat64()
}

func (s *PostgresStore) CreateRoom(ctx context.Context, r *model.Room) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, status, day_cursor, start_day, fund_id, time_offset,
		                    ind_ma20, ind_ma60, ind_river, host_token, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Status, r.DayCursor, r.StartDay, r.FundID, r.TimeOffset,
		r.Indicators.MA20, r.Indicators.MA60, r.Indicators.River,
		r.HostToken, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create room %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRoomExists, r.ID)
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var r model.Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, day_cursor, start_day, fund_id, time_offset,
		        ind_ma20, ind_ma60, ind_river, host_token, created_at
		 FROM rooms WHERE id = $1`, id).
		Scan(&r.ID, &r.Status, &r.DayCursor, &r.StartDay, &r.FundID, &r.TimeOffset,
			&r.Indicators.MA20, &r.Indicators.MA60, &r.Indicators.River,
			&r.HostToken, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, r *model.Room) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms
		 SET status = $2, day_cursor = $3, start_day = $4, fund_id = $5, time_offset = $6,
		     ind_ma20 = $7, ind_ma60 = $8, ind_river = $9
		 WHERE id = $1`,
		r.ID, r.Status, r.DayCursor, r.StartDay, r.FundID, r.TimeOffset,
		r.Indicators.MA20, r.Indicators.MA60, r.Indicators.River,
	)
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, r.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	// players and gate_entries cascade.
	_, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) UpsertPlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, room_id, nickname, contact, roi, total_assets, units, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 ON CONFLICT (room_id, id) DO UPDATE
		 SET nickname = EXCLUDED.nickname, contact = EXCLUDED.contact,
		     roi = EXCLUDED.roi, total_assets = EXCLUDED.total_assets, units = EXCLUDED.units,
		     updated_at = EXCLUDED.updated_at`,
		p.ID, p.RoomID, p.Nickname, p.Contact,
		num(p.ROI), num(p.TotalAssets), num(p.Units),
		p.JoinedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListPlayers(ctx context.Context, roomID string) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, nickname, contact,
		        roi::TEXT, total_assets::TEXT, units::TEXT, joined_at, updated_at
		 FROM players WHERE room_id = $1 ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []model.Player{}
	for rows.Next() {
		var p model.Player
		var roi, assets, units string
		if err := rows.Scan(&p.ID, &p.RoomID, &p.Nickname, &p.Contact,
			&roi, &assets, &units, &p.JoinedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ROI = fromNum(roi)
		p.TotalAssets = fromNum(assets)
		p.Units = fromNum(units)
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) DeletePlayers(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM players WHERE room_id = $1`, roomID)
	return err
}

func (s *PostgresStore) ReplaceGate(ctx context.Context, roomID string, entries []model.GateEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM gate_entries WHERE room_id = $1`, roomID); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gate_entries (room_id, player_id, nickname, raised_at)
			 VALUES ($1, $2, $3, $4)`,
			roomID, e.PlayerID, e.Nickname, e.RaisedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListGate(ctx context.Context, roomID string) ([]model.GateEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, nickname, raised_at
		 FROM gate_entries WHERE room_id = $1 ORDER BY raised_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.GateEntry{}
	for rows.Next() {
		var e model.GateEntry
		if err := rows.Scan(&e.PlayerID, &e.Nickname, &e.RaisedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertResult(ctx context.Context, r *model.GameResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_results (id, uid, display_name, fund_id, roi, final_assets,
		                           duration_months, season_id, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		r.ID, r.UID, r.DisplayName, r.FundID,
		num(r.ROI), num(r.FinalAssets),
		r.DurationMonths, r.SeasonID, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListResults(ctx context.Context, f leaderboard.ResultFilter) ([]model.GameResult, error) {
	f = f.Normalize()
	rows, err := s.pool.Query(ctx,
		`SELECT id, uid, display_name, fund_id, roi::TEXT, final_assets::TEXT,
		        duration_months, season_id, created_at
		 FROM game_results
		 WHERE season_id = $1 AND ($1 <> $2 OR $3 = '' OR fund_id = $3)
		 ORDER BY roi DESC, created_at
		 LIMIT $4`,
		f.SeasonID, model.PracticeSeason, f.FundID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.GameResult{}
	for rows.Next() {
		var r model.GameResult
		var roi, assets string
		if err := rows.Scan(&r.ID, &r.UID, &r.DisplayName, &r.FundID, &roi, &assets,
			&r.DurationMonths, &r.SeasonID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ROI = fromNum(roi)
		r.FinalAssets = fromNum(assets)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) CountResults(ctx context.Context, f leaderboard.ResultFilter) (int, error) {
	f = f.Normalize()
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM game_results
		 WHERE season_id = $1 AND ($1 <> $2 OR $3 = '' OR fund_id = $3)`,
		f.SeasonID, model.PracticeSeason, f.FundID).Scan(&n)
	return n, err
}
