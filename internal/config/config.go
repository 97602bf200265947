// Package config loads the server and CLI settings from the environment. A
// .env file in the working directory is read first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fundbattle/battle-engine/internal/gate"
	"github.com/fundbattle/battle-engine/internal/indicator"
	"github.com/fundbattle/battle-engine/internal/leaderboard"
	"github.com/fundbattle/battle-engine/internal/ledger"
	"github.com/fundbattle/battle-engine/internal/publish"
	"github.com/fundbattle/battle-engine/internal/room"
)

type ServerConfig struct {
	Addr            string
	DatabaseURL     string // empty: in-memory store
	RedisURL        string // empty: in-process event broker, no cache
	CacheTTL        time.Duration
	FundBaseURL     string
	PublicURL       string
	InitialCapital  float64
	GateCountdown   time.Duration
	MinParticipants int
	GameYears       int
	River           indicator.OverlayConfig
}

type CLIConfig struct {
	APIBaseURL       string
	PublicURL        string
	FundBaseURL      string
	SessionDir       string
	SessionRedisURL  string
	ClientID         string
	SnapshotInterval time.Duration
	StopLossPercent  float64
	River            indicator.OverlayConfig
}

// LoadDotEnv reads .env into the environment if the file exists.
func LoadDotEnv() error {
	err := godotenv.Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func LoadServerFromEnv() (ServerConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BATTLE_ADDR", ":8080")
	}

	cfg := ServerConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:        envDurationDefault("BATTLE_CACHE_TTL", 30*time.Second),
		FundBaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("BATTLE_FUND_BASE_URL")), "/"),
		PublicURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("BATTLE_PUBLIC_URL")), "/"),
		InitialCapital:  envFloatDefault("BATTLE_INITIAL_CAPITAL", ledger.DefaultInitialCapital),
		GateCountdown:   envDurationDefault("BATTLE_GATE_COUNTDOWN", gate.DefaultCountdown),
		MinParticipants: envIntDefault("BATTLE_MIN_PARTICIPANTS", leaderboard.DefaultMinParticipants),
		GameYears:       envIntDefault("BATTLE_GAME_YEARS", room.DefaultYears),
	}
	if cfg.InitialCapital <= 0 {
		return cfg, fmt.Errorf("BATTLE_INITIAL_CAPITAL must be positive, got %v", cfg.InitialCapital)
	}
	if cfg.GameYears <= 0 {
		return cfg, fmt.Errorf("BATTLE_GAME_YEARS must be positive, got %d", cfg.GameYears)
	}
	river, err := riverFromEnv()
	if err != nil {
		return cfg, err
	}
	cfg.River = river
	return cfg, nil
}

// riverFromEnv reads BATTLE_RIVER_MODE (fixed or dynamic),
// BATTLE_RIVER_WIDTH (percent, fixed mode) and BATTLE_RIVER_K (σ multiplier,
// dynamic mode) over the default chart settings.
func riverFromEnv() (indicator.OverlayConfig, error) {
	river := indicator.DefaultOverlayConfig()
	if v := strings.TrimSpace(os.Getenv("BATTLE_RIVER_MODE")); v != "" {
		mode, err := indicator.ParseBandMode(v)
		if err != nil {
			return river, fmt.Errorf("BATTLE_RIVER_MODE: %w", err)
		}
		river.Mode = mode
	}
	river.WidthPercent = envFloatDefault("BATTLE_RIVER_WIDTH", river.WidthPercent)
	river.K = envFloatDefault("BATTLE_RIVER_K", river.K)
	if err := river.Validate(); err != nil {
		return river, fmt.Errorf("river settings: %w", err)
	}
	return river, nil
}

// LoadCLIFromEnv never fails; invalid river settings fall back to the
// default river.
func LoadCLIFromEnv() CLIConfig {
	dir := strings.TrimSpace(os.Getenv("FUNDBATTLE_SESSION_DIR"))
	if dir == "" {
		if base, err := os.UserConfigDir(); err == nil {
			dir = filepath.Join(base, "fundbattle")
		} else {
			dir = ".fundbattle"
		}
	}
	river, err := riverFromEnv()
	if err != nil {
		river = indicator.DefaultOverlayConfig()
	}
	client := strings.TrimSpace(os.Getenv("FUNDBATTLE_CLIENT_ID"))
	if client == "" {
		client, _ = os.Hostname()
	}
	return CLIConfig{
		APIBaseURL:       strings.TrimRight(envDefault("FUNDBATTLE_API_URL", "http://localhost:8080"), "/"),
		PublicURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("BATTLE_PUBLIC_URL")), "/"),
		FundBaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("BATTLE_FUND_BASE_URL")), "/"),
		SessionDir:       dir,
		SessionRedisURL:  strings.TrimSpace(os.Getenv("FUNDBATTLE_SESSION_REDIS_URL")),
		ClientID:         client,
		SnapshotInterval: envDurationDefault("BATTLE_SNAPSHOT_INTERVAL", publish.DefaultInterval),
		StopLossPercent:  envFloatDefault("FUNDBATTLE_STOP_LOSS_PERCENT", 10),
		River:            river,
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
