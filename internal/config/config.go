package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the hub configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string
	LogLevel     string
	LogFormat    string

	// Target timezone. Evaluation never uses the host zone.
	TZName          string
	TZOffsetMinutes int

	// Scheduling engine timing
	TickIntervalMs      int
	LookAheadMinMinutes int
	LookAheadMaxMinutes int
	RefireGapMs         int
	QuietThresholdMs    int
	AutoDisarmEnabled   bool

	// Playback timing
	WakeDelayMs         int
	CyclePauseMs        int
	SimulatedPlaybackMs int
	AudioUnlocked       bool

	ReconcileIntervalMs int
	LogRetentionDays    int

	// Remote shared store (Redis). Empty address keeps the hub local-only.
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RemotePrefix  string
	// RemoteOrigin tags this hub's flag events. Empty generates one per process.
	RemoteOrigin string

	// Repeller unit link (MQTT). Empty broker uses the simulated player.
	MQTTBroker             string
	MQTTClientID           string
	MQTTUsername           string
	MQTTPassword           string
	UnitID                 string
	PlaybackStartTimeoutMs int
	PlaybackMaxMs          int

	SeedFile string
}

// Load reads configuration from the environment (and an optional .env file) with defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Host:         envString("HOST", "0.0.0.0"),
		Port:         envString("PORT", "9100"),
		SQLiteDBPath: envString("SQLITE_DB_PATH", "./data/agrisound-hub.db"),
		LogLevel:     envString("LOG_LEVEL", "info"),
		LogFormat:    envString("LOG_FORMAT", "console"),

		TZName:          envString("TZ_NAME", "PHT"),
		TZOffsetMinutes: envInt("TZ_OFFSET_MINUTES", 8*60),

		TickIntervalMs:      envInt("TICK_INTERVAL_MS", 10000),
		LookAheadMinMinutes: envInt("LOOKAHEAD_MIN_MINUTES", 0),
		LookAheadMaxMinutes: envInt("LOOKAHEAD_MAX_MINUTES", 1),
		RefireGapMs:         envInt("REFIRE_GAP_MS", 61000),
		QuietThresholdMs:    envInt("QUIET_THRESHOLD_MS", 60000),
		AutoDisarmEnabled:   envBool("AUTO_DISARM_ENABLED", true),

		WakeDelayMs:         envInt("WAKE_DELAY_MS", 1500),
		CyclePauseMs:        envInt("CYCLE_PAUSE_MS", 2000),
		SimulatedPlaybackMs: envInt("SIMULATED_PLAYBACK_MS", 4000),
		AudioUnlocked:       envBool("AUDIO_UNLOCKED", false),

		ReconcileIntervalMs: envInt("RECONCILE_INTERVAL_MS", 30000),
		LogRetentionDays:    envInt("LOG_RETENTION_DAYS", 90),

		RedisAddr:     envString("REDIS_ADDR", ""),
		RedisUsername: envString("REDIS_USERNAME", ""),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		RemotePrefix:  envString("REMOTE_PREFIX", "agrisound"),
		RemoteOrigin:  envString("REMOTE_ORIGIN", ""),

		MQTTBroker:             envString("MQTT_BROKER", ""),
		MQTTClientID:           envString("MQTT_CLIENT_ID", "agrisound-hub"),
		MQTTUsername:           envString("MQTT_USERNAME", ""),
		MQTTPassword:           envString("MQTT_PASSWORD", ""),
		UnitID:                 envString("UNIT_ID", "unit-1"),
		PlaybackStartTimeoutMs: envInt("PLAYBACK_START_TIMEOUT_MS", 5000),
		PlaybackMaxMs:          envInt("PLAYBACK_MAX_MS", 120000),

		SeedFile: envString("SEED_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the timing relationships the scheduling engine relies on.
func (c Config) Validate() error {
	if c.TickIntervalMs <= 0 || c.TickIntervalMs >= 60000 {
		return fmt.Errorf("TICK_INTERVAL_MS must be between 1 and 59999, got %d", c.TickIntervalMs)
	}
	if c.RefireGapMs <= c.TickIntervalMs {
		return fmt.Errorf("REFIRE_GAP_MS (%d) must exceed TICK_INTERVAL_MS (%d)", c.RefireGapMs, c.TickIntervalMs)
	}
	if c.RefireGapMs <= 60000 {
		return fmt.Errorf("REFIRE_GAP_MS must exceed one minute, got %d", c.RefireGapMs)
	}
	if c.LookAheadMinMinutes < 0 || c.LookAheadMaxMinutes < c.LookAheadMinMinutes {
		return fmt.Errorf("invalid look-ahead window [%d,%d]", c.LookAheadMinMinutes, c.LookAheadMaxMinutes)
	}
	if c.TZOffsetMinutes < -12*60 || c.TZOffsetMinutes > 14*60 {
		return fmt.Errorf("TZ_OFFSET_MINUTES out of range: %d", c.TZOffsetMinutes)
	}
	if c.ReconcileIntervalMs < 1000 {
		return fmt.Errorf("RECONCILE_INTERVAL_MS must be at least 1000, got %d", c.ReconcileIntervalMs)
	}
	return nil
}

// TickInterval returns the engine tick period.
func (c Config) TickInterval() time.Duration { return ms(c.TickIntervalMs) }

// RefireGap returns the minimum gap between two firings of one schedule.
func (c Config) RefireGap() time.Duration { return ms(c.RefireGapMs) }

// QuietThreshold returns the idle time required before auto-disarm.
func (c Config) QuietThreshold() time.Duration { return ms(c.QuietThresholdMs) }

// WakeDelay returns the hardware warm-up hold.
func (c Config) WakeDelay() time.Duration { return ms(c.WakeDelayMs) }

// CyclePause returns the pause between playback cycles.
func (c Config) CyclePause() time.Duration { return ms(c.CyclePauseMs) }

// ReconcileInterval returns the remote reconciliation period.
func (c Config) ReconcileInterval() time.Duration { return ms(c.ReconcileIntervalMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
