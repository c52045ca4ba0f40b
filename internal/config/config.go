package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort             = "INSTANCEWATCH_PORT"
	EnvLanEnabled       = "INSTANCEWATCH_LAN_ENABLED"
	EnvLogPath          = "INSTANCEWATCH_LOG_PATH"
	EnvTimeoutMs        = "INSTANCEWATCH_TIMEOUT_MS"
	EnvOverlayTimeoutMs = "INSTANCEWATCH_OVERLAY_TIMEOUT_MS"
	EnvJoinGraceSec     = "INSTANCEWATCH_JOIN_GRACE_SEC"
	EnvProfileFreshSec  = "INSTANCEWATCH_PROFILE_FRESH_SEC"
	EnvFeedDedupSec     = "INSTANCEWATCH_FEED_DEDUP_SEC"
	EnvDiscordBatchSec  = "INSTANCEWATCH_DISCORD_BATCH_SEC"
	EnvLocalUserID      = "INSTANCEWATCH_LOCAL_USER_ID"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion int    `json:"schema_version"`
	Port          int    `json:"port"`
	LanEnabled    bool   `json:"lan_enabled"`
	LogPath       string `json:"log_path"`

	// LocalUserID and LocalDisplayName identify the account being watched.
	// Events originating from the local user are never surfaced as
	// notifications or timeout flags.
	LocalUserID      string `json:"local_user_id"`
	LocalDisplayName string `json:"local_display_name"`

	// TimeoutMs is the heartbeat age after which a peer is flagged as
	// timed out by the watcher.
	TimeoutMs int `json:"timeout_ms"`

	// OverlayTimeoutMs is how long a pushed overlay message stays visible.
	OverlayTimeoutMs int `json:"overlay_timeout_ms"`

	// JoinGraceSec is the minimum occupancy age before a peer can be
	// flagged as timed out.
	JoinGraceSec int `json:"join_grace_sec"`

	// ProfileFreshSec is the window within which remotely fetched profile
	// data is trusted over the inline event profile.
	ProfileFreshSec int `json:"profile_fresh_sec"`

	// FeedDedupSec is the recency window for suppressing repeated feed
	// entries with the same (type, display name).
	FeedDedupSec int `json:"feed_dedup_sec"`

	DiscordBatchSec int `json:"discord_batch_sec"`

	// NotifyFilters maps a feed entry type name to a filter mode:
	// "Off", "On", "Everyone", "Friends" or "VIP". Missing types
	// default to "Off".
	NotifyFilters map[string]string `json:"notify_filters"`

	// ChatBlacklistWords suppresses chatbox messages containing any of
	// these words. ChatBlacklistUsers suppresses by sender user id.
	ChatBlacklistWords []string `json:"chat_blacklist_words"`
	ChatBlacklistUsers []string `json:"chat_blacklist_users"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:    CurrentSchemaVersion,
		Port:             8080,
		LanEnabled:       false,
		LogPath:          "", // auto-detect
		TimeoutMs:        6000,
		OverlayTimeoutMs: 6000,
		JoinGraceSec:     70,
		ProfileFreshSec:  60,
		FeedDedupSec:     10,
		DiscordBatchSec:  3,
		NotifyFilters: map[string]string{
			"OnPlayerJoined": "On",
			"OnPlayerLeft":   "On",
			"Location":       "On",
		},
	}
}

// LoadConfig reads config from disk. If the file doesn't exist or is corrupt,
// it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, use defaults (not an error)
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	// Try to parse JSON
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	// Check schema version
	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	// Normalize/validate values
	cfg = normalizeConfig(cfg)

	return cfg, nil
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	// Ensure schema version
	cfg.SchemaVersion = CurrentSchemaVersion

	// Validate port
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}

	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaults.TimeoutMs
	}
	if cfg.OverlayTimeoutMs <= 0 {
		cfg.OverlayTimeoutMs = defaults.OverlayTimeoutMs
	}
	if cfg.JoinGraceSec < 0 {
		cfg.JoinGraceSec = defaults.JoinGraceSec
	}
	if cfg.ProfileFreshSec <= 0 {
		cfg.ProfileFreshSec = defaults.ProfileFreshSec
	}
	if cfg.FeedDedupSec < 0 {
		cfg.FeedDedupSec = defaults.FeedDedupSec
	}
	if cfg.DiscordBatchSec < 0 {
		cfg.DiscordBatchSec = defaults.DiscordBatchSec
	}
	if cfg.NotifyFilters == nil {
		cfg.NotifyFilters = defaults.NotifyFilters
	}

	return cfg
}

// SaveConfig writes config to disk atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically.
func SaveConfigTo(cfg Config, path string) error {
	// Ensure schema version is set
	cfg.SchemaVersion = CurrentSchemaVersion

	return writeJSONAtomic(path, cfg)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	if v := os.Getenv(EnvLanEnabled); v != "" {
		cfg.LanEnabled = parseBool(v)
	}

	if v := os.Getenv(EnvLogPath); v != "" {
		cfg.LogPath = v
	}

	if v := os.Getenv(EnvTimeoutMs); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.TimeoutMs = ms
		}
	}

	if v := os.Getenv(EnvOverlayTimeoutMs); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.OverlayTimeoutMs = ms
		}
	}

	if v := os.Getenv(EnvJoinGraceSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.JoinGraceSec = sec
		}
	}

	if v := os.Getenv(EnvProfileFreshSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.ProfileFreshSec = sec
		}
	}

	if v := os.Getenv(EnvFeedDedupSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.FeedDedupSec = sec
		}
	}

	if v := os.Getenv(EnvDiscordBatchSec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.DiscordBatchSec = sec
		}
	}

	if v := os.Getenv(EnvLocalUserID); v != "" {
		cfg.LocalUserID = v
	}

	return cfg
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
