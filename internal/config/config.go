package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	API        APIConfig        `toml:"api"`
	Player     PlayerConfig     `toml:"player"`
	Search     SearchConfig     `toml:"search"`
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
	Downloader DownloaderConfig `toml:"downloader"`
	MPV        MPVConfig        `toml:"mpv"`
	Discord    DiscordConfig    `toml:"discord"`
}

// APIConfig points the client at the remote catalog and resolver services
type APIConfig struct {
	SearchURL       string `toml:"search_url"`
	ResolveURL      string `toml:"resolve_url"`
	StreamQuality   string `toml:"stream_quality"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// PlayerConfig contains playback defaults
type PlayerConfig struct {
	Volume float64 `toml:"volume"`
}

// SearchConfig contains search behaviour settings
type SearchConfig struct {
	DebounceMillis int      `toml:"debounce_ms"`
	HistorySize    int      `toml:"history_size"`
	FeaturedTerms  []string `toml:"featured_terms"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// DownloaderConfig contains settings for saving tracks to disk
type DownloaderConfig struct {
	Enabled       bool   `toml:"enabled"`
	LibraryPath   string `toml:"library_path"`
	MaxConcurrent int    `toml:"max_concurrent_downloads"`
}

// MPVConfig contains settings for the mpv playback backend
type MPVConfig struct {
	Path        string `toml:"path"`
	AudioDevice string `toml:"audio_device"`
	SocketDir   string `toml:"socket_dir"`
}

// DiscordConfig contains Discord Rich Presence configuration
type DiscordConfig struct {
	Enabled       bool   `toml:"enabled"`
	ApplicationID string `toml:"application_id"`
	LargeImageKey string `toml:"large_image_key"`
	SmallImageKey string `toml:"small_image_key"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			SearchURL:       "https://jiosaavn-api-privatecvc2.vercel.app/search/songs",
			ResolveURL:      "https://openmp3compiler.astudy.org/download",
			StreamQuality:   "320kbps",
			CacheTTLSeconds: 300,
			TimeoutSeconds:  15,
		},
		Player: PlayerConfig{
			Volume: 1.0,
		},
		Search: SearchConfig{
			DebounceMillis: 300,
			HistorySize:    10,
			FeaturedTerms:  []string{"trending", "bollywood", "english", "punjabi", "tamil"},
		},
		Database: DatabaseConfig{
			Path: "./saverino.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "./saverino.log",
		},
		Downloader: DownloaderConfig{
			Enabled:       true,
			LibraryPath:   "./music",
			MaxConcurrent: 2,
		},
		MPV: MPVConfig{
			Path:      "mpv",
			SocketDir: os.TempDir(),
		},
		Discord: DiscordConfig{
			Enabled:       false,
			LargeImageKey: "saverino_logo",
			SmallImageKey: "music_note",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and
// SAVERINO_* environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// .env is optional
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SAVERINO_SEARCH_URL"); v != "" {
		c.API.SearchURL = v
	}
	if v := os.Getenv("SAVERINO_RESOLVE_URL"); v != "" {
		c.API.ResolveURL = v
	}
	if v := os.Getenv("SAVERINO_STREAM_QUALITY"); v != "" {
		c.API.StreamQuality = v
	}
	if v := os.Getenv("SAVERINO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SAVERINO_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SAVERINO_MPV_PATH"); v != "" {
		c.MPV.Path = v
	}
	if v := os.Getenv("SAVERINO_DISCORD_APP_ID"); v != "" {
		c.Discord.ApplicationID = v
	}
	if v := os.Getenv("SAVERINO_DEBOUNCE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SAVERINO_DEBOUNCE_MS %q: %w", v, err)
		}
		c.Search.DebounceMillis = ms
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Saverino Configuration
# Search and resolver endpoints, playback defaults and local storage paths.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.API.SearchURL == "" {
		return fmt.Errorf("api search_url cannot be empty")
	}
	if c.API.ResolveURL == "" {
		return fmt.Errorf("api resolve_url cannot be empty")
	}
	if c.API.StreamQuality == "" {
		return fmt.Errorf("api stream_quality cannot be empty")
	}
	if c.API.CacheTTLSeconds < 0 {
		return fmt.Errorf("api cache ttl must not be negative")
	}
	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("api timeout must not be negative")
	}

	if c.Player.Volume < 0 || c.Player.Volume > 1 {
		return fmt.Errorf("player volume must be between 0 and 1, got %v", c.Player.Volume)
	}

	if c.Search.DebounceMillis < 0 {
		return fmt.Errorf("search debounce must not be negative")
	}
	if c.Search.HistorySize < 1 {
		return fmt.Errorf("search history size must be at least 1")
	}
	if len(c.Search.FeaturedTerms) == 0 {
		return fmt.Errorf("at least one featured search term must be specified")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Downloader.Enabled {
		if c.Downloader.LibraryPath == "" {
			return fmt.Errorf("downloader library path cannot be empty")
		}
		if c.Downloader.MaxConcurrent < 1 {
			return fmt.Errorf("downloader max concurrent downloads must be at least 1")
		}
	}

	if c.MPV.Path == "" {
		return fmt.Errorf("mpv path cannot be empty")
	}

	if c.Discord.Enabled && c.Discord.ApplicationID == "" {
		return fmt.Errorf("discord application_id is required when discord is enabled")
	}

	return nil
}

// CacheTTL returns the response cache freshness window
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.API.CacheTTLSeconds) * time.Second
}

// Timeout returns the HTTP request timeout, zero meaning none
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// DebounceDelay returns the search input debounce window
func (c *Config) DebounceDelay() time.Duration {
	return time.Duration(c.Search.DebounceMillis) * time.Millisecond
}
