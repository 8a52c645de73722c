package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

type Config struct {
	DatabasePath string         `toml:"database_path"`
	ListenAddr   string         `toml:"listen_addr"`
	Search       SearchConfig   `toml:"search"`
	Cache        CacheConfig    `toml:"cache"`
	Synonyms     SynonymsConfig `toml:"synonyms"`
}

type SearchConfig struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`

	// MinResultsBeforeFallback is the number of exact/prefix matches below
	// which the trigram fallback pass runs.
	MinResultsBeforeFallback int `toml:"min_results_before_fallback"`

	// TrigramThreshold is the minimum trigram Jaccard similarity for a
	// vocabulary term to be nominated as a fallback candidate.
	TrigramThreshold float64 `toml:"trigram_threshold"`

	// TrigramCandidateCap bounds how many candidate terms the fallback
	// feeds back into the ranked query.
	TrigramCandidateCap int `toml:"trigram_candidate_cap"`

	// TrigramScanBudget bounds how many vocabulary rows one fallback pass
	// may examine. Exhausting it truncates the candidate set.
	TrigramScanBudget int `toml:"trigram_scan_budget"`
}

type CacheConfig struct {
	Tiers          []TTLTier `toml:"tiers"`
	WaitBudget     Duration  `toml:"wait_budget"`
	ReaperInterval Duration  `toml:"reaper_interval"`
}

// TTLTier maps a minimum popularity count to a cache lifetime.
type TTLTier struct {
	MinHits int      `toml:"min_hits"`
	TTL     Duration `toml:"ttl"`
}

type SynonymsConfig struct {
	Version int                 `toml:"version"`
	Terms   map[string][]string `toml:"terms"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DefaultTiers returns the stock popularity-to-TTL mapping: queries seen
// fewer than five times are never cached.
func DefaultTiers() []TTLTier {
	return []TTLTier{
		{MinHits: 1, TTL: Duration{0}},
		{MinHits: 5, TTL: Duration{5 * time.Minute}},
		{MinHits: 20, TTL: Duration{15 * time.Minute}},
		{MinHits: 100, TTL: Duration{30 * time.Minute}},
	}
}

func GetDefaultConfig() (*Config, error) {
	dbPath, err := GetDefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("getting default database path: %w", err)
	}
	cfg := &Config{
		DatabasePath: dbPath,
		ListenAddr:   "127.0.0.1:8781",
	}
	cfg.applyDefaults()
	return cfg, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.DatabasePath == "" {
		dbPath, err := GetDefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("getting default database path: %w", err)
		}
		config.DatabasePath = dbPath
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8781"
	}
	if c.Search.DefaultPageSize == 0 {
		c.Search.DefaultPageSize = 20
	}
	if c.Search.MaxPageSize == 0 {
		c.Search.MaxPageSize = 100
	}
	if c.Search.MinResultsBeforeFallback == 0 {
		c.Search.MinResultsBeforeFallback = 5
	}
	if c.Search.TrigramThreshold == 0 {
		c.Search.TrigramThreshold = 0.4
	}
	if c.Search.TrigramCandidateCap == 0 {
		c.Search.TrigramCandidateCap = 8
	}
	if c.Search.TrigramScanBudget == 0 {
		c.Search.TrigramScanBudget = 50000
	}
	if len(c.Cache.Tiers) == 0 {
		c.Cache.Tiers = DefaultTiers()
	}
	if c.Cache.WaitBudget.Duration == 0 {
		c.Cache.WaitBudget = Duration{2 * time.Second}
	}
	if c.Cache.ReaperInterval.Duration == 0 {
		c.Cache.ReaperInterval = Duration{10 * time.Minute}
	}
	if c.Synonyms.Version == 0 {
		c.Synonyms.Version = 1
	}
	if c.Synonyms.Terms == nil {
		c.Synonyms.Terms = make(map[string][]string)
	}
}

// Validate rejects tier tables that are unordered or whose TTLs decrease
// with popularity.
func (c *Config) Validate() error {
	for i, tier := range c.Cache.Tiers {
		if i == 0 {
			continue
		}
		prev := c.Cache.Tiers[i-1]
		if tier.MinHits <= prev.MinHits {
			return fmt.Errorf("cache tiers must be ordered by min_hits ascending (tier %d)", i)
		}
		if tier.TTL.Duration < prev.TTL.Duration {
			return fmt.Errorf("cache tier TTLs must be non-decreasing (tier %d)", i)
		}
	}
	if c.Search.TrigramThreshold < 0 || c.Search.TrigramThreshold > 1 {
		return fmt.Errorf("trigram_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := c.DatabasePath
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return fmt.Errorf("getting default database path: %w", err)
		}
	}
	template := strings.Replace(configTemplate, "/home/user/.local/share/civisearch/civisearch.db", dbPath, 1)
	return os.WriteFile(configPath, []byte(template), 0644)
}

// GetDefaultStorageDir returns the default storage directory for the database
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, "civisearch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetDefaultDBPath returns the default database path in the user's data directory
func GetDefaultDBPath() (string, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(storageDir, "civisearch.db"), nil
}

// GetConfigDir returns the configuration directory for civisearch
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, "civisearch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
