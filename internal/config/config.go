package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides. They win over config.toml.
const (
	EnvOwnerID   = "WPPDESK_OWNER_ID"
	EnvScope     = "WPPDESK_SCOPE"
	EnvWorkspace = "WPPDESK_WORKSPACE"
)

// Defaults applied to zero-valued fields.
const (
	DefaultScope                = "all"
	DefaultCacheTTL             = 30 * time.Second
	DefaultConversationLimit    = 50
	DefaultMessagePageSize      = 50
	DefaultConversationDebounce = 250 * time.Millisecond
	DefaultMessageListDebounce  = 150 * time.Millisecond
	DefaultMessageDebounce      = 100 * time.Millisecond
	DefaultOutboxPollInterval   = 500 * time.Millisecond
)

// Config represents the global ~/.wppdesk/config.toml.
type Config struct {
	DefaultWorkspace string         `toml:"default_workspace"`
	OwnerID          string         `toml:"owner_id"`
	DefaultScope     string         `toml:"default_scope"`
	Cache            CacheConfig    `toml:"cache"`
	Sync             SyncConfig     `toml:"sync"`
	Realtime         RealtimeConfig `toml:"realtime"`
	Outbox           OutboxConfig   `toml:"outbox"`
}

type CacheConfig struct {
	TTL time.Duration `toml:"ttl"`
}

type SyncConfig struct {
	ConversationLimit int `toml:"conversation_limit"`
	MessagePageSize   int `toml:"message_page_size"`
	// NodeID seeds locally minted message ids. Give each client sharing a
	// daemon its own node.
	NodeID int64 `toml:"node_id"`
}

// RealtimeConfig holds the debounce windows applied to change-feed bursts.
type RealtimeConfig struct {
	ConversationDebounce time.Duration `toml:"conversation_debounce"`
	MessageListDebounce  time.Duration `toml:"message_list_debounce"`
	MessageDebounce      time.Duration `toml:"message_debounce"`
}

type OutboxConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	AutoPauseBot bool          `toml:"auto_pause_bot"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.fill()
	return cfg
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve loads path when it exists, applies environment overrides, then
// fills defaults. A missing file is not an error.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.fill()
	return cfg, nil
}

// LoadEnv loads KEY=value files into the process environment without
// overwriting variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvOwnerID)); v != "" {
		c.OwnerID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvScope)); v != "" {
		c.DefaultScope = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkspace)); v != "" {
		c.DefaultWorkspace = v
	}
}

func (c *Config) fill() {
	if c.DefaultScope == "" {
		c.DefaultScope = DefaultScope
	}
	setDuration(&c.Cache.TTL, DefaultCacheTTL)
	setInt(&c.Sync.ConversationLimit, DefaultConversationLimit)
	setInt(&c.Sync.MessagePageSize, DefaultMessagePageSize)
	setDuration(&c.Realtime.ConversationDebounce, DefaultConversationDebounce)
	setDuration(&c.Realtime.MessageListDebounce, DefaultMessageListDebounce)
	setDuration(&c.Realtime.MessageDebounce, DefaultMessageDebounce)
	setDuration(&c.Outbox.PollInterval, DefaultOutboxPollInterval)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(n *int, def int) {
	if *n <= 0 {
		*n = def
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
