package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/bellhop/pkg/notify"
	"github.com/cuemby/bellhop/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the bellhop server configuration
type Config struct {
	DataDir      string        `yaml:"data_dir"`
	DeviceID     string        `yaml:"device_id"`
	HTTPAddr     string        `yaml:"http_addr"`
	GRPCAddr     string        `yaml:"grpc_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ToneInterval time.Duration `yaml:"tone_interval"`

	Log     LogConfig     `yaml:"log"`
	Records RecordsConfig `yaml:"records"`
	Feed    FeedConfig    `yaml:"feed"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Notify  NotifyConfig  `yaml:"notify"`
	Audio   AudioConfig   `yaml:"audio"`
	Boards  []BoardConfig `yaml:"boards"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RecordsConfig selects the record store: bolt, postgres or memory
type RecordsConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// FeedConfig selects the push channel: local (the record store's own
// writes), redis, or none for poll-only boards
type FeedConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
}

// LedgerConfig selects the sent ledger: bolt, sqlite, postgres, redis or memory
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// NotifyConfig selects the notification transport: log, webhook or none
type NotifyConfig struct {
	Transport  string            `yaml:"transport"`
	WebhookURL string            `yaml:"webhook_url"`
	Timeout    time.Duration     `yaml:"timeout"`
	Letterhead notify.Letterhead `yaml:"letterhead"`
}

// AudioConfig selects the tone player: broadcast, wav or none
type AudioConfig struct {
	Player  string   `yaml:"player"`
	Command []string `yaml:"command"`
	File    string   `yaml:"file"`
	Volume  float64  `yaml:"volume"`
}

// BoardConfig names a board to open at startup
type BoardConfig struct {
	Tenant string `yaml:"tenant"`
	Kind   string `yaml:"kind"`
}

// Key returns the board key, validating the kind
func (b BoardConfig) Key() (types.BoardKey, error) {
	kind, err := types.ParseKind(b.Kind)
	if err != nil {
		return types.BoardKey{}, err
	}
	if strings.TrimSpace(b.Tenant) == "" {
		return types.BoardKey{}, errors.New("board tenant is required")
	}
	return types.BoardKey{TenantID: b.Tenant, Kind: kind}, nil
}

// Default returns a single-node configuration
func Default() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "default"
	}
	return &Config{
		DataDir:      "./bellhop-data",
		DeviceID:     host,
		HTTPAddr:     "127.0.0.1:8080",
		GRPCAddr:     "127.0.0.1:9090",
		PollInterval: 3 * time.Second,
		ToneInterval: 3 * time.Second,
		Log:          LogConfig{Level: "info"},
		Records:      RecordsConfig{Backend: "bolt"},
		Feed:         FeedConfig{Backend: "local"},
		Ledger:       LedgerConfig{Backend: "bolt"},
		Notify:       NotifyConfig{Transport: "log", Timeout: 10 * time.Second},
		Audio:        AudioConfig{Player: "broadcast", Volume: 0.8},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Validate checks backend names and their required settings
func (c *Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.ToneInterval <= 0 {
		errs = append(errs, errors.New("tone_interval must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}

	if err := oneOf("records.backend", c.Records.Backend, "bolt", "postgres", "memory"); err != nil {
		errs = append(errs, err)
	}
	if c.Records.Backend == "postgres" && c.Records.DSN == "" {
		errs = append(errs, errors.New("records.dsn is required for postgres"))
	}

	if err := oneOf("feed.backend", c.Feed.Backend, "local", "redis", "none"); err != nil {
		errs = append(errs, err)
	}
	if c.Feed.Backend == "redis" && c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required for redis"))
	}
	if c.Feed.Backend == "local" && c.Records.Backend == "postgres" {
		errs = append(errs, errors.New("feed.backend local needs a bolt or memory record store"))
	}

	if err := oneOf("ledger.backend", c.Ledger.Backend, "bolt", "sqlite", "postgres", "redis", "memory"); err != nil {
		errs = append(errs, err)
	}
	if (c.Ledger.Backend == "postgres" || c.Ledger.Backend == "redis") && c.Ledger.DSN == "" {
		errs = append(errs, fmt.Errorf("ledger.dsn is required for %s", c.Ledger.Backend))
	}

	if err := oneOf("notify.transport", c.Notify.Transport, "log", "webhook", "none"); err != nil {
		errs = append(errs, err)
	}
	if c.Notify.Transport == "webhook" && c.Notify.WebhookURL == "" {
		errs = append(errs, errors.New("notify.webhook_url is required for webhook"))
	}

	if err := oneOf("audio.player", c.Audio.Player, "broadcast", "wav", "none"); err != nil {
		errs = append(errs, err)
	}
	if c.Audio.Player == "wav" && c.Audio.File == "" && len(c.Audio.Command) == 0 {
		errs = append(errs, errors.New("audio.file or audio.command is required for wav"))
	}

	seen := make(map[types.BoardKey]bool)
	for i, b := range c.Boards {
		key, err := b.Key()
		if err != nil {
			errs = append(errs, fmt.Errorf("boards[%d]: %w", i, err))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("boards[%d]: duplicate board %s", i, key))
		}
		seen[key] = true
	}

	return errors.Join(errs...)
}

// BoardKeys returns the validated keys of the configured boards
func (c *Config) BoardKeys() ([]types.BoardKey, error) {
	keys := make([]types.BoardKey, 0, len(c.Boards))
	for _, b := range c.Boards {
		key, err := b.Key()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
