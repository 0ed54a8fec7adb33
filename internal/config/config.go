package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	EQ       EQConfig       `yaml:"eq"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Parser   ParserConfig   `yaml:"parser"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Upload   UploadConfig   `yaml:"upload"`
	NATS     NATSConfig     `yaml:"nats"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// EQConfig locates the EverQuest client logs
type EQConfig struct {
	LogDir    string `yaml:"log_dir"`
	LogFile   string `yaml:"log_file"`  // explicit log file; overrides newest-file selection
	Character string `yaml:"character"` // officer's own character, used as speaker for "You tell ..." lines
}

// ServerConfig holds live HTTP server settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	HTTPPort     int           `yaml:"http_port"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API token settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// ParserConfig controls line classification and the population listing state machine
type ParserConfig struct {
	Channels        []string      `yaml:"channels"` // "raid", "guild" and custom channel names
	WhoHeaderWindow time.Duration `yaml:"who_header_window"`
}

// AnalysisConfig holds reconciliation thresholds
type AnalysisConfig struct {
	KillWindow       time.Duration `yaml:"kill_window"`
	TimeCallWindow   time.Duration `yaml:"time_call_window"`
	CrashLeaveWindow time.Duration `yaml:"crash_leave_window"`
	DuplicateWindow  time.Duration `yaml:"duplicate_window"`
	ZealMatchWindow  time.Duration `yaml:"zeal_match_window"`
	RaidGap          time.Duration `yaml:"raid_gap"`
	TypoDistance     int           `yaml:"typo_distance"`
	Zones            []Zone        `yaml:"zones"`
}

// Zone is a valid raid zone with its known bosses
type Zone struct {
	Name   string   `yaml:"name"`
	Bosses []string `yaml:"bosses"`
}

// UploadConfig holds the external DKP server settings
type UploadConfig struct {
	BaseURL   string           `yaml:"base_url"`
	APISecret string           `yaml:"api_secret"`
	Guild     string           `yaml:"guild"`
	Timeout   time.Duration    `yaml:"timeout"`
	Discounts []DiscountConfig `yaml:"discounts"`
}

// DiscountConfig is a class/attendance based spend discount rule
type DiscountConfig struct {
	Name          string        `yaml:"name"`
	Classes       []string      `yaml:"classes"`
	MinAttendance float64       `yaml:"min_attendance"` // 0..1
	Window        time.Duration `yaml:"window"`
	Multiplier    float64       `yaml:"multiplier"`
}

// NATSConfig enables optional event fan-out. With Embedded set, serve runs
// an in-process NATS server on Port and publishes to it.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Embedded bool   `yaml:"embedded"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := preset()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := preset()
	cfg.applyDefaults()
	return &cfg
}

// preset holds defaults for fields where zero is a valid setting; the YAML
// is decoded over it so only keys present in the file replace them
func preset() Config {
	return Config{Analysis: AnalysisConfig{TypoDistance: 2}}
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8090
	}
	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = 100 * time.Millisecond
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "raidkeeper.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if len(cfg.Parser.Channels) == 0 {
		cfg.Parser.Channels = []string{"raid", "guild", "*"}
	}
	if cfg.Parser.WhoHeaderWindow == 0 {
		cfg.Parser.WhoHeaderWindow = 3 * time.Second
	}

	a := &cfg.Analysis
	if a.KillWindow == 0 {
		a.KillWindow = 30 * time.Minute
	}
	if a.TimeCallWindow == 0 {
		a.TimeCallWindow = time.Hour
	}
	if a.CrashLeaveWindow == 0 {
		a.CrashLeaveWindow = 15 * time.Minute
	}
	if a.DuplicateWindow == 0 {
		a.DuplicateWindow = 2 * time.Second
	}
	if a.ZealMatchWindow == 0 {
		a.ZealMatchWindow = 2 * time.Minute
	}
	if a.RaidGap == 0 {
		a.RaidGap = 4 * time.Hour
	}

	if cfg.Upload.Timeout == 0 {
		cfg.Upload.Timeout = 30 * time.Second
	}
	for i := range cfg.Upload.Discounts {
		if cfg.Upload.Discounts[i].Window == 0 {
			cfg.Upload.Discounts[i].Window = 30 * 24 * time.Hour
		}
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "raidkeeper.events"
	}
	if cfg.NATS.Embedded {
		if cfg.NATS.Host == "" {
			cfg.NATS.Host = "127.0.0.1"
		}
		if cfg.NATS.Port == 0 {
			cfg.NATS.Port = 4222
		}
	}
}

// Validate rejects settings the analyzer cannot work with
func (cfg *Config) Validate() error {
	for _, d := range cfg.Upload.Discounts {
		if d.Multiplier < 0 {
			return fmt.Errorf("discount %q: multiplier must not be negative", d.Name)
		}
		if d.MinAttendance < 0 || d.MinAttendance > 1 {
			return fmt.Errorf("discount %q: min_attendance must be between 0 and 1", d.Name)
		}
	}
	if cfg.Analysis.TypoDistance < 0 {
		return fmt.Errorf("analysis.typo_distance must not be negative")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	return nil
}

// ZoneNames returns the configured raid zones
func (a AnalysisConfig) ZoneNames() []string {
	names := make([]string, 0, len(a.Zones))
	for _, z := range a.Zones {
		names = append(names, z.Name)
	}
	return names
}

// Bosses returns every configured boss across all zones
func (a AnalysisConfig) Bosses() []string {
	var bosses []string
	for _, z := range a.Zones {
		bosses = append(bosses, z.Bosses...)
	}
	return bosses
}
