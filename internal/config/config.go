package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genricoloni/cadence/internal/scheduler"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const (
	// EnvPrefix prefixes every environment override; "__" separates nested keys,
	// e.g. CADENCE_SCHEDULER__EARLY_TRIGGER_US
	EnvPrefix = "CADENCE_"
	// EnvConfigPath points at an explicit config file
	EnvConfigPath = "CADENCE_CONFIG"

	EngineLocal = "local"
	EngineMpris = "mpris"

	defaultMprisPlayer   = "spotify"
	defaultPollInterval  = 100 * time.Millisecond
	defaultNotifyEveryUs = 5_000_000
	defaultLogLevel      = "info"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// AppConfig holds application configuration
type AppConfig struct {
	Engine    string          `koanf:"engine"`
	Source    string          `koanf:"source"`
	KeepAwake bool            `koanf:"keep_awake"`
	Mpris     MprisConfig     `koanf:"mpris"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Daemon    DaemonConfig    `koanf:"daemon"`
	Log       LogConfig       `koanf:"log"`
}

type MprisConfig struct {
	Player string `koanf:"player"` // bus name suffix after org.mpris.MediaPlayer2.
}

type SchedulerConfig struct {
	EarlyTriggerUs  int64 `koanf:"early_trigger_us"`
	SeekThresholdUs int64 `koanf:"seek_threshold_us"`
}

type DaemonConfig struct {
	PollInterval  time.Duration `koanf:"poll_interval"`   // position log interval
	NotifyEveryUs int64         `koanf:"notify_every_us"` // media-time marker spacing
}

type LogConfig struct {
	Level string `koanf:"level"`
}

func defaults() *AppConfig {
	return &AppConfig{
		Engine:    EngineLocal,
		KeepAwake: true,
		Mpris:     MprisConfig{Player: defaultMprisPlayer},
		Scheduler: SchedulerConfig{
			EarlyTriggerUs:  scheduler.DefaultEarlyTriggerUs,
			SeekThresholdUs: 1_000_000,
		},
		Daemon: DaemonConfig{
			PollInterval:  defaultPollInterval,
			NotifyEveryUs: defaultNotifyEveryUs,
		},
		Log: LogConfig{Level: defaultLogLevel},
	}
}

// NewAppConfig loads the configuration from the default file location and the environment
func NewAppConfig(logger *zap.Logger) (*AppConfig, error) {
	cfg, err := Load(configPath())
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("engine", cfg.Engine),
		zap.String("source", cfg.Source),
		zap.String("logLevel", cfg.Log.Level),
		zap.Bool("keepAwake", cfg.KeepAwake))

	return cfg, nil
}

// Load layers defaults, the TOML file at path (if it exists) and environment overrides.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Source = expandPath(cfg.Source)
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Engine != EngineLocal && c.Engine != EngineMpris {
		return fmt.Errorf("%w: engine %q (want %q or %q)", ErrInvalidConfig, c.Engine, EngineLocal, EngineMpris)
	}
	if c.Scheduler.EarlyTriggerUs <= 0 {
		return fmt.Errorf("%w: scheduler.early_trigger_us must be positive", ErrInvalidConfig)
	}
	if c.Scheduler.SeekThresholdUs <= 0 {
		return fmt.Errorf("%w: scheduler.seek_threshold_us must be positive", ErrInvalidConfig)
	}
	if c.Daemon.PollInterval <= 0 {
		return fmt.Errorf("%w: daemon.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Engine == EngineMpris && c.Mpris.Player == "" {
		return fmt.Errorf("%w: mpris.player is required for the mpris engine", ErrInvalidConfig)
	}
	return nil
}

// envKey maps CADENCE_MPRIS__PLAYER to mpris.player.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func configPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return expandPath(p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "cadence", "config.toml")
	}
	return ""
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetEngine returns the engine backend name
func (c *AppConfig) GetEngine() string {
	return c.Engine
}

// GetSource returns the locator the daemon plays
func (c *AppConfig) GetSource() string {
	return c.Source
}

func (c *AppConfig) GetMprisPlayer() string {
	return c.Mpris.Player
}

func (c *AppConfig) GetEarlyTriggerUs() int64 {
	return c.Scheduler.EarlyTriggerUs
}

func (c *AppConfig) GetSeekThresholdUs() int64 {
	return c.Scheduler.SeekThresholdUs
}

func (c *AppConfig) GetKeepAwake() bool {
	return c.KeepAwake
}

// GetPollInterval returns how often the daemon logs the playback position
func (c *AppConfig) GetPollInterval() time.Duration {
	return c.Daemon.PollInterval
}

// GetNotifyEveryUs returns the spacing of the daemon's media-time markers
func (c *AppConfig) GetNotifyEveryUs() int64 {
	return c.Daemon.NotifyEveryUs
}

func (c *AppConfig) GetLogLevel() string {
	return c.Log.Level
}
