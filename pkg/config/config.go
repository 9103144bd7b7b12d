// Package config loads aide's settings from $AIDE_HOME/config.yaml (or
// config.toml) and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"aide/pkg/protocol"
	"aide/pkg/trust"
)

// DefaultListen is the address `aide serve` binds when none is configured.
const DefaultListen = "127.0.0.1:7717"

// Duration is a time.Duration written as "30s" or "168h" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// MarshalText renders d as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the on-disk configuration. Zero values take defaults.
type Config struct {
	Listen     string   `yaml:"listen" toml:"listen"`
	Classifier string   `yaml:"classifier" toml:"classifier"` // keyword | model
	Log        Log      `yaml:"log" toml:"log"`
	LLM        LLM      `yaml:"llm" toml:"llm"`
	Trust      Trust    `yaml:"trust" toml:"trust"`
	Approval   Approval `yaml:"approval" toml:"approval"`
	Activity   Activity `yaml:"activity" toml:"activity"`
	Tracing    Tracing  `yaml:"tracing" toml:"tracing"`
}

// Log configures the zap logger.
type Log struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// LLM selects the text generator. Provider is "offline" or "gemini"; the
// API key is read from the environment variable named by APIKeyEnv.
type LLM struct {
	Provider  string `yaml:"provider" toml:"provider"`
	Model     string `yaml:"model" toml:"model"`
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env"`
}

// Trust mirrors trust.Policy. Unset fields keep the default policy values.
type Trust struct {
	EscalateFromNew     int      `yaml:"escalate_from_new" toml:"escalate_from_new"`
	EscalateFromTrusted int      `yaml:"escalate_from_trusted" toml:"escalate_from_trusted"`
	SuccessRatioMin     float64  `yaml:"success_ratio_min" toml:"success_ratio_min"`
	ViolationWindow     Duration `yaml:"violation_window" toml:"violation_window"`
	ViolationLimit      *int     `yaml:"violation_limit" toml:"violation_limit"`
	RequiredWrite       int      `yaml:"required_write" toml:"required_write"`
	RequiredSend        int      `yaml:"required_send" toml:"required_send"`
	RequiredDelete      int      `yaml:"required_delete" toml:"required_delete"`
}

// Approval configures the approval gate.
type Approval struct {
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
	SweepInterval  Duration `yaml:"sweep_interval" toml:"sweep_interval"`
}

// Activity configures the live activity stream.
type Activity struct {
	QueueCapacity int      `yaml:"queue_capacity" toml:"queue_capacity"`
	PingInterval  Duration `yaml:"ping_interval" toml:"ping_interval"`
}

// Tracing configures span export. An empty Endpoint disables export.
type Tracing struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"` // OTLP/HTTP host:port
	Insecure bool   `yaml:"insecure" toml:"insecure"` // plain HTTP
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Classifier == "" {
		c.Classifier = "keyword"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "offline"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Approval.TimeoutSeconds <= 0 {
		c.Approval.TimeoutSeconds = 300
	}
	if c.Approval.SweepInterval.Duration <= 0 {
		c.Approval.SweepInterval.Duration = 15 * time.Second
	}
	if c.Activity.QueueCapacity <= 0 {
		c.Activity.QueueCapacity = 100
	}
	if c.Activity.PingInterval.Duration <= 0 {
		c.Activity.PingInterval.Duration = 30 * time.Second
	}
	return c
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{}.withDefaults()
}

// Policy builds the trust policy: the defaults with every configured field
// applied.
func (c Config) Policy() trust.Policy {
	p := trust.DefaultPolicy()
	t := c.Trust
	if t.EscalateFromNew != 0 {
		p.EscalationThresholds[protocol.LevelNew] = t.EscalateFromNew
	}
	if t.EscalateFromTrusted != 0 {
		p.EscalationThresholds[protocol.LevelTrusted] = t.EscalateFromTrusted
	}
	if t.SuccessRatioMin != 0 {
		p.SuccessRatioMin = t.SuccessRatioMin
	}
	if t.ViolationWindow.Duration != 0 {
		p.ViolationWindow = t.ViolationWindow.Duration
	}
	if t.ViolationLimit != nil {
		p.ViolationLimit = *t.ViolationLimit
	}
	for tier, lvl := range map[protocol.RiskTier]int{
		protocol.RiskWrite:  t.RequiredWrite,
		protocol.RiskSend:   t.RequiredSend,
		protocol.RiskDelete: t.RequiredDelete,
	} {
		if lvl != 0 {
			p.RequiredLevels[tier] = protocol.TrustLevel(lvl)
		}
	}
	return p
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch c.Classifier {
	case "keyword", "model":
	default:
		return fmt.Errorf("unknown classifier %q (want keyword or model)", c.Classifier)
	}
	switch c.LLM.Provider {
	case "offline", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q (want offline or gemini)", c.LLM.Provider)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("trust policy: %w", err)
	}
	return nil
}

// Load reads path, decoding TOML for a .toml extension and YAML otherwise.
// A missing file yields Default().
func Load(path string) (Config, error) {
	//nolint:gosec // path comes from ResolvePaths or a flag
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}
