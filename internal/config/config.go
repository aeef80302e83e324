package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models streakline.yml.
type Config struct {
	Clock struct {
		Timezone   string `yaml:"timezone"`
		CutoffHour int    `yaml:"cutoff_hour"`
	} `yaml:"clock"`
	Registration struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"registration"`
	Accounting struct {
		MissedLookbackDays int  `yaml:"missed_lookback_days"`
		NeglectDays        int  `yaml:"neglect_days"`
		ExemptionsNeutral  bool `yaml:"exemptions_neutral"`
	} `yaml:"accounting"`
	// Schedule maps trigger names to standard five-field cron specs.
	Schedule      map[string]string `yaml:"schedule"`
	Notifications struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Admins []string `yaml:"admins"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Facts          []string `yaml:"facts"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        bool     `yaml:"enabled"`
}

// Timeout returns the per-delivery timeout, 5s when unset.
func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// RegistrationTimeout is the per-step inactivity limit of the dialogue.
func (c *Config) RegistrationTimeout() time.Duration {
	return time.Duration(c.Registration.TimeoutSeconds) * time.Second
}

var knownLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Clock.Timezone != "" && c.Clock.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Clock.Timezone); err != nil {
			return fmt.Errorf("config.clock.timezone: %w", err)
		}
	}
	if c.Clock.CutoffHour < 1 || c.Clock.CutoffHour > 23 {
		return fmt.Errorf("config.clock.cutoff_hour must be between 1 and 23")
	}
	if c.Registration.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.registration.timeout_seconds must be positive")
	}
	if c.Accounting.MissedLookbackDays <= 0 {
		return fmt.Errorf("config.accounting.missed_lookback_days must be positive")
	}
	if c.Accounting.NeglectDays <= 0 {
		return fmt.Errorf("config.accounting.neglect_days must be positive")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for trigger, spec := range c.Schedule {
		if !knownTriggers[trigger] {
			return fmt.Errorf("config.schedule has unknown trigger %s", trigger)
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("config.schedule.%s: %w", trigger, err)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url must be an http(s) url", i)
		}
		for _, fact := range hook.Facts {
			if strings.TrimSpace(fact) == "" {
				return fmt.Errorf("config.notifications.webhooks[%d] has empty fact filter", i)
			}
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Log.Level != "" && !knownLevels[c.Log.Level] {
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	for _, id := range c.Admins {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config.admins contains empty id")
		}
	}
	return nil
}

// knownTriggers mirrors the scheduler's trigger names.
var knownTriggers = map[string]bool{
	"daily":          true,
	"weekly":         true,
	"friday-morning": true,
	"friday-evening": true,
	"neglect-sweep":  true,
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "streakline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(timezone string) string {
	if timezone == "" {
		timezone = "Local"
	}
	return fmt.Sprintf(defaultTemplate, timezone)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault("")), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Schedule = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Schedule == nil {
		cfg.Schedule = Default().Schedule
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `clock:
  timezone: %s
  cutoff_hour: 7

registration:
  timeout_seconds: 300

accounting:
  missed_lookback_days: 30
  neglect_days: 3
  exemptions_neutral: true

schedule:
  daily: "0 7 * * *"
  weekly: "0 8 * * 0"
  friday-morning: "0 8 * * 5"
  friday-evening: "0 20 * * 5"
  neglect-sweep: "1 7 * * *"

notifications:
  webhooks: []

server:
  addr: "127.0.0.1:8080"
  base_path: /v0
  allow_legacy_actor_header: false

log:
  level: info

admins: []
`
