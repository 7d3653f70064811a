package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viniciushammett/go-log-relearn/internal/normalize"
	"github.com/viniciushammett/go-log-relearn/internal/store"
	"github.com/viniciushammett/go-log-relearn/internal/tracing"
)

type Server struct {
	Addr        string   `yaml:"addr"`
	AuthToken   string   `yaml:"authToken"` // opcional, protege /v1/fit e /v1/retrain
	CORSOrigins []string `yaml:"corsOrigins"`
}

type Detector struct {
	DistanceQuantile float64 `yaml:"distanceQuantile"`
	DefaultK         int     `yaml:"defaultK"`
	MaxFeatures      int     `yaml:"maxFeatures"`
	Restarts         int     `yaml:"restarts"`
	Seed             int64   `yaml:"seed"`
	MaxCorpus        int     `yaml:"maxCorpus"`
}

type Thresholds struct {
	PatternTriggerCount   int `yaml:"patternTriggerCount"`
	MaxActionsPerHostHour int `yaml:"maxActionsPerHostHour"`
}

type Actions struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxTrackedKeys int           `yaml:"maxTrackedKeys"`
}

type Retrain struct {
	Schedule string `yaml:"schedule"` // cron, vazio desliga
	Refit    *bool  `yaml:"refit"`
}

type Slack struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type Normalizer struct {
	Rules []normalize.Rule `yaml:"rules"`
}

type Config struct {
	LogLevel   string            `yaml:"logLevel"`
	Server     Server            `yaml:"server"`
	Storage    store.Config      `yaml:"storage"`
	Detector   Detector          `yaml:"detector"`
	Thresholds Thresholds        `yaml:"thresholds"`
	Providers  map[string]string `yaml:"providers"` // nome -> base URL
	Actions    Actions           `yaml:"actions"`
	Retrain    Retrain           `yaml:"retrain"`
	Slack      Slack             `yaml:"slack"`
	Tracing    tracing.Config    `yaml:"tracing"`
	Normalizer Normalizer        `yaml:"normalizer"`
}

// Load reads path, falls back to defaults when the file does not exist, and
// applies environment overrides.
func Load(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, "RELEARN_ADDR")
	set(&c.Storage.Backend, "RELEARN_STORAGE_BACKEND")
	set(&c.Storage.Dir, "RELEARN_DATA_DIR")
	set(&c.Server.AuthToken, "RELEARN_AUTH_TOKEN")
	set(&c.LogLevel, "LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Detector.DistanceQuantile == 0 {
		c.Detector.DistanceQuantile = 0.95
	}
	if c.Detector.DefaultK == 0 {
		c.Detector.DefaultK = 8
	}
	if c.Detector.MaxFeatures == 0 {
		c.Detector.MaxFeatures = 5000
	}
	if c.Detector.Restarts == 0 {
		c.Detector.Restarts = 10
	}
	if c.Detector.Seed == 0 {
		c.Detector.Seed = 42
	}
	if c.Detector.MaxCorpus == 0 {
		c.Detector.MaxCorpus = 20000
	}
	if c.Thresholds.PatternTriggerCount == 0 {
		c.Thresholds.PatternTriggerCount = 5
	}
	if c.Thresholds.MaxActionsPerHostHour == 0 {
		c.Thresholds.MaxActionsPerHostHour = 3
	}
	if c.Actions.Timeout == 0 {
		c.Actions.Timeout = 5 * time.Second
	}
	if c.Actions.MaxTrackedKeys == 0 {
		c.Actions.MaxTrackedKeys = 10000
	}
	if c.Retrain.Refit == nil {
		on := true
		c.Retrain.Refit = &on
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "relearn"
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = "localhost:4317"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1.0
	}
}

// RefitOnRetrain reports whether a retrain trigger refits the detector.
func (c *Config) RefitOnRetrain() bool { return c.Retrain.Refit == nil || *c.Retrain.Refit }

func (c *Config) Validate() error {
	var errs []error
	if q := c.Detector.DistanceQuantile; q <= 0 || q > 1 {
		errs = append(errs, fmt.Errorf("detector.distanceQuantile must be in (0,1], got %v", q))
	}
	if c.Detector.DefaultK < 1 {
		errs = append(errs, fmt.Errorf("detector.defaultK must be >= 1, got %d", c.Detector.DefaultK))
	}
	if c.Thresholds.PatternTriggerCount < 1 {
		errs = append(errs, fmt.Errorf("thresholds.patternTriggerCount must be >= 1, got %d", c.Thresholds.PatternTriggerCount))
	}
	if c.Thresholds.MaxActionsPerHostHour < 1 {
		errs = append(errs, fmt.Errorf("thresholds.maxActionsPerHostHour must be >= 1, got %d", c.Thresholds.MaxActionsPerHostHour))
	}
	switch c.Storage.Backend {
	case "file", "bolt":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be file or bolt, got %q", c.Storage.Backend))
	}
	for name, base := range c.Providers {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("providers.%s: %q is not an http(s) URL", name, base))
		}
	}
	if c.Slack.Enabled && strings.TrimSpace(c.Slack.Webhook) == "" {
		errs = append(errs, errors.New("slack.enabled requires slack.webhook"))
	}
	return errors.Join(errs...)
}
