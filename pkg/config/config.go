package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// Config holds all warden configuration.
type Config struct {
	Listen string `yaml:"listen"`
	// TrustProxyHeaders makes X-Forwarded-For / X-Real-IP decide the client
	// identity. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
	// AdminToken, when set, is required as a bearer token on the
	// /api/governance admin routes.
	AdminToken string             `yaml:"admin_token"`
	Log        logging.Config     `yaml:"log"`
	Providers  []ProviderConfig   `yaml:"providers"`
	Router     RouterConfig       `yaml:"router"`
	Upstream   UpstreamConfig     `yaml:"upstream"`
	Governance GovernanceConfig   `yaml:"governance"`
	Audit      models.AuditConfig `yaml:"audit"`
	Metrics    MetricsConfig      `yaml:"metrics"`
}

// RouterConfig defines model routing and fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an OpenAI-compatible upstream provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// UpstreamConfig controls the generation call.
type UpstreamConfig struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	// OffTopicMarker is the literal prefix the model emits on off-topic answers.
	OffTopicMarker string        `yaml:"off_topic_marker"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
}

// GovernanceConfig holds the cache, rate limit and escalation settings.
type GovernanceConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheCapacity   int           `yaml:"cache_capacity"`
	RateLimit       int           `yaml:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window"`
	StrikeLimit     int           `yaml:"strike_limit"`
	StrikeWindow    time.Duration `yaml:"strike_window"`
	PenaltyDuration time.Duration `yaml:"penalty_duration"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	Shards          int           `yaml:"shards"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultOffTopicMarker is the prefix the default system prompt asks for.
const DefaultOffTopicMarker = "[OFF_TOPIC]"

// DefaultSystemPrompt scopes the assistant to RDF/SHACL data curation work and
// asks the model to tag off-topic answers.
const DefaultSystemPrompt = `You are an AI assistant for a framework that curates and distributes reference datasets as RDF graphs.

The application covers:
1. Data Generation: converting data sources into RDF graphs (Turtle .ttl files)
2. Data Validation: validating RDF data with SHACL shapes
3. Workflow Management: the pipeline from generation to validation

Help users by explaining RDF and SHACL concepts, guiding them through the workflow, troubleshooting validation errors and explaining schema requirements.

For greetings, respond warmly, introduce yourself briefly and invite questions about the application.

For questions unrelated to RDF, SHACL, data validation, workflows or the semantic web, start your reply with the exact token ` + DefaultOffTopicMarker + ` and then politely redirect the user to your area of expertise.

Be concise and technical when needed.`

// Default returns a Config with the reference governance settings.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log:    logging.Config{Level: "info", Format: "json"},
		Upstream: UpstreamConfig{
			Model:          "gpt-4o-mini",
			SystemPrompt:   DefaultSystemPrompt,
			OffTopicMarker: DefaultOffTopicMarker,
			Temperature:    0.7,
			MaxTokens:      500,
			Timeout:        60 * time.Second,
		},
		Governance: GovernanceConfig{
			CacheTTL:        5 * time.Minute,
			CacheCapacity:   100,
			RateLimit:       10,
			RateWindow:      2 * time.Minute,
			StrikeLimit:     3,
			StrikeWindow:    10 * time.Minute,
			PenaltyDuration: 5 * time.Minute,
			SweepInterval:   5 * time.Minute,
			Shards:          32,
		},
		Audit: models.AuditConfig{
			Enabled:        false,
			DBPath:         "warden-audit.db",
			RetentionDays:  30,
			RedactIdentity: true,
			MaxFieldSize:   2048,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file next to the config, when present, is loaded first without overriding
// variables already set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate reports every problem found in cfg.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen must be set"))
	}
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
		}
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: url is required", i))
		}
	}
	if c.Upstream.Model == "" {
		errs = append(errs, errors.New("upstream.model is required"))
	}
	if strings.TrimSpace(c.Upstream.OffTopicMarker) == "" {
		errs = append(errs, errors.New("upstream.off_topic_marker is required"))
	}

	g := c.Governance
	positiveDurations := map[string]time.Duration{
		"cache_ttl":        g.CacheTTL,
		"rate_window":      g.RateWindow,
		"strike_window":    g.StrikeWindow,
		"penalty_duration": g.PenaltyDuration,
		"sweep_interval":   g.SweepInterval,
	}
	for _, name := range []string{"cache_ttl", "rate_window", "strike_window", "penalty_duration", "sweep_interval"} {
		if positiveDurations[name] <= 0 {
			errs = append(errs, fmt.Errorf("governance.%s must be positive", name))
		}
	}
	positiveInts := []struct {
		name string
		v    int
	}{
		{"cache_capacity", g.CacheCapacity},
		{"rate_limit", g.RateLimit},
		{"strike_limit", g.StrikeLimit},
	}
	for _, p := range positiveInts {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("governance.%s must be positive", p.name))
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		errs = append(errs, errors.New("audit.db_path is required when audit is enabled"))
	}

	return errors.Join(errs...)
}
