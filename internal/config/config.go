// Package config loads mindgate.yaml, applies MINDGATE_* environment
// overrides and watches the file for route and log level changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harrylevesque/mindgate/internal/crypto"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/retry"
	"github.com/harrylevesque/mindgate/internal/utils"
)

// DefaultFile is the config file looked up when no path is given.
const DefaultFile = "mindgate.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	MLURL   string        `yaml:"ml_url"`
	Timeout time.Duration `yaml:"timeout"`
	// CAFile is a PEM bundle or directory trusted for backend TLS.
	CAFile string `yaml:"ca_file"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Required  bool   `yaml:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
	// PseudonymKey is the hex master key for log pseudonyms. PseudonymKeyFile
	// is read when it is empty. With neither, a random key is used per process.
	PseudonymKey     string `yaml:"pseudonym_key"`
	PseudonymKeyFile string `yaml:"pseudonym_key_file"`
}

// Config is the whole gateway configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Retry   RetryConfig   `yaml:"retry"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	// Routes are tried before the built-in route table.
	Routes []proxy.Rule `yaml:"routes"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000/api/v1",
			Timeout: 60 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   p.MaxRetries,
			InitialDelay: p.InitialDelay,
			MaxDelay:     p.MaxDelay,
			Multiplier:   p.Multiplier,
			Jitter:       p.Jitter,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path looks for DefaultFile in the working directory and the project
// root, and a missing default file is not an error.
func Load(path string) (*Config, error) {
	return load(path, osGetenv)
}

var osGetenv = os.Getenv

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = utils.FindFile(DefaultFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, "MINDGATE_ADDR")
	set(&c.Backend.BaseURL, "MINDGATE_BACKEND_URL")
	set(&c.Backend.MLURL, "MINDGATE_ML_URL")
	set(&c.Auth.JWTSecret, "MINDGATE_JWT_SECRET")
	set(&c.Logging.Level, "MINDGATE_LOG_LEVEL")
	set(&c.Logging.PseudonymKey, "MINDGATE_PSEUDONYM_KEY")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if err := checkURL(c.Backend.BaseURL); err != nil {
		add("backend.base_url: %v", err)
	}
	if c.Backend.MLURL != "" {
		if err := checkURL(c.Backend.MLURL); err != nil {
			add("backend.ml_url: %v", err)
		}
	}
	if c.Backend.Timeout <= 0 {
		add("backend.timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		add("retry delays must satisfy 0 < initial_delay <= max_delay")
	}
	if c.Retry.Multiplier < 1 {
		add("retry.multiplier must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		add("retry.jitter must be in [0, 1)")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		add("auth.required needs auth.jwt_secret")
	}
	if err := utils.SetLevel(zap.NewAtomicLevel(), c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	if c.Logging.PseudonymKey != "" {
		if _, err := crypto.ParseKey(c.Logging.PseudonymKey); err != nil {
			add("logging.pseudonym_key: %v", err)
		}
	}
	if _, err := proxy.NewMapper(c.Routes); err != nil {
		add("routes: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https url", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// MLURL is the ML API root, which defaults to the backend base url.
func (c *Config) MLURL() string {
	if c.Backend.MLURL != "" {
		return c.Backend.MLURL
	}
	return c.Backend.BaseURL
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// RouteRules returns the configured routes followed by the built-in table.
func (c *Config) RouteRules() []proxy.Rule {
	rules := make([]proxy.Rule, 0, len(c.Routes)+len(proxy.DefaultRules()))
	rules = append(rules, c.Routes...)
	return append(rules, proxy.DefaultRules()...)
}

// Mapper compiles RouteRules.
func (c *Config) Mapper() (*proxy.Mapper, error) {
	return proxy.NewMapper(c.RouteRules())
}

// PseudonymKey returns the configured master key, or nil when none is set.
func (c *Config) PseudonymKey() ([]byte, error) {
	h := c.Logging.PseudonymKey
	if h == "" && c.Logging.PseudonymKeyFile != "" {
		data, err := os.ReadFile(c.Logging.PseudonymKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read pseudonym key: %w", err)
		}
		h = strings.TrimSpace(string(data))
	}
	if h == "" {
		return nil, nil
	}
	return crypto.ParseKey(h)
}
