// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the embedder.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxSize is 25 MB in bytes.
const defaultMaxSize = 26214400

const (
	defaultConcurrency = 3
	defaultTimeout     = 3 * time.Minute
	defaultCacheDir    = "./media"
	defaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:93.0) Gecko/20100101 Firefox/93.0"
)

// Provider names accepted in Config.Provider.
const (
	ProviderFile   = "file"
	ProviderStdout = "stdout"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
)

// ErrInvalidProxy is returned when the configured proxy is not a usable URL.
var ErrInvalidProxy = errors.New("invalid proxy url")

// Config holds the complete application configuration.
type Config struct {
	Fetch    FetchConfig   `yaml:"fetch"`
	Output   OutputConfig  `yaml:"output"`
	Provider string        `yaml:"provider"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Logging  LoggingConfig `yaml:"logging"`
}

// FetchConfig controls how remote images are downloaded.
type FetchConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	Timeout            time.Duration `yaml:"timeout"`
	UserAgent          string        `yaml:"user_agent"`
	CacheDir           string        `yaml:"cache_dir"`
	ReuseCache         bool          `yaml:"reuse_cache"`
	MaxSize            int64         `yaml:"max_size"`
	Proxy              string        `yaml:"proxy"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// OutputConfig holds the input extension and the suffix that replaces it
// on output files.
type OutputConfig struct {
	Extension string `yaml:"extension"`
	Suffix    string `yaml:"suffix"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string   `yaml:"region"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	Sender          string   `yaml:"sender"`
	Recipients      []string `yaml:"recipients"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string   `yaml:"tenant_id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Sender       string   `yaml:"sender"`
	Recipients   []string `yaml:"recipients"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate reports the first setting that would make a run fail.
func (c *Config) Validate() error {
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch concurrency must be positive, got %d", c.Fetch.Concurrency)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxSize <= 0 {
		return fmt.Errorf("fetch max size must be positive, got %d", c.Fetch.MaxSize)
	}
	if _, err := c.ProxyURL(); err != nil {
		return err
	}

	switch c.Provider {
	case ProviderFile, ProviderStdout:
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("provider %q requires SES_REGION", c.Provider)
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			return fmt.Errorf("provider %q requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

// ProxyURL parses the configured proxy. It returns nil when no proxy is set.
// A value without a scheme is taken as an http proxy.
func (c *Config) ProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Fetch.Proxy)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidProxy, c.Fetch.Proxy)
	}
	return u, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if an SES region is set. Credentials fall back
// to the AWS default chain and the sender to the message's From header.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Fetch.Concurrency = defaultConcurrency
	c.Fetch.Timeout = defaultTimeout
	c.Fetch.UserAgent = defaultUserAgent
	c.Fetch.CacheDir = defaultCacheDir
	c.Fetch.MaxSize = defaultMaxSize
	c.Output.Extension = ".eml"
	c.Output.Suffix = ".embed.eml"
	c.Provider = ProviderFile
	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("EMBED_FETCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Fetch.Concurrency = n
		}
	}
	if v := os.Getenv("EMBED_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("EMBED_USER_AGENT"); v != "" {
		c.Fetch.UserAgent = v
	}
	if v := os.Getenv("EMBED_CACHE_DIR"); v != "" {
		c.Fetch.CacheDir = v
	}
	if v := os.Getenv("EMBED_REUSE_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Fetch.ReuseCache = b
		}
	}
	if v := os.Getenv("EMBED_FETCH_MAX_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Fetch.MaxSize = size
		}
	}
	if v := firstEnv("http_proxy", "HTTP_PROXY"); v != "" {
		c.Fetch.Proxy = v
	}
	if v := os.Getenv("EMBED_CA_FILE"); v != "" {
		c.Fetch.CAFile = v
	}
	if v := os.Getenv("EMBED_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Fetch.InsecureSkipVerify = b
		}
	}

	if v := os.Getenv("EMBED_INPUT_EXT"); v != "" {
		c.Output.Extension = v
	}
	if v := os.Getenv("EMBED_OUTPUT_SUFFIX"); v != "" {
		c.Output.Suffix = v
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_RECIPIENTS"); v != "" {
		c.SES.Recipients = splitList(v)
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}
	if v := os.Getenv("GRAPH_RECIPIENTS"); v != "" {
		c.Graph.Recipients = splitList(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

// firstEnv returns the value of the first non-empty variable in names.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma separated list, dropping empty items.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
