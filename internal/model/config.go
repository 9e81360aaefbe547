package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GraphConfig holds the provider and identity settings for the single
// configured mailbox.
type GraphConfig struct {
	TenantID     string `mapstructure:"tenant_id" yaml:"tenant_id"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`

	// Mailbox is the user principal whose inbox is synced and who sends mail.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// IdentityEndpoint is the authority host, without the tenant.
	IdentityEndpoint string `mapstructure:"identity_endpoint" yaml:"identity_endpoint"`

	// Endpoint is the API host; APIVersion is appended to form the base URL.
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
}

// Authority returns the tenant-scoped identity authority URL.
func (g GraphConfig) Authority() string {
	return strings.TrimRight(g.IdentityEndpoint, "/") + "/" + g.TenantID
}

// TokenURL returns the client-credentials token endpoint.
func (g GraphConfig) TokenURL() string {
	return g.Authority() + "/oauth2/v2.0/token"
}

// Scope returns the application-permission scope for the API.
func (g GraphConfig) Scope() string {
	return strings.TrimRight(g.Endpoint, "/") + "/.default"
}

// BaseURL returns the versioned API root.
func (g GraphConfig) BaseURL() string {
	return strings.TrimRight(g.Endpoint, "/") + "/" + g.APIVersion
}

// SyncConfig controls the ingestion pipeline and its scheduler.
type SyncConfig struct {
	FetchIntervalMinutes int  `mapstructure:"fetch_interval_minutes" yaml:"fetch_interval_minutes"`
	FetchHours           int  `mapstructure:"fetch_hours" yaml:"fetch_hours"`
	BatchSize            int  `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRetries           int  `mapstructure:"max_retries" yaml:"max_retries"`
	RetrieveAttachments  bool `mapstructure:"retrieve_attachments" yaml:"retrieve_attachments"`
	RetrieveBody         bool `mapstructure:"retrieve_body" yaml:"retrieve_body"`

	WarmupDelaySec      int `mapstructure:"warmup_delay_sec" yaml:"warmup_delay_sec"`
	MisfireGraceMinutes int `mapstructure:"misfire_grace_minutes" yaml:"misfire_grace_minutes"`
	PageDelayMs         int `mapstructure:"page_delay_ms" yaml:"page_delay_ms"`

	// MaxPages and MaxRunMinutes bound the page-follow loop. Zero disables
	// the respective bound.
	MaxPages      int `mapstructure:"max_pages" yaml:"max_pages"`
	MaxRunMinutes int `mapstructure:"max_run_minutes" yaml:"max_run_minutes"`

	// RetryAuthOnPages applies the refresh-and-retry-once behavior to
	// follow-up pages too. Off by default: only the first page retries.
	RetryAuthOnPages bool `mapstructure:"retry_auth_on_pages" yaml:"retry_auth_on_pages"`
}

// Interval is the time between scheduled sync runs.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.FetchIntervalMinutes) * time.Minute
}

// Lookback is how far back a scheduled run fetches mail.
func (s SyncConfig) Lookback() time.Duration {
	return time.Duration(s.FetchHours) * time.Hour
}

// WarmupDelay is the wait before the first scheduled run after start.
func (s SyncConfig) WarmupDelay() time.Duration {
	return time.Duration(s.WarmupDelaySec) * time.Second
}

// MisfireGrace is how late a scheduled run may start before it is skipped.
func (s SyncConfig) MisfireGrace() time.Duration {
	return time.Duration(s.MisfireGraceMinutes) * time.Minute
}

// PageDelay is the pause between fetching consecutive pages.
func (s SyncConfig) PageDelay() time.Duration {
	return time.Duration(s.PageDelayMs) * time.Millisecond
}

// MaxRunDuration bounds one run's page-follow loop; zero means unbounded.
func (s SyncConfig) MaxRunDuration() time.Duration {
	return time.Duration(s.MaxRunMinutes) * time.Minute
}

// StoreConfig holds the local database settings.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds the REST listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LockConfig enables a Redis-backed run lease shared between replicas.
// An empty RedisAddr keeps run exclusion in-process.
type LockConfig struct {
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db" yaml:"redis_db"`
	Key       string `mapstructure:"key" yaml:"key"`
	TTLSec    int    `mapstructure:"ttl_sec" yaml:"ttl_sec"`
}

// TTL is the lifetime of the Redis run lease. The lease is never renewed.
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSec) * time.Second
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Graph  GraphConfig  `mapstructure:"graph" yaml:"graph"`
	Sync   SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Lock   LockConfig   `mapstructure:"lock" yaml:"lock"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// envBindings maps config keys to the environment variables that override
// them.
var envBindings = map[string]string{
	"graph.tenant_id":         "TENANT_ID",
	"graph.client_id":         "CLIENT_ID",
	"graph.client_secret":     "CLIENT_SECRET",
	"graph.mailbox":           "USER_EMAIL",
	"graph.identity_endpoint": "IDENTITY_ENDPOINT",
	"graph.endpoint":          "GRAPH_API_ENDPOINT",
	"graph.api_version":       "GRAPH_API_VERSION",

	"sync.fetch_interval_minutes": "EMAIL_FETCH_INTERVAL_MINUTES",
	"sync.fetch_hours":            "EMAIL_FETCH_HOURS",
	"sync.batch_size":             "EMAIL_BATCH_SIZE",
	"sync.max_retries":            "EMAIL_MAX_RETRIES",
	"sync.retrieve_attachments":   "EMAIL_RETRIEVE_ATTACHMENTS",
	"sync.retrieve_body":          "EMAIL_RETRIEVE_BODY",
	"sync.warmup_delay_sec":       "EMAIL_WARMUP_DELAY_SECONDS",
	"sync.misfire_grace_minutes":  "EMAIL_MISFIRE_GRACE_MINUTES",
	"sync.page_delay_ms":          "EMAIL_PAGE_DELAY_MS",
	"sync.max_pages":              "EMAIL_MAX_PAGES",
	"sync.max_run_minutes":        "EMAIL_MAX_RUN_MINUTES",
	"sync.retry_auth_on_pages":    "EMAIL_RETRY_AUTH_ON_PAGES",

	"store.path":      "MAILGW_DB_PATH",
	"server.addr":     "MAILGW_LISTEN_ADDR",
	"lock.redis_addr": "MAILGW_REDIS_ADDR",
	"lock.redis_db":   "MAILGW_REDIS_DB",
	"log.level":       "MAILGW_LOG_LEVEL",
	"log.format":      "MAILGW_LOG_FORMAT",
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailgw/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailgw", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("graph.identity_endpoint", "https://login.microsoftonline.com")
	v.SetDefault("graph.endpoint", "https://graph.microsoft.com")
	v.SetDefault("graph.api_version", "v1.0")

	v.SetDefault("sync.fetch_interval_minutes", 60)
	v.SetDefault("sync.fetch_hours", 24)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retrieve_attachments", true)
	v.SetDefault("sync.retrieve_body", true)
	v.SetDefault("sync.warmup_delay_sec", 15)
	v.SetDefault("sync.misfire_grace_minutes", 15)
	v.SetDefault("sync.page_delay_ms", 1000)
	v.SetDefault("sync.max_pages", 100)
	v.SetDefault("sync.max_run_minutes", 30)
	v.SetDefault("sync.retry_auth_on_pages", false)

	v.SetDefault("store.path", "mailgw.db")
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("lock.key", "mailgw:sync-lock")
	v.SetDefault("lock.ttl_sec", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and applies environment overrides. A missing file is not an error:
// defaults plus environment are used. An empty path skips the file.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", key, env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// ResolveClientSecret fills an empty client secret from lookup, which is
// keyed by KeyringSecretKey. A lookup failure leaves the secret empty.
func (c *AppConfig) ResolveClientSecret(lookup func(key string) (string, error)) {
	if c.Graph.ClientSecret != "" || c.Graph.ClientID == "" || lookup == nil {
		return
	}
	if secret, err := lookup(KeyringSecretKey(c.Graph.ClientID)); err == nil {
		c.Graph.ClientSecret = secret
	}
}

// KeyringSecretKey is the keyring item name holding the client secret for
// an application id.
func KeyringSecretKey(clientID string) string {
	return "client-secret-" + clientID
}

// Validate checks the settings needed to talk to the provider and run the
// scheduler.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Graph.TenantID == "" {
		missing = append(missing, "TENANT_ID")
	}
	if c.Graph.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.Graph.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.Graph.Mailbox == "" {
		missing = append(missing, "USER_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	if c.Sync.FetchIntervalMinutes <= 0 {
		return fmt.Errorf("fetch interval must be positive, got %d", c.Sync.FetchIntervalMinutes)
	}
	if c.Sync.FetchHours <= 0 {
		return fmt.Errorf("fetch hours must be positive, got %d", c.Sync.FetchHours)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Sync.BatchSize)
	}
	return c.Lock.validate(c.Sync)
}

// validate checks that a shared lease outlives the longest run. The lease
// is not renewed, so a run must be bounded and finish within ttl.
func (l LockConfig) validate(s SyncConfig) error {
	if l.RedisAddr == "" {
		return nil
	}
	if s.MaxRunMinutes <= 0 {
		return fmt.Errorf("max run minutes must be positive when a redis lock is configured, got %d", s.MaxRunMinutes)
	}
	if l.TTL() <= s.MaxRunDuration() {
		return fmt.Errorf("lock ttl %s must exceed max run duration %s", l.TTL(), s.MaxRunDuration())
	}
	return nil
}
