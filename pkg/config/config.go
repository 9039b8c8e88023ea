// Package config loads and validates the gatekey configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete gatekey configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	HOTP      HOTPConfig      `yaml:"hotp"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Session   SessionConfig   `yaml:"session"`
	Provider  ProviderConfig  `yaml:"provider"`
	Notify    NotifyConfig    `yaml:"notify"`
	Admin     AdminConfig     `yaml:"admin"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	BaseURL string `yaml:"base_url"`
}

// StorageConfig configures challenge and session persistence.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // "postgres", "memory"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// HOTPConfig configures the one-time code generator.
type HOTPConfig struct {
	// Secret is the shared HOTP secret, base32 text of 16 or 32 characters.
	Secret string `yaml:"secret"`

	// Window is the verification look-ahead window. 0 means exact-counter
	// match only; each counter is single-use so that is the safe default.
	Window uint `yaml:"window"`
}

// ChallengeConfig configures outstanding second-factor challenges.
type ChallengeConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// SessionConfig configures trusted sessions.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	CookieName string        `yaml:"cookie_name"`
}

// ProviderConfig configures the external identity provider.
type ProviderConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifyConfig configures one-time code delivery.
type NotifyConfig struct {
	// Mode selects the delivery channel: "smtp" delivers by mail, "log"
	// writes codes to the operational log (debug/no-delivery mode).
	Mode     string     `yaml:"mode"`
	Retries  int        `yaml:"retries"`
	Branding string     `yaml:"branding"`
	SMTP     SMTPConfig `yaml:"smtp"`
}

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	SSL      bool   `yaml:"ssl"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AdminUser is the provider login whose codes are redirected to
	// AdminRecipient instead of the login itself.
	AdminUser      string `yaml:"admin_user"`
	AdminRecipient string `yaml:"admin_recipient"`
}

// AdminConfig configures the operational REST API.
type AdminConfig struct {
	Enabled bool       `yaml:"enabled"`
	Keys    []AdminKey `yaml:"keys"`
}

// AdminKey defines an admin API key. Hash is a bcrypt hash of the key.
type AdminKey struct {
	Hash  string   `yaml:"hash"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// CleanupConfig configures periodic removal of expired rows.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8888"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "postgres"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 25
	}
	if cfg.Challenge.TTL == 0 {
		cfg.Challenge.TTL = 15 * time.Minute
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 16 * time.Hour
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_id"
	}
	if cfg.Provider.URL == "" {
		cfg.Provider.URL = "http://localhost:8069"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 20 * time.Second
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = "smtp"
	}
	if cfg.Notify.Retries == 0 {
		cfg.Notify.Retries = 3
	}
	if cfg.Notify.SMTP.Port == 0 {
		if cfg.Notify.SMTP.SSL {
			cfg.Notify.SMTP.Port = 465
		} else {
			cfg.Notify.SMTP.Port = 25
		}
	}
	if cfg.Notify.SMTP.AdminUser == "" {
		cfg.Notify.SMTP.AdminUser = "admin"
	}
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = 15 * time.Minute
	}
}

// base32Pattern matches the base32 alphabet accepted for the shared secret.
var base32Pattern = regexp.MustCompile(`^[A-Za-z2-7]+$`)

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch len(c.HOTP.Secret) {
	case 16, 32:
		if !base32Pattern.MatchString(c.HOTP.Secret) {
			errs = append(errs, "hotp.secret must be base32 text (A-Z, 2-7)")
		}
	default:
		errs = append(errs, fmt.Sprintf("hotp.secret must be 16 or 32 characters, has %d", len(c.HOTP.Secret)))
	}

	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, "storage.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Notify.Mode {
	case "smtp":
		if c.Notify.SMTP.Host == "" {
			errs = append(errs, "notify.smtp.host is required when notify.mode is smtp")
		}
		if c.Notify.SMTP.From == "" {
			errs = append(errs, "notify.smtp.from is required when notify.mode is smtp")
		}
	case "log":
	default:
		errs = append(errs, fmt.Sprintf("unknown notify.mode %q", c.Notify.Mode))
	}

	if c.Provider.Database == "" {
		errs = append(errs, "provider.database is required")
	}

	if c.Admin.Enabled && len(c.Admin.Keys) == 0 {
		errs = append(errs, "admin.keys is required when the admin API is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
