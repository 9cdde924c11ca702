package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("config: APP_SECRET_KEY or APP_SECRET_KEY_FILE is required")

// Config holds the application configuration.
type Config struct {
	ServerPort   int    `env:"PORT" envDefault:"8080"`
	Environment  string `env:"APP_ENV" envDefault:"development"`
	BaseURL      string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./users.db"`

	// SecretKey signs verification and session tokens. It must be stable
	// across restarts or previously issued links stop verifying.
	SecretKey     string `env:"APP_SECRET_KEY"`
	SecretKeyFile string `env:"APP_SECRET_KEY_FILE"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	Mail      Mail      `envPrefix:"MAIL_"`
	Provision Provision `envPrefix:"PROVISION_"`
	V2Ray     V2Ray     `envPrefix:"V2RAY_"`
	Events    Events    `envPrefix:"EVENT_"`
	Monitor   Monitor   `envPrefix:"MONITOR_"`
}

// Mail configures the outbound SMTP transport.
type Mail struct {
	Enabled  bool          `env:"ENABLED" envDefault:"true"`
	Server   string        `env:"SERVER" envDefault:"smtp.gmail.com"`
	Port     int           `env:"PORT" envDefault:"587"`
	UseTLS   bool          `env:"USE_TLS" envDefault:"false"`
	UseSSL   bool          `env:"USE_SSL" envDefault:"false"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	Sender   string        `env:"DEFAULT_SENDER"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Provision configures where SSH accounts are created. An empty RemoteHost
// means accounts are created on the local machine.
type Provision struct {
	RemoteHost     string        `env:"REMOTE_HOST"`
	RemotePort     int           `env:"REMOTE_PORT" envDefault:"22"`
	RemoteUser     string        `env:"REMOTE_USER" envDefault:"root"`
	RemotePassword string        `env:"REMOTE_PASSWORD"`
	KnownHosts     string        `env:"KNOWN_HOSTS"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`
}

// V2Ray holds the config document path and optional container name per variant.
type V2Ray struct {
	VMessConfig     string `env:"VMESS_CONFIG" envDefault:"/etc/v2ray/config.json"`
	TrojanConfig    string `env:"TROJAN_CONFIG" envDefault:"/etc/trojan/config.json"`
	XrayConfig      string `env:"XRAY_CONFIG" envDefault:"/usr/local/etc/xray/config.json"`
	VMessContainer  string `env:"VMESS_CONTAINER"`
	TrojanContainer string `env:"TROJAN_CONTAINER"`
	XrayContainer   string `env:"XRAY_CONTAINER"`
	BackupDir       string `env:"BACKUP_DIR"`
}

// Events configures retention of the audit log.
type Events struct {
	Retention     time.Duration `env:"RETENTION" envDefault:"720h"`
	PruneSchedule string        `env:"PRUNE_SCHEDULE" envDefault:"@daily"`
}

// Monitor configures the host status sampler behind /health.
type Monitor struct {
	Interval      time.Duration `env:"INTERVAL" envDefault:"15s"`
	DiskPath      string        `env:"DISK_PATH" envDefault:"/"`
	DiskThreshold float64       `env:"DISK_ALERT_PERCENT" envDefault:"90"`
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.SecretKey == "" {
		if cfg.SecretKeyFile == "" {
			return nil, ErrMissingSecret
		}
		key, err := loadOrCreateSecret(cfg.SecretKeyFile)
		if err != nil {
			return nil, err
		}
		cfg.SecretKey = key
	}
	return &cfg, nil
}

// loadOrCreateSecret reads the key stored at path, generating and persisting
// a new one on first start.
func loadOrCreateSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("config: read secret file: %w", err)
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("config: generate secret: %w", err)
	}
	key := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("config: create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("config: persist secret: %w", err)
	}
	return key, nil
}
