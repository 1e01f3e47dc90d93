package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Poller   PollerConfig   `koanf:"poller"`
	Importer ImporterConfig `koanf:"importer"`
}

type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MaxConns       int    `koanf:"max_conns"`
	MigrationsPath string `koanf:"migrations_path"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey  string `koanf:"signingkey"`
	Issuer      string `koanf:"issuer"`
	ExpiryHours int    `koanf:"expiryhours"`
}

// WebhookConfig controls the inbound order-push signature gate.
// Mode is "permissive" (missing signature or secret passes) or "enforced".
type WebhookConfig struct {
	Mode             string `koanf:"mode"`
	GlobalSecret     string `koanf:"global_secret"`
	MaxSkewSeconds   int    `koanf:"max_skew_seconds"`
	ReplayTTLSeconds int    `koanf:"replay_ttl_seconds"`
}

type PollerConfig struct {
	Enabled             bool `koanf:"enabled"`
	IntervalSeconds     int  `koanf:"interval_seconds"`
	ShipmentDelayMillis int  `koanf:"shipment_delay_millis"`
	LookbackDays        int  `koanf:"lookback_days"`
	FetchTimeoutSeconds int  `koanf:"fetch_timeout_seconds"`
	TenantScanPageSize  int  `koanf:"tenant_scan_page_size"`
}

type ImporterConfig struct {
	Enabled             bool   `koanf:"enabled"`
	PollIntervalSeconds int    `koanf:"poll_interval_seconds"`
	CheckpointRows      int    `koanf:"checkpoint_rows"`
	UploadDir           string `koanf:"upload_dir"`
	TenantScanPageSize  int    `koanf:"tenant_scan_page_size"`
}

// configKeys lists every key the struct can carry. The env mapper resolves
// SHIPMARK_* variable names against it because '.' and '_' both flatten to
// '_' in an environment variable name, so the reverse translation is only
// unambiguous with the key set in hand.
var configKeys = []string{
	"server.host", "server.port", "server.cors_origins",
	"database.url", "database.max_conns", "database.migrations_path",
	"redis.addr", "redis.password", "redis.db",
	"log.level", "log.format",
	"auth.devmode", "auth.jwt.signingkey", "auth.jwt.issuer", "auth.jwt.expiryhours",
	"webhook.mode", "webhook.global_secret", "webhook.max_skew_seconds",
	"webhook.replay_ttl_seconds",
	"poller.enabled", "poller.interval_seconds", "poller.shipment_delay_millis",
	"poller.lookback_days", "poller.fetch_timeout_seconds",
	"poller.tenant_scan_page_size",
	"importer.enabled", "importer.poll_interval_seconds", "importer.checkpoint_rows",
	"importer.upload_dir", "importer.tenant_scan_page_size",
}

func envKeyIndex() map[string]string {
	idx := make(map[string]string, len(configKeys))
	for _, key := range configKeys {
		idx[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return idx
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"database.max_conns":             25,
		"database.migrations_path":       "migrations",
		"redis.addr":                     "",
		"redis.db":                       0,
		"log.level":                      "info",
		"log.format":                     "json",
		"auth.devmode":                   false,
		"auth.jwt.issuer":                "shipmark",
		"auth.jwt.expiryhours":           24,
		"webhook.mode":                   "permissive",
		"webhook.max_skew_seconds":       300,
		"webhook.replay_ttl_seconds":     600,
		"poller.enabled":                 true,
		"poller.interval_seconds":        900,
		"poller.shipment_delay_millis":   500,
		"poller.lookback_days":           14,
		"poller.fetch_timeout_seconds":   15,
		"poller.tenant_scan_page_size":   100,
		"importer.enabled":               true,
		"importer.poll_interval_seconds": 5,
		"importer.checkpoint_rows":       10,
		"importer.upload_dir":            "uploads",
		"importer.tenant_scan_page_size": 100,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// SHIPMARK_WEBHOOK_GLOBAL_SECRET -> webhook.global_secret
	envKeys := envKeyIndex()
	_ = k.Load(env.Provider("SHIPMARK_", ".", func(s string) string {
		name := strings.TrimPrefix(s, "SHIPMARK_")
		if key, ok := envKeys[name]; ok {
			return key
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
