package config

import (
	"strings"
	"time"

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
	Metrics  MetricsConfig  `koanf:"metrics"`
	Auth     AuthConfig     `koanf:"auth"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	SiteURL            string   `koanf:"siteurl"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type AuditConfig struct {
	BufferSize    int `koanf:"buffer_size"`
	BatchSize     int `koanf:"batch_size"`
	FlushInterval int `koanf:"flush_interval_ms"`
}

type AuthConfig struct {
	// Provider selects the identity backend: "gotrue" or "local".
	Provider             string        `koanf:"provider"`
	FlowType             string        `koanf:"flow_type"`
	RefreshThresholdSecs int           `koanf:"refresh_threshold_secs"`
	Cookie               CookieConfig  `koanf:"cookie"`
	Routes               RoutesConfig  `koanf:"routes"`
	GoTrue               GoTrueConfig  `koanf:"gotrue"`
	Local                LocalIDConfig `koanf:"local"`
}

func (c AuthConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdSecs) * time.Second
}

type CookieConfig struct {
	Name       string `koanf:"name"`
	Domain     string `koanf:"domain"`
	Secure     bool   `koanf:"secure"`
	MaxAgeSecs int    `koanf:"max_age_secs"`
}

type RoutesConfig struct {
	Protected []string `koanf:"protected"`
	Public    []string `koanf:"public"`
	Excluded  []string `koanf:"excluded"`
}

type GoTrueConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"apikey"`
}

type LocalIDConfig struct {
	JWT                      JWTConfig `koanf:"jwt"`
	OTPTTLSecs               int       `koanf:"otp_ttl_secs"`
	RequireEmailConfirmation bool      `koanf:"require_email_confirmation"`
}

type JWTConfig struct {
	SigningKey     string `koanf:"signingkey"`
	Issuer         string `koanf:"issuer"`
	AccessTTLSecs  int    `koanf:"access_ttl_secs"`
	RefreshTTLSecs int    `koanf:"refresh_ttl_secs"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                           8080,
		"server.host":                           "0.0.0.0",
		"server.siteurl":                        "http://localhost:8080",
		"database.max_conns":                    10,
		"log.level":                             "info",
		"log.format":                            "json",
		"metrics.enabled":                       true,
		"metrics.path":                          "/metrics",
		"auth.provider":                         "local",
		"auth.flow_type":                        "otp",
		"auth.refresh_threshold_secs":           300,
		"auth.cookie.name":                      "pl-auth-token",
		"auth.cookie.secure":                    false,
		"auth.cookie.max_age_secs":              60 * 60 * 24 * 30,
		"auth.local.jwt.issuer":                 "placelists",
		"auth.local.jwt.access_ttl_secs":        3600,
		"auth.local.jwt.refresh_ttl_secs":       60 * 60 * 24 * 30,
		"auth.local.otp_ttl_secs":               3600,
		"auth.local.require_email_confirmation": true,
		"audit.buffer_size":                     4096,
		"audit.batch_size":                      100,
		"audit.flush_interval_ms":               500,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// PLACELISTS_SERVER_PORT -> server.port
	_ = k.Load(env.Provider("PLACELISTS_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "PLACELISTS_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
