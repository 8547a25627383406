package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig  `yaml:"server"`
	Auth          AuthConfig    `yaml:"auth"`
	Storage       StorageConfig `yaml:"storage"`
	Node          NodeConfig    `yaml:"node"`
	Audit         AuditConfig   `yaml:"audit"`
	Observability ObsConfig     `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr          string `yaml:"listen_addr"`
	Version             string `yaml:"version"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	HealthPublic        bool   `yaml:"health_public"`
}

// AdminToken grants one bearer token an admin identity.
type AdminToken struct {
	Token    string `yaml:"token"`
	UserID   string `yaml:"user_id"`
	Username string `yaml:"username"`
}

type AuthConfig struct {
	AdminTokens []AdminToken `yaml:"admin_tokens"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // badger or memory
	Path   string `yaml:"path"`
}

type NodeConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type AuditConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type ObsConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:          ":8000",
			Version:             "dev",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 60,
			IdleTimeoutSeconds:  60,
			HealthPublic:        true,
		},
		Storage: StorageConfig{
			Driver: "badger",
			Path:   "/var/lib/skyport-panel/db",
		},
		Node: NodeConfig{
			TimeoutSeconds: 30,
		},
		Audit: AuditConfig{
			Subject: "panel.audit",
		},
		Observability: ObsConfig{LogLevel: "info", MetricsPath: "/metrics"},
	}
}

func Load() (Config, error) {
	cfg := Default()

	configFile := os.Getenv("PANEL_CONFIG_FILE")
	if configFile != "" {
		if err := loadYAML(&cfg, configFile); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "PANEL_LISTEN_ADDR")
	setString(&cfg.Server.Version, "PANEL_VERSION")
	setInt(&cfg.Server.ReadTimeoutSeconds, "PANEL_READ_TIMEOUT_SECONDS")
	setInt(&cfg.Server.WriteTimeoutSeconds, "PANEL_WRITE_TIMEOUT_SECONDS")
	setInt(&cfg.Server.IdleTimeoutSeconds, "PANEL_IDLE_TIMEOUT_SECONDS")
	setBool(&cfg.Server.HealthPublic, "PANEL_HEALTH_PUBLIC")

	setString(&cfg.Storage.Driver, "PANEL_STORAGE_DRIVER")
	setString(&cfg.Storage.Path, "PANEL_STORAGE_PATH")

	setInt(&cfg.Node.TimeoutSeconds, "PANEL_NODE_TIMEOUT_SECONDS")

	setString(&cfg.Audit.NATSURL, "PANEL_AUDIT_NATS_URL")
	setString(&cfg.Audit.Subject, "PANEL_AUDIT_SUBJECT")

	setString(&cfg.Observability.LogLevel, "PANEL_LOG_LEVEL")
	setString(&cfg.Observability.MetricsPath, "PANEL_METRICS_PATH")

	// PANEL_ADMIN_TOKEN=token:user_id:username adds a single admin token.
	if v := os.Getenv("PANEL_ADMIN_TOKEN"); v != "" {
		parts := strings.SplitN(v, ":", 3)
		tok := AdminToken{Token: parts[0], UserID: "admin", Username: "admin"}
		if len(parts) > 1 && parts[1] != "" {
			tok.UserID = parts[1]
		}
		if len(parts) > 2 && parts[2] != "" {
			tok.Username = parts[2]
		}
		cfg.Auth.AdminTokens = append(cfg.Auth.AdminTokens, tok)
	}
}

func validate(cfg Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	switch cfg.Storage.Driver {
	case "badger", "memory":
	default:
		return fmt.Errorf("invalid storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "badger" && cfg.Storage.Path == "" {
		return errors.New("storage path is required for the badger driver")
	}
	if cfg.Node.TimeoutSeconds <= 0 {
		return errors.New("node timeout must be > 0")
	}
	if len(cfg.Auth.AdminTokens) == 0 {
		return errors.New("at least one admin token is required")
	}
	for _, tok := range cfg.Auth.AdminTokens {
		if tok.Token == "" || tok.UserID == "" {
			return errors.New("admin tokens need both token and user_id")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseBool(v); err == nil {
			*dst = p
		}
	}
}
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*dst = p
		}
	}
}
