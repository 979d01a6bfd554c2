// Package config loads runtime configuration from defaults, an optional
// yaml file, and environment variables, and assembles backend nodes from
// backend URL strings.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Node    NodeConfig
	Wallet  WalletConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Port       int      `mapstructure:"port"`
	CORSOrigin []string `mapstructure:"cors_origin"`
	Prefix     string   `mapstructure:"prefix"`
}

type NodeConfig struct {
	// Backends are URL-shaped: mem://, redis://host:port/db,
	// postgres://…, mongodb://…, sqlite:///path, http(s)://…, ws(s)://….
	// Several write backends broadcast; several read backends fall through
	// in order.
	WriteBackends []string `mapstructure:"write_backends"`
	ReadBackends  []string `mapstructure:"read_backends"`
	SchemaModule  string   `mapstructure:"schema_module"`
}

type WalletConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	SessionTTLSec int    `mapstructure:"session_ttl_sec"`
	StoreURL      string `mapstructure:"store_url"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func (w WalletConfig) SessionTTL() time.Duration {
	return time.Duration(w.SessionTTLSec) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.prefix", "/api/v1")
	v.SetDefault("node.write_backends", []string{"mem://"})
	v.SetDefault("node.read_backends", []string{})
	v.SetDefault("node.schema_module", "default")
	v.SetDefault("wallet.session_ttl_sec", 3600)
	v.SetDefault("wallet.store_url", "mem://")
	v.SetDefault("logging.level", "info")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":            "PORT",
		"server.cors_origin":     "CORS_ORIGIN",
		"server.prefix":          "ROUTE_PREFIX",
		"node.write_backends":    "WRITE_BACKENDS",
		"node.read_backends":     "READ_BACKENDS",
		"node.schema_module":     "SCHEMA_MODULE",
		"wallet.jwt_secret":      "WALLET_JWT_SECRET",
		"wallet.session_ttl_sec": "WALLET_SESSION_TTL_SEC",
		"wallet.store_url":       "WALLET_STORE_URL",
		"logging.level":          "LOG_LEVEL",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Comma-separated lists arrive as single strings through env vars.
	cfg.Node.WriteBackends = splitAll(cfg.Node.WriteBackends)
	cfg.Node.ReadBackends = splitAll(cfg.Node.ReadBackends)
	cfg.Server.CORSOrigin = splitAll(cfg.Server.CORSOrigin)
	return &cfg, nil
}

func splitAll(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
