// Package config loads the TOML files for the guppy daemon and writes
// starter templates. Durations are Go duration strings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig is the on-disk shape of guppyd.toml.
type ServerConfig struct {
	ListenAddr  string   `toml:"listen_addr"`
	Root        string   `toml:"root"`
	AdminAddr   string   `toml:"admin_addr"`
	AdminToken  string   `toml:"admin_token"`
	CorsOrigins []string `toml:"cors_origins"`

	ChunkSize      int   `toml:"chunk_size"`
	Window         int   `toml:"window"`
	MaxBodyBytes   int64 `toml:"max_body_bytes"`
	FirstSeqSpread int   `toml:"first_seq_spread"`

	RetransmitInterval string `toml:"retransmit_interval"`
	TransferExpiry     string `toml:"transfer_expiry"`
	TickInterval       string `toml:"tick_interval"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Root) == "" {
		return fmt.Errorf("server config missing root")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"retransmit_interval", cfg.RetransmitInterval},
		{"transfer_expiry", cfg.TransferExpiry},
		{"tick_interval", cfg.TickInterval},
	} {
		raw := strings.TrimSpace(field.value)
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("server config %s invalid: %w", field.name, err)
		}
	}
	return nil
}
