package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/guppyctl/internal/server"
)

// ToServerConfig maps the on-disk config onto daemon settings. Empty
// fields stay zero so the daemon fills its own defaults.
func ToServerConfig(cfg ServerConfig) (server.Config, error) {
	out := server.Config{
		ListenAddr:     cfg.ListenAddr,
		Root:           cfg.Root,
		AdminAddr:      cfg.AdminAddr,
		AdminToken:     cfg.AdminToken,
		CORSOrigins:    cfg.CorsOrigins,
		ChunkSize:      cfg.ChunkSize,
		Window:         cfg.Window,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		FirstSeqSpread: cfg.FirstSeqSpread,
	}
	var err error
	if out.RetransmitInterval, err = parseDuration("retransmit_interval", cfg.RetransmitInterval); err != nil {
		return server.Config{}, err
	}
	if out.TransferExpiry, err = parseDuration("transfer_expiry", cfg.TransferExpiry); err != nil {
		return server.Config{}, err
	}
	if out.TickInterval, err = parseDuration("tick_interval", cfg.TickInterval); err != nil {
		return server.Config{}, err
	}
	return out, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
