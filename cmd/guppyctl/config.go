package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/guppyctl/internal/client"
)

// guppyctl config.toml key mapping onto fetch settings. Only keys that
// appear in the file override the defaults.
type fileConfig struct {
	Timeout      string `toml:"timeout"`
	RequestRetry string `toml:"request_retry"`
	AckRetry     string `toml:"ack_retry"`
	TickInterval string `toml:"tick_interval"`
	ReorderSlots int    `toml:"reorder_slots"`
	MaxRedirects int    `toml:"max_redirects"`
}

func loadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("timeout") {
		d, err := parseDuration("timeout", raw.Timeout)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Session.SessionTimeout = d
	}

	if meta.IsDefined("request_retry") {
		d, err := parseDuration("request_retry", raw.RequestRetry)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Session.RequestRetry = d
	}

	if meta.IsDefined("ack_retry") {
		d, err := parseDuration("ack_retry", raw.AckRetry)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Session.AckRetry = d
	}

	if meta.IsDefined("tick_interval") {
		d, err := parseDuration("tick_interval", raw.TickInterval)
		if err != nil {
			return client.Config{}, err
		}
		cfg.Session.TickInterval = d
	}

	if meta.IsDefined("reorder_slots") && raw.ReorderSlots > 0 {
		cfg.Session.ReorderSlots = raw.ReorderSlots
	}

	if meta.IsDefined("max_redirects") && raw.MaxRedirects > 0 {
		cfg.MaxRedirects = raw.MaxRedirects
	}

	return cfg, nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}
