package main

import (
	"context"
	"flag"
	"os"

	"github.com/danmuck/guppyctl/internal/config"
	"github.com/danmuck/guppyctl/internal/observability"
	"github.com/danmuck/guppyctl/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to guppyd.toml")
	listen := flag.String("listen", "", "udp listen address (overrides config)")
	root := flag.String("root", "", "content root directory (overrides config)")
	admin := flag.String("admin", "", "admin api listen address (overrides config)")
	flag.Parse()

	logger := observability.InitLogger("guppyd")

	var cfg server.Config
	if *configPath != "" {
		raw, err := config.LoadServerConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		cfg, err = config.ToServerConfig(raw)
		if err != nil {
			logger.Fatal().Err(err).Msg("convert config")
		}
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *admin != "" {
		cfg.AdminAddr = *admin
	}

	svc, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure guppyd")
	}
	if err := svc.Run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("guppyd failed")
		os.Exit(1)
	}
}
