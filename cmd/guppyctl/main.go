package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/guppyctl/internal/client"
	"github.com/danmuck/guppyctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes let scripts branch on the failure class.
const (
	exitFailed  = 1
	exitUsage   = 2
	exitInput   = 3
	exitTimeout = 4
)

func main() {
	configPath := flag.String("config", "", "path to guppyctl.toml")
	output := flag.String("o", "", "write the body to a file instead of stdout")
	input := flag.String("input", "", "answer for a server input prompt")
	timeout := flag.Duration("timeout", 0, "session timeout (overrides config)")
	maxRedirects := flag.Int("max-redirects", 0, "redirect hop limit (overrides config)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := observability.InitLogger("guppyctl")
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
		log.Logger = logger
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: guppyctl [flags] <url>")
		flag.PrintDefaults()
		os.Exit(exitUsage)
	}

	cfg := client.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadClientConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
	}
	if *timeout > 0 {
		cfg.Session.SessionTimeout = *timeout
	}
	if *maxRedirects > 0 {
		cfg.MaxRedirects = *maxRedirects
	}
	cfg.Input = *input

	start := time.Now()
	fetcher := client.NewFetcher(cfg, logger)
	res, err := fetcher.Fetch(context.Background(), flag.Arg(0))
	if err != nil {
		switch {
		case errors.Is(err, client.ErrInputRequired):
			fmt.Fprintf(os.Stderr, "guppyctl: server wants input: %s (retry with -input)\n", res.Meta)
			os.Exit(exitInput)
		case errors.Is(err, client.ErrTimedOut):
			logger.Error().Err(err).Str("url", flag.Arg(0)).Msg("fetch timed out")
			os.Exit(exitTimeout)
		default:
			logger.Error().Err(err).Str("url", flag.Arg(0)).Msg("fetch failed")
			os.Exit(exitFailed)
		}
	}

	logger.Info().
		Str("url", res.URL).
		Str("meta", res.Meta).
		Int("bytes", len(res.Body)).
		Dur("elapsed", time.Since(start)).
		Msg("fetch complete")

	if *output != "" {
		if err := os.WriteFile(*output, res.Body, 0o644); err != nil {
			logger.Fatal().Err(err).Msg("write output file")
		}
		return
	}
	if _, err := os.Stdout.Write(res.Body); err != nil {
		logger.Fatal().Err(err).Msg("write stdout")
	}
}
