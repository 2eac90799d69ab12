package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agsteer/internal/config"
	"agsteer/internal/logging"
	"agsteer/internal/web"
)

func main() {
	var (
		configPath  string
		summaryPath string
	)
	flag.StringVar(&configPath, "config", "./agsteer.yaml", "Path to YAML config")
	flag.StringVar(&summaryPath, "log-summary", "", "Print a summary of a recorded frame log and exit")
	flag.Parse()

	if summaryPath != "" {
		if err := printLogSummary(os.Stdout, summaryPath); err != nil {
			fmt.Fprintf(os.Stderr, "log summary failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agsteer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	lc := cfg.Log.Logging()
	lc.Tee = logs
	log, closer, err := logging.Setup(lc, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newLiveRuntime(ctx, cfg, log, logs)
	if err != nil {
		log.Error().Err(err).Msg("runtime init failed")
		return err
	}
	defer rt.Close()

	log.Info().Str("dest", cfg.UDP.Dest).Str("law", cfg.Guidance.Law).Msg("agsteer starting")
	err = rt.Run(ctx)
	log.Info().Msg("agsteer stopping")
	return err
}
