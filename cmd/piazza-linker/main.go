// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command piazza-linker is a Mattermost bot that answers messages mentioning
// Piazza posts (@123) with links and previews. It can also serve a /piazza
// slash command and mirror its replies to a Matrix room.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/aiku/mattermost-piazza-linker/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath     string
		listenAddr     string
		debug          bool
		noBot          bool
		generateConfig bool
		showVersion    bool
	)
	flagSet := pflag.NewFlagSet("piazza-linker", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	flagSet.StringVar(&listenAddr, "listen", "", "override slash_command.listen_addr")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVar(&noBot, "no-bot", false, "only serve the slash command endpoint")
	flagSet.BoolVarP(&generateConfig, "generate-example-config", "e", false, "write the example config to --config and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if showVersion {
		fmt.Printf("piazza-linker %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if generateConfig {
		if err := os.WriteFile(configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", configPath)
		return nil
	}

	cfg, err := connector.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.SlashCommand.ListenAddr = listenAddr
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	if debug {
		log = log.Level(zerolog.DebugLevel)
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting piazza-linker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := connector.NewLinkerConnector(*cfg, log)
	lc.NoBot = noBot
	if err := lc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return lc.Stop(shutdownCtx)
}
