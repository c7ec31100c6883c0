// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-piazza-linker/pkg/connector/mattermostfmt"
	"github.com/aiku/mattermost-piazza-linker/pkg/linker"
	"github.com/aiku/mattermost-piazza-linker/pkg/piazza"
)

// LinkerConnector wires the Piazza client, the Mattermost bot, the slash
// command endpoint and the Matrix mirror together.
type LinkerConnector struct {
	Config Config
	Log    zerolog.Logger
	// NoBot disables the Mattermost bot so only the HTTP endpoint runs.
	NoBot bool

	piazza     *piazza.Client
	linker     *linker.Linker
	bot        *MattermostClient
	mirror     *MatrixMirror
	server     *http.Server
	httpClient *http.Client
}

// NewLinkerConnector creates a connector from a post-processed config.
func NewLinkerConnector(cfg Config, log zerolog.Logger) *LinkerConnector {
	return &LinkerConnector{
		Config:     cfg,
		Log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Init logs into Piazza and builds the linker and the Matrix mirror. It is
// called by Start.
func (lc *LinkerConnector) Init(ctx context.Context) error {
	pc, err := piazza.NewClient(piazza.Options{
		BaseURL: lc.Config.Piazza.BaseURL,
		Timeout: time.Duration(lc.Config.Piazza.RequestTimeout) * time.Second,
		Logger:  lc.Log,
	})
	if err != nil {
		return err
	}
	if err := pc.Login(ctx, lc.Config.Piazza.Email, lc.Config.Piazza.Password); err != nil {
		return err
	}
	lc.piazza = pc

	lc.linker = linker.New(pc, linker.Options{
		ClassID:     lc.Config.Piazza.ClassID,
		Link:        lc.Config.FormatLink,
		ConvertHTML: mattermostfmt.FromHTML,
		Concurrency: lc.Config.Piazza.FetchConcurrency,
		Logger:      lc.Log,
	})

	if lc.Config.Matrix.Enabled {
		lc.mirror, err = NewMatrixMirror(lc.Config.Matrix, lc.Log)
		if err != nil {
			return fmt.Errorf("failed to set up Matrix mirror: %w", err)
		}
	}
	return nil
}

// Start initializes the connector, connects the bot and starts the slash
// command server. It returns once everything is running.
func (lc *LinkerConnector) Start(ctx context.Context) error {
	if lc.NoBot && !lc.Config.SlashCommand.Enabled {
		return errors.New("nothing to run: the bot is disabled and slash_command.enabled is false")
	}
	if !lc.NoBot {
		if err := lc.Config.ValidateBot(); err != nil {
			return err
		}
	}
	if err := lc.Init(ctx); err != nil {
		return err
	}

	if !lc.NoBot {
		lc.bot = NewMattermostClient(lc, lc.Config.Mattermost.ServerURL, lc.Config.Mattermost.Token)
		if err := lc.bot.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to Mattermost: %w", err)
		}
	}

	if lc.Config.SlashCommand.Enabled {
		addr := lc.Config.SlashCommand.ListenAddr
		if addr == "" {
			addr = ":8080"
		}
		lc.server = &http.Server{
			Addr:         addr,
			Handler:      lc.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			lc.Log.Info().Str("addr", addr).Msg("Starting slash command server")
			if err := lc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lc.Log.Error().Err(err).Msg("Slash command server error")
			}
		}()
	}
	return nil
}

// Stop disconnects the bot and shuts the HTTP server down.
func (lc *LinkerConnector) Stop(ctx context.Context) error {
	if lc.bot != nil {
		lc.bot.Disconnect()
	}
	if lc.server != nil {
		if err := lc.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop slash command server: %w", err)
		}
	}
	lc.Log.Info().Msg("Stopped")
	return nil
}
