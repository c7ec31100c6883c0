// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-piazza-linker/pkg/piazza"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the linker configuration.
type Config struct {
	Mattermost   MattermostConfig   `yaml:"mattermost"`
	Piazza       PiazzaConfig       `yaml:"piazza"`
	SlashCommand SlashCommandConfig `yaml:"slash_command"`
	Matrix       MatrixConfig       `yaml:"matrix"`
	Logging      zeroconfig.Config  `yaml:"logging"`

	linkTemplate *template.Template `yaml:"-"`
}

// MattermostConfig configures the bot account that answers mentions.
type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with it are ignored. Leave empty to disable.
	BotPrefix     string `yaml:"bot_prefix"`
	ReplyInThread bool   `yaml:"reply_in_thread"`
}

// PiazzaConfig configures the Piazza account and link format.
type PiazzaConfig struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	ClassID  string `yaml:"class_id"`
	// LinkTemplate renders post links from LinkParams.
	LinkTemplate     string `yaml:"link_template"`
	RequestTimeout   int    `yaml:"request_timeout"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
}

// SlashCommandConfig configures the HTTP endpoint for Mattermost slash commands.
type SlashCommandConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Token      string `yaml:"token"`
}

// MatrixConfig configures the optional Matrix room that bot replies are
// mirrored to.
type MatrixConfig struct {
	Enabled       bool   `yaml:"enabled"`
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	RoomID        string `yaml:"room_id"`
}

// LinkParams holds the parameters for rendering the link template.
type LinkParams struct {
	ClassID string
	Number  int
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess compiles the link template and validates the settings the
// enabled features need.
func (c *Config) PostProcess() error {
	var err error
	c.linkTemplate, err = template.New("link").Parse(c.Piazza.LinkTemplate)
	if err != nil {
		return fmt.Errorf("invalid piazza.link_template: %w", err)
	}

	var errs []error
	if c.Piazza.Email == "" || c.Piazza.Password == "" {
		errs = append(errs, errors.New("piazza.email and piazza.password are required"))
	}
	if c.SlashCommand.Enabled && c.SlashCommand.Token == "" {
		errs = append(errs, errors.New("slash_command.token is required when the slash command is enabled"))
	}
	if c.Matrix.Enabled && (c.Matrix.HomeserverURL == "" || c.Matrix.AccessToken == "" || c.Matrix.RoomID == "") {
		errs = append(errs, errors.New("matrix.homeserver_url, matrix.access_token and matrix.room_id are required when the mirror is enabled"))
	}
	return errors.Join(errs...)
}

// ValidateBot checks the settings the Mattermost bot needs.
func (c *Config) ValidateBot() error {
	switch {
	case c.Mattermost.ServerURL == "":
		return errors.New("mattermost.server_url is required")
	case c.Mattermost.Token == "":
		return errors.New("mattermost.token is required")
	case c.Piazza.ClassID == "":
		return errors.New("piazza.class_id is required")
	}
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Bool, "mattermost", "reply_in_thread")

	helper.Copy(up.Str, "piazza", "base_url")
	helper.Copy(up.Str, "piazza", "email")
	helper.Copy(up.Str, "piazza", "password")
	helper.Copy(up.Str, "piazza", "class_id")
	helper.Copy(up.Str, "piazza", "link_template")
	helper.Copy(up.Int, "piazza", "request_timeout")
	helper.Copy(up.Int, "piazza", "fetch_concurrency")

	helper.Copy(up.Bool, "slash_command", "enabled")
	helper.Copy(up.Str, "slash_command", "listen_addr")
	helper.Copy(up.Str, "slash_command", "token")

	helper.Copy(up.Bool, "matrix", "enabled")
	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")
	helper.Copy(up.Str, "matrix", "room_id")

	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader that merges a user config onto the
// embedded example.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"mattermost"},
			{"piazza"},
			{"slash_command"},
			{"matrix"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// envOverrides maps environment variables to the config fields they set.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"MATTERMOST_TOKEN":    &c.Mattermost.Token,
		"PIAZZA_EMAIL":        &c.Piazza.Email,
		"PIAZZA_PASSWORD":     &c.Piazza.Password,
		"PIAZZA_CLASS_ID":     &c.Piazza.ClassID,
		"SLASH_COMMAND_TOKEN": &c.SlashCommand.Token,
		"MATRIX_ACCESS_TOKEN": &c.Matrix.AccessToken,
	}
}

// ApplyEnv overrides credentials with non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for key, field := range c.envOverrides() {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			*field = val
		}
	}
}

// LoadConfig reads the config file at path, fills missing keys from the
// example config, applies environment overrides (including a .env file in
// the working directory if present) and post-processes the result.
func LoadConfig(path string) (*Config, error) {
	data, _, err := up.Do(path, false, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()
	return parseConfig(data, os.Getenv)
}

func parseConfig(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyEnv(getenv)

	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// NewLogger builds the root logger from the logging block.
func (c *Config) NewLogger() (zerolog.Logger, error) {
	log, err := c.Logging.Compile()
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("failed to configure logging: %w", err)
	}
	return *log, nil
}

// FormatLink renders the link to a post with the link template, falling
// back to the Piazza URL.
func (c *Config) FormatLink(classID string, number int) string {
	if c.linkTemplate == nil || c.Piazza.LinkTemplate == "" {
		return piazza.PostURL(classID, number)
	}
	var buf []byte
	err := c.linkTemplate.Execute(
		(*templateBuffer)(&buf),
		LinkParams{ClassID: classID, Number: number},
	)
	if err != nil || len(buf) == 0 {
		return piazza.PostURL(classID, number)
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
