package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tidsync/internal/configwatch"
	"github.com/starford/tidsync/internal/mirror"
	"github.com/starford/tidsync/internal/wikiapi"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultFilter lists the ten most recently modified user tiddlers.
const DefaultFilter = "[all[tiddlers]!is[system]!is[shadow]!sort[modified]limit[10]]"

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Wiki     WikiConfig        `yaml:"wiki"`
	Mirror   MirrorConfig      `yaml:"mirror"`
	Autosave AutosaveConfig    `yaml:"autosave"`
	Push     PushConfig        `yaml:"push"`
	Editor   EditorConfig      `yaml:"editor"`
	Index    IndexConfig       `yaml:"index"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Wiki.Validate(); err != nil {
		return err
	}
	if err := c.Autosave.Validate(); err != nil {
		return err
	}
	if err := c.Push.Validate(); err != nil {
		return err
	}
	return c.Index.Validate()
}

// Settings returns the runtime-reloadable part of the configuration.
func (c *Config) Settings() configwatch.Settings {
	return configwatch.Settings{
		Host:             c.Wiki.Host,
		Recipe:           c.Wiki.Recipe,
		Timeout:          c.Wiki.Timeout,
		SyncCursor:       c.Push.SyncCursor,
		AutosaveEnabled:  c.Autosave.Enabled,
		AutosaveInterval: c.Autosave.Interval(),
	}
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	Auth     AuthConfig `yaml:"auth"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// HTTPConfig holds control API server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns the control API address. It only listens on loopback.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds control API authentication.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

var hostPattern = regexp.MustCompile(`^https?://[^\s/]+`)

// WikiConfig identifies the remote wiki.
type WikiConfig struct {
	Host          string        `yaml:"host"`
	Recipe        string        `yaml:"recipe"`
	DefaultFilter string        `yaml:"default_filter"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Validate validates the wiki configuration.
func (c *WikiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required, validation.Match(hostPattern)),
		validation.Field(&c.Recipe, validation.Required),
		validation.Field(&c.DefaultFilter, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// MirrorConfig locates the scratch directory. An empty Dir selects the
// default under the system temp directory.
type MirrorConfig struct {
	Dir string `yaml:"dir"`
}

// AutosaveConfig controls the autosave timer.
type AutosaveConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Interval returns the tick period.
func (c *AutosaveConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Validate validates the autosave configuration.
func (c *AutosaveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IntervalSeconds, validation.Required, validation.Min(1)),
	)
}

// PushConfig controls the push channel.
type PushConfig struct {
	SyncCursor       bool          `yaml:"sync_cursor"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MaxAttempts      int           `yaml:"max_attempts"`
	LivenessInterval time.Duration `yaml:"liveness_interval"`
}

// Validate validates the push configuration.
func (c *PushConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxDelay, validation.Required),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.LivenessInterval, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return err
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("push: max_delay %s is below base_delay %s", c.MaxDelay, c.BaseDelay)
	}
	return nil
}

// EditorConfig configures the external editor. An empty Command leaves
// opening the file to the editor plugin.
type EditorConfig struct {
	Command string `yaml:"command"`
}

// IndexConfig holds the SQLite cache location.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8787,
			},
			Auth: AuthConfig{
				Mode: AuthModeDisabled,
			},
		},
		Wiki: WikiConfig{
			Host:          wikiapi.DefaultHost,
			Recipe:        wikiapi.DefaultRecipe,
			DefaultFilter: DefaultFilter,
			Timeout:       15 * time.Second,
		},
		Mirror: MirrorConfig{
			Dir: mirror.DefaultDir(),
		},
		Autosave: AutosaveConfig{
			Enabled:         false,
			IntervalSeconds: 30,
		},
		Push: PushConfig{
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			MaxAttempts:      10,
			LivenessInterval: 5 * time.Second,
		},
		Index: IndexConfig{
			Path: "./tidsync.db",
		},
	}
}
