package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quill/internal/notes"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app" toml:"app"`
	Notes  NotesConfig       `yaml:"notes" toml:"notes"`
	SQLite SQLiteConfig      `yaml:"sqlite" toml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Notes.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	// LogFile, when set, sends logs to a rotating file instead of stdout.
	LogFile string     `yaml:"log_file" toml:"log_file"`
	HTTP    HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotesConfig selects the notes directory and tunes reconciliation.
// An empty Path disables loading and watching.
type NotesConfig struct {
	Path            string        `yaml:"path" toml:"path"`
	Globs           []string      `yaml:"globs" toml:"globs"`
	Debounce        time.Duration `yaml:"debounce" toml:"debounce"`
	MaxWait         time.Duration `yaml:"max_wait" toml:"max_wait"`
	RenameWindow    time.Duration `yaml:"rename_window" toml:"rename_window"`
	LoadConcurrency int           `yaml:"load_concurrency" toml:"load_concurrency"`
	MaxFileSize     int64         `yaml:"max_file_size" toml:"max_file_size"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxWait, validation.Min(time.Duration(0))),
		validation.Field(&c.RenameWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.LoadConcurrency, validation.Min(0)),
		validation.Field(&c.MaxFileSize, validation.Min(int64(0))),
	); err != nil {
		return err
	}
	if !c.Enabled() {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Globs, validation.Each(validation.By(validGlob))),
	)
}

// Enabled reports whether a notes directory is configured.
func (c *NotesConfig) Enabled() bool {
	return c.Path != ""
}

// Engine returns the settings for the note index.
func (c *NotesConfig) Engine() notes.Config {
	return notes.Config{
		Dir:             c.Path,
		Globs:           c.Globs,
		Wait:            c.Debounce,
		MaxWait:         c.MaxWait,
		LoadConcurrency: c.LoadConcurrency,
	}
}

func validGlob(v interface{}) error {
	s, _ := v.(string)
	if s == "" {
		return errors.New("must not be empty")
	}
	if !doublestar.ValidatePattern(s) {
		return fmt.Errorf("invalid glob %q", s)
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Notes: NotesConfig{
			Path:         "./notes",
			Globs:        []string{"**/*.md", "**/*.markdown"},
			Debounce:     notes.DefaultWait,
			MaxWait:      notes.DefaultMaxWait,
			RenameWindow: 50 * time.Millisecond,
		},
		SQLite: SQLiteConfig{
			Path: "./quill.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
