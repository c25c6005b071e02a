// Package config resolves settings from flags, TADA_* environment variables
// and an optional tada.yaml, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "TADA"
	fileName  = "tada"
)

// Keys. Flag names match so BindPFlags wires them directly.
const (
	KeyURL       = "url"
	KeyAPIKey    = "key"
	KeyTable     = "table"
	KeySchema    = "schema"
	KeyOrder     = "order"
	KeyTimeout   = "timeout"
	KeyHeartbeat = "heartbeat"
	KeyLogFile   = "log-file"
	KeyLogLevel  = "log-level"
	KeyTheme     = "theme"
	KeyColor     = "color"
)

type Config struct {
	URL       string
	APIKey    string
	Table     string
	Schema    string
	Ordered   bool
	Timeout   time.Duration
	Heartbeat time.Duration
	LogFile   string // "-" means stderr; empty leaves the choice to the command
	LogLevel  string
	Theme     string
	Color     string
}

// ErrNoURL is returned by RequireRemote when no backend is configured.
var ErrNoURL = errors.New("no backend URL configured (set --url or TADA_URL)")

// New returns a viper instance with defaults, env binding and, when present,
// the config file loaded. An explicit file that cannot be read is an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(KeyTable, "TodoList")
	v.SetDefault(KeySchema, "public")
	v.SetDefault(KeyOrder, true)
	v.SetDefault(KeyTimeout, 10*time.Second)
	v.SetDefault(KeyHeartbeat, 25*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyTheme, "classic")
	v.SetDefault(KeyColor, "auto")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		return v, nil
	}
	v.SetConfigName(fileName)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tada"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// BindFlags lets set flags override env and file values.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

func Load(v *viper.Viper) (Config, error) {
	c := Config{
		URL:       strings.TrimSpace(v.GetString(KeyURL)),
		APIKey:    strings.TrimSpace(v.GetString(KeyAPIKey)),
		Table:     strings.TrimSpace(v.GetString(KeyTable)),
		Schema:    strings.TrimSpace(v.GetString(KeySchema)),
		Ordered:   v.GetBool(KeyOrder),
		Timeout:   v.GetDuration(KeyTimeout),
		Heartbeat: v.GetDuration(KeyHeartbeat),
		LogFile:   strings.TrimSpace(v.GetString(KeyLogFile)),
		LogLevel:  strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		Theme:     strings.ToLower(strings.TrimSpace(v.GetString(KeyTheme))),
		Color:     strings.ToLower(strings.TrimSpace(v.GetString(KeyColor))),
	}
	if c.Table == "" {
		return Config{}, errors.New("config: table must not be empty")
	}
	if c.Timeout <= 0 {
		return Config{}, fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.Heartbeat <= 0 {
		return Config{}, fmt.Errorf("config: heartbeat must be positive, got %s", c.Heartbeat)
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return Config{}, fmt.Errorf("config: color must be auto, always or never, got %q", c.Color)
	}
	return c, nil
}

// RequireRemote checks the settings every backend-facing command needs.
func (c Config) RequireRemote() error {
	if c.URL == "" {
		return ErrNoURL
	}
	return nil
}

// DefaultLogFile lives in the user cache dir; the TUI owns the terminal.
func DefaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tada", "todo.log")
}
