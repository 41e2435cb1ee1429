package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the project-local config file searched from the working directory upwards
const LocalConfigName = ".filter-runner.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	History       HistoryConfig       `toml:"history"`
	Console       ConsoleConfig       `toml:"console"`
	Execution     ExecutionConfig     `toml:"execution"`
	Arguments     ArgumentsConfig     `toml:"arguments"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DefinitionsDir string `toml:"definitions_dir"`
	DataDir        string `toml:"data_dir"`
	DatabasePath   string `toml:"database_path"`
}

// HistoryConfig controls the run history
type HistoryConfig struct {
	Limit   int  `toml:"limit"`
	Record  bool `toml:"record"`
	Persist bool `toml:"persist"`
}

// ConsoleConfig controls the per-session console
type ConsoleConfig struct {
	Show      bool `toml:"show"`
	AutoClose bool `toml:"auto_close"`
}

// ExecutionConfig controls how filters are launched and observed
type ExecutionConfig struct {
	PollIntervalMS int    `toml:"poll_interval_ms"`
	JavaCommand    string `toml:"java_command"`
	CancelExitCode int    `toml:"cancel_exit_code"`
	LogDir         string `toml:"log_dir"`
	// TempDir holds intermediate files passed between chained filters
	TempDir string `toml:"temp_dir"`
}

// PollInterval returns the polling interval as a duration
func (e ExecutionConfig) PollInterval() time.Duration {
	if e.PollIntervalMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// ArgumentsConfig controls the persisted argument value history
type ArgumentsConfig struct {
	HistoryLength int    `toml:"history_length"`
	HistoryFile   string `toml:"history_file"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".filter-runner")
	return &Config{
		General: GeneralConfig{
			DefinitionsDir: filepath.Join(dataDir, "filters"),
			DataDir:        dataDir,
			DatabasePath:   filepath.Join(dataDir, "history.db"),
		},
		History: HistoryConfig{
			Limit:   50,
			Record:  true,
			Persist: true,
		},
		Console: ConsoleConfig{
			Show:      true,
			AutoClose: false,
		},
		Execution: ExecutionConfig{
			PollIntervalMS: 200,
			JavaCommand:    "java",
			CancelExitCode: 130,
			LogDir:         filepath.Join(dataDir, "logs"),
			TempDir:        filepath.Join(dataDir, "tmp"),
		},
		Arguments: ArgumentsConfig{
			HistoryLength: 10,
			HistoryFile:   filepath.Join(dataDir, "argvalues.yaml"),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, cfg.Validate()
}

// LoadWithLocalFallback loads the explicit path if given. Otherwise it loads the
// default config and overlays the nearest project-local config on top of it.
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}

	cfg, err := Load(DefaultConfigPath())
	if err != nil {
		return nil, err
	}

	local := FindLocalConfig()
	if local == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, err
	}
	var overlay Config
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", local, err)
	}
	overlay.expandPaths()

	// Zero values in the overlay never override, so booleans can only be switched on locally.
	if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging %s: %w", local, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must not be negative, got %d", c.History.Limit)
	}
	if c.Arguments.HistoryLength < 0 {
		return fmt.Errorf("arguments.history_length must not be negative, got %d", c.Arguments.HistoryLength)
	}
	if c.Execution.PollIntervalMS < 0 {
		return fmt.Errorf("execution.poll_interval_ms must not be negative, got %d", c.Execution.PollIntervalMS)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.General.DefinitionsDir = ExpandPath(c.General.DefinitionsDir)
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.DatabasePath = ExpandPath(c.General.DatabasePath)
	c.Execution.LogDir = ExpandPath(c.Execution.LogDir)
	c.Execution.TempDir = ExpandPath(c.Execution.TempDir)
	c.Arguments.HistoryFile = ExpandPath(c.Arguments.HistoryFile)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "filter-runner", "config.toml")
}
