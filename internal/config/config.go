// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Editor() EditorConfig
	Storage() StorageConfig
	Browser() BrowserConfig
	Server() ServerConfig

	// Editor Setters
	SetSnapEnabled(bool)
	SetGridEnabled(bool)
	SetSnapThreshold(float64)

	// Storage Setters
	SetStorageDriver(string)
	SetStoragePath(string)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	EditorCfg  EditorConfig  `mapstructure:"editor" yaml:"editor"`
	StorageCfg StorageConfig `mapstructure:"storage" yaml:"storage"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	ServerCfg  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Editor() EditorConfig   { return c.EditorCfg }
func (c *Config) Storage() StorageConfig { return c.StorageCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSnapEnabled(b bool)            { c.EditorCfg.SnapEnabled = b }
func (c *Config) SetGridEnabled(b bool)            { c.EditorCfg.GridEnabled = b }
func (c *Config) SetSnapThreshold(f float64)       { c.EditorCfg.SnapThreshold = f }
func (c *Config) SetStorageDriver(driver string)   { c.StorageCfg.Driver = driver }
func (c *Config) SetStoragePath(path string)       { c.StorageCfg.Path = path }
func (c *Config) SetBrowserHeadless(headless bool) { c.BrowserCfg.Headless = headless }

// -- Structs --

// LoggerConfig defines all the settings for the logging system.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EditorConfig tunes the direct manipulation engine.
type EditorConfig struct {
	SnapThreshold float64           `mapstructure:"snap_threshold" yaml:"snap_threshold"`
	SnapEnabled   bool              `mapstructure:"snap_enabled" yaml:"snap_enabled"`
	GridEnabled   bool              `mapstructure:"grid_enabled" yaml:"grid_enabled"`
	GridSize      float64           `mapstructure:"grid_size" yaml:"grid_size"`
	MinTargetSize float64           `mapstructure:"min_target_size" yaml:"min_target_size"`
	ClassifyDepth int               `mapstructure:"classify_depth" yaml:"classify_depth"`
	// FrameInterval paces drag frames.
	FrameInterval time.Duration     `mapstructure:"frame_interval" yaml:"frame_interval"`
	HistoryLimit  int               `mapstructure:"history_limit" yaml:"history_limit"`
	MinWidth      float64           `mapstructure:"min_width" yaml:"min_width"`
	MinHeight     float64           `mapstructure:"min_height" yaml:"min_height"`
	PercentWidth  bool              `mapstructure:"percent_width" yaml:"percent_width"`
	// AvoidOverlap nudges a dropped element away from elements it would cover.
	AvoidOverlap  bool              `mapstructure:"avoid_overlap" yaml:"avoid_overlap"`
	Page          string            `mapstructure:"page" yaml:"page"`
	Breakpoints   BreakpointConfig  `mapstructure:"breakpoints" yaml:"breakpoints"`
	Keymap        map[string]string `mapstructure:"keymap" yaml:"keymap"`
}

// BreakpointConfig holds the viewport widths that separate the responsive
// variants. Widths below Mobile are mobile, below Tablet are tablet.
type BreakpointConfig struct {
	Mobile float64 `mapstructure:"mobile" yaml:"mobile"`
	Tablet float64 `mapstructure:"tablet" yaml:"tablet"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres, file.
	Driver       string        `mapstructure:"driver" yaml:"driver"`
	Path         string        `mapstructure:"path" yaml:"path"`
	URL          string        `mapstructure:"url" yaml:"url"`
	Channel      string        `mapstructure:"channel" yaml:"channel"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BrowserConfig configures the live browser surface.
type BrowserConfig struct {
	Headless bool           `mapstructure:"headless" yaml:"headless"`
	Viewport ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	Timeout  time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Args     []string       `mapstructure:"args" yaml:"args"`
}

// ViewportConfig is a viewport size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "freeform")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Editor --
	v.SetDefault("editor.snap_threshold", 8.0)
	v.SetDefault("editor.snap_enabled", true)
	v.SetDefault("editor.grid_enabled", false)
	v.SetDefault("editor.grid_size", 20.0)
	v.SetDefault("editor.min_target_size", 10.0)
	v.SetDefault("editor.classify_depth", 5)
	v.SetDefault("editor.frame_interval", "16ms")
	v.SetDefault("editor.history_limit", 50)
	v.SetDefault("editor.min_width", 50.0)
	v.SetDefault("editor.min_height", 30.0)
	v.SetDefault("editor.percent_width", false)
	v.SetDefault("editor.avoid_overlap", false)
	v.SetDefault("editor.page", "default")
	v.SetDefault("editor.breakpoints.mobile", 640.0)
	v.SetDefault("editor.breakpoints.tablet", 1024.0)
	v.SetDefault("editor.keymap", map[string]string{
		"Escape":       "cancel",
		"Ctrl+Z":       "undo",
		"Meta+Z":       "undo",
		"Ctrl+Shift+Z": "redo",
		"Meta+Shift+Z": "redo",
		"Ctrl+Y":       "redo",
		"Meta+Y":       "redo",
		"G":            "toggle_grid",
		"S":            "toggle_snap",
	})

	// -- Storage --
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "~/.freeform/state.db")
	v.SetDefault("storage.url", "")
	v.SetDefault("storage.channel", "freeform_state")
	v.SetDefault("storage.poll_interval", "500ms")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.timeout", "60s")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password.
	v.BindEnv("storage.url", "FREEFORM_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	path, err := homedir.Expand(cfg.StorageCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand storage.path: %w", err)
	}
	cfg.StorageCfg.Path = path
	if cfg.LoggerCfg.LogFile != "" {
		if cfg.LoggerCfg.LogFile, err = homedir.Expand(cfg.LoggerCfg.LogFile); err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EditorCfg.Validate(); err != nil {
		return fmt.Errorf("editor configuration invalid: %w", err)
	}
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if c.BrowserCfg.Viewport.Width <= 0 || c.BrowserCfg.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive integers")
	}
	return nil
}

// Validate checks the editor settings.
func (e *EditorConfig) Validate() error {
	if e.SnapThreshold < 0 {
		return fmt.Errorf("snap_threshold must not be negative")
	}
	if e.GridSize <= 0 {
		return fmt.Errorf("grid_size must be positive")
	}
	if e.ClassifyDepth <= 0 {
		return fmt.Errorf("classify_depth must be a positive integer")
	}
	if e.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be a positive integer")
	}
	if e.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be a positive duration")
	}
	if e.MinWidth < 0 || e.MinHeight < 0 {
		return fmt.Errorf("min_width and min_height must not be negative")
	}
	if e.Breakpoints.Mobile <= 0 || e.Breakpoints.Tablet <= e.Breakpoints.Mobile {
		return fmt.Errorf("breakpoints must satisfy 0 < mobile < tablet")
	}
	return nil
}

// Validate checks the storage settings for the selected driver.
func (s *StorageConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case "memory":
	case "sqlite", "file":
		if s.Path == "" {
			return fmt.Errorf("path is required for the %s driver", s.Driver)
		}
	case "postgres":
		if s.URL == "" {
			return fmt.Errorf("url is required for the postgres driver. Ensure FREEFORM_DATABASE_URL is set")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	return nil
}
