// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 8.0, cfg.Editor().SnapThreshold)
	assert.True(t, cfg.Editor().SnapEnabled)
	assert.False(t, cfg.Editor().GridEnabled)
	assert.Equal(t, 20.0, cfg.Editor().GridSize)
	assert.Equal(t, 5, cfg.Editor().ClassifyDepth)
	assert.Equal(t, 16*time.Millisecond, cfg.Editor().FrameInterval)
	assert.Equal(t, 50, cfg.Editor().HistoryLimit)
	assert.Equal(t, BreakpointConfig{Mobile: 640, Tablet: 1024}, cfg.Editor().Breakpoints)
	assert.Len(t, cfg.Editor().Keymap, 9)
	assert.Equal(t, "sqlite", cfg.Storage().Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage().PollInterval)
	assert.Equal(t, 1280, cfg.Browser().Viewport.Width)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server().Addr)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		cfgInvalidViewport := *cfg
		cfgInvalidViewport.BrowserCfg.Viewport.Width = 0
		err := cfgInvalidViewport.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "browser.viewport dimensions must be positive integers")
	})

	t.Run("Editor Validation", func(t *testing.T) {
		valid := NewDefaultConfig().EditorCfg
		require.NoError(t, valid.Validate())

		tests := []struct {
			name   string
			mutate func(*EditorConfig)
			want   string
		}{
			{"negative threshold", func(e *EditorConfig) { e.SnapThreshold = -1 }, "snap_threshold must not be negative"},
			{"zero grid", func(e *EditorConfig) { e.GridSize = 0 }, "grid_size must be positive"},
			{"zero depth", func(e *EditorConfig) { e.ClassifyDepth = 0 }, "classify_depth must be a positive integer"},
			{"zero history", func(e *EditorConfig) { e.HistoryLimit = 0 }, "history_limit must be a positive integer"},
			{"zero frame", func(e *EditorConfig) { e.FrameInterval = 0 }, "frame_interval must be a positive duration"},
			{"negative min size", func(e *EditorConfig) { e.MinHeight = -1 }, "min_width and min_height must not be negative"},
			{"inverted breakpoints", func(e *EditorConfig) { e.Breakpoints.Tablet = 500 }, "breakpoints must satisfy"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := valid
				tt.mutate(&e)
				err := e.Validate()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})

	t.Run("Storage Validation", func(t *testing.T) {
		s := StorageConfig{Driver: "memory", PollInterval: time.Second}
		assert.NoError(t, s.Validate())

		s.Driver = "sqlite"
		assert.ErrorContains(t, s.Validate(), "path is required for the sqlite driver")
		s.Path = "/tmp/x.db"
		assert.NoError(t, s.Validate())

		s.Driver = "postgres"
		assert.ErrorContains(t, s.Validate(), "FREEFORM_DATABASE_URL")

		s.Driver = "redis"
		assert.ErrorContains(t, s.Validate(), `unknown driver "redis"`)

		s = StorageConfig{Driver: "memory"}
		assert.ErrorContains(t, s.Validate(), "poll_interval must be a positive duration")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
editor:
  snap_threshold: 4
  grid_enabled: true
  breakpoints:
    mobile: 480
storage:
  driver: file
  path: /tmp/freeform.json
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 4.0, cfg.Editor().SnapThreshold)
		assert.True(t, cfg.Editor().GridEnabled)
		assert.Equal(t, 480.0, cfg.Editor().Breakpoints.Mobile)
		assert.Equal(t, 1024.0, cfg.Editor().Breakpoints.Tablet, "untouched keys keep their defaults")
		assert.Equal(t, "file", cfg.Storage().Driver)
		assert.Equal(t, "/tmp/freeform.json", cfg.Storage().Path)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("editor.history_limit", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "history_limit must be a positive integer")
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".freeform", "state.db"), cfg.Storage().Path)
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("storage.driver", "postgres")

		yamlConfig := []byte(`
storage:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("FREEFORM_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Storage().URL, "env overrides the config file")
	})
}

// -- Setter Tests --

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetSnapEnabled(false)
	cfg.SetGridEnabled(true)
	cfg.SetSnapThreshold(12)
	cfg.SetStorageDriver("memory")
	cfg.SetStoragePath("/x")
	cfg.SetBrowserHeadless(false)

	assert.False(t, cfg.Editor().SnapEnabled)
	assert.True(t, cfg.Editor().GridEnabled)
	assert.Equal(t, 12.0, cfg.Editor().SnapThreshold)
	assert.Equal(t, "memory", cfg.Storage().Driver)
	assert.Equal(t, "/x", cfg.Storage().Path)
	assert.False(t, cfg.Browser().Headless)
}
