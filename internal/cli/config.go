package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/freightlane-backend/internal/statusqueue"
)

// Config is the driver-side tripctl configuration file.
type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"api"`

	Queue struct {
		Path          string        `yaml:"path"`
		SendTimeout   time.Duration `yaml:"send_timeout"`
		MaxAttempts   int           `yaml:"max_attempts"`
		DrainInterval time.Duration `yaml:"drain_interval"`
	} `yaml:"queue"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.API.BaseURL = "http://localhost:8080"
	cfg.Queue.Path = "tripctl-queue.db"
	cfg.Queue.SendTimeout = statusqueue.DefaultSendTimeout
	cfg.Queue.MaxAttempts = statusqueue.DefaultMaxAttempts
	cfg.Queue.DrainInterval = 30 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// loadConfig reads path over the defaults. A missing file is not an error so
// tripctl works with flags and env alone.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if token := os.Getenv("FREIGHTLANE_TRIPCTL_TOKEN"); token != "" {
		cfg.API.Token = token
	}
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return cfg, fmt.Errorf("api.base_url is required")
	}
	if cfg.Queue.Path == "" {
		return cfg, fmt.Errorf("queue.path is required")
	}
	if !filepath.IsAbs(cfg.Queue.Path) && path != "" {
		cfg.Queue.Path = filepath.Join(filepath.Dir(path), cfg.Queue.Path)
	}
	if cfg.Queue.SendTimeout <= 0 {
		cfg.Queue.SendTimeout = statusqueue.DefaultSendTimeout
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = statusqueue.DefaultMaxAttempts
	}
	if cfg.Queue.DrainInterval <= 0 {
		cfg.Queue.DrainInterval = 30 * time.Second
	}
	return cfg, nil
}
