// Package config aggregates CLI-facing settings from environment variables
// and an optional config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the transfer tool needs to reach the service and
// tune the engine.
type Config struct {
	API struct {
		// Server is the base URL of the file store API.
		Server string
		// AccessToken authenticates every request.
		AccessToken string
		// AppSessionID is an optional session correlation header.
		AppSessionID string
		// Timeout bounds each individual HTTP request.
		Timeout time.Duration
	}
	Transfer struct {
		// PartSize in bytes; zero selects the engine default.
		PartSize int64
		// Concurrency is the worker pool size; zero selects the default.
		Concurrency int
		// MaxAttempts bounds per-part tries; zero selects the default.
		MaxAttempts int
		// TempDir switches download reassembly to per-part temp files.
		TempDir string
	}
	State struct {
		// Path of the bbolt database holding job records.
		Path string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from BSXFER_* environment variables and an
// optional config file in the current directory or ~/.bsxfer.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BSXFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api.server", "https://api.basespace.illumina.com/v1pre3")
	v.SetDefault("api.accesstoken", "")
	v.SetDefault("api.appsessionid", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("transfer.partsize", 0)
	v.SetDefault("transfer.concurrency", 0)
	v.SetDefault("transfer.maxattempts", 0)
	v.SetDefault("transfer.tempdir", "")
	v.SetDefault("state.path", defaultStatePath())
	v.SetDefault("log.level", "info")

	v.SetConfigName("bsxfer")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".bsxfer"))
	}
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bsxfer.db"
	}
	return filepath.Join(home, ".bsxfer", "state.db")
}
