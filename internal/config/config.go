/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "datamanager/internal/log"
)

// AppConfig is the server configuration persisted as YAML.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	StaticDir         string   `yaml:"static_dir"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	CORSOrigins       []string `yaml:"cors_origins"`
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms"`
}

type StorageConfig struct {
	JSONDir     string `yaml:"json_dir"`
	SQLiteDir   string `yaml:"sqlite_dir"`
	JSONBackups bool   `yaml:"json_backups"`
}

type SQLiteConfig struct {
	// MaxOpenHandles bounds the number of databases kept in memory; 0 keeps every
	// opened database until it is deleted or the server stops.
	MaxOpenHandles int `yaml:"max_open_handles"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Server        ServerConfig  `yaml:"server"`
	Storage       StorageConfig `yaml:"storage"`
	SQLite        SQLiteConfig  `yaml:"sqlite"`
	Logging       LoggingConfig `yaml:"logging"`
}

// DefaultPath is used when no --config flag is given.
const DefaultPath = "datamanager.yaml"

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Server: ServerConfig{
			Addr:              ":3000",
			StaticDir:         "public",
			MaxBodyBytes:      50 << 20,
			CORSOrigins:       []string{"*"},
			ShutdownTimeoutMs: 5000,
		},
		Storage: StorageConfig{JSONDir: "./data/json", SQLiteDir: "./data/sqlite", JSONBackups: false},
		SQLite:  SQLiteConfig{MaxOpenHandles: 0},
		Logging: LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvPort            = "PORT"
	EnvAddr            = "DM_ADDR"
	EnvStaticDir       = "DM_STATIC_DIR"
	EnvJSONDir         = "DM_JSON_DIR"
	EnvSQLiteDir       = "DM_SQLITE_DIR"
	EnvJSONBackups     = "DM_JSON_BACKUPS"
	EnvSQLiteMaxHandle = "DM_SQLITE_MAX_HANDLES"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "DM_LOG_LEVEL"
	EnvLogFormat = "DM_LOG_FORMAT"
	EnvLogSource = "DM_LOG_SOURCE"
	EnvLogFile   = "DM_LOG_FILE"
)

// Load reads the config file at path (DefaultPath when empty), applies defaults
// and merges environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (AppConfig, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case errors.Is(err, os.ErrNotExist):
		applog.WithComponent("config").Debug("config file not found, using defaults", "path", path)
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg as YAML to path, creating the parent directory.
func Save(path string, cfg AppConfig) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.Server.Addr); v != "" {
		dst.Server.Addr = v
	}
	if v := strings.TrimSpace(src.Server.StaticDir); v != "" {
		dst.Server.StaticDir = v
	}
	if src.Server.MaxBodyBytes > 0 {
		dst.Server.MaxBodyBytes = src.Server.MaxBodyBytes
	}
	if src.Server.CORSOrigins != nil {
		dst.Server.CORSOrigins = src.Server.CORSOrigins
	}
	if src.Server.ShutdownTimeoutMs > 0 {
		dst.Server.ShutdownTimeoutMs = src.Server.ShutdownTimeoutMs
	}
	if v := strings.TrimSpace(src.Storage.JSONDir); v != "" {
		dst.Storage.JSONDir = v
	}
	if v := strings.TrimSpace(src.Storage.SQLiteDir); v != "" {
		dst.Storage.SQLiteDir = v
	}
	// booleans: copy directly from src (file)
	dst.Storage.JSONBackups = src.Storage.JSONBackups
	if src.SQLite.MaxOpenHandles > 0 {
		dst.SQLite.MaxOpenHandles = src.SQLite.MaxOpenHandles
	}
	// logging
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStaticDir)); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJSONDir)); v != "" {
		cfg.Storage.JSONDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSQLiteDir)); v != "" {
		cfg.Storage.SQLiteDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJSONBackups)); v != "" {
		cfg.Storage.JSONBackups = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvSQLiteMaxHandle)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SQLite.MaxOpenHandles = n
		}
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

// envKeys maps dotted config keys to the env vars that can override them.
var envKeys = map[string][]string{
	"server.addr":             {EnvAddr, EnvPort},
	"server.static_dir":       {EnvStaticDir},
	"storage.json_dir":        {EnvJSONDir},
	"storage.sqlite_dir":      {EnvSQLiteDir},
	"storage.json_backups":    {EnvJSONBackups},
	"sqlite.max_open_handles": {EnvSQLiteMaxHandle},
	"logging.level":           {EnvLogLevel},
	"logging.format":          {EnvLogFormat},
	"logging.source":          {EnvLogSource},
	"logging.file":            {EnvLogFile},
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	for _, env := range envKeys[key] {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			return env, true
		}
	}
	return "", false
}

// ShutdownTimeout returns the graceful shutdown budget for the HTTP server.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	if s.ShutdownTimeoutMs <= 0 {
		return time.Duration(Defaults().Server.ShutdownTimeoutMs) * time.Millisecond
	}
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// LogOptions converts the logging section into options for the log package.
func (l LoggingConfig) LogOptions() applog.Options {
	return applog.Options{Level: l.Level, Format: l.Format, AddSource: l.Source, File: l.File}
}
