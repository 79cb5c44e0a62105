// Package config loads the optional YAML file that supplies defaults for the
// command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Logs configures the rotating log file.
type Logs struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Config holds every setting that can come from the file.
type Config struct {
	IgnoreDiskNumbers bool     `yaml:"ignoreDiskNumbers"`
	AllowTrailingData bool     `yaml:"allowTrailingData"`
	OutDir            string   `yaml:"outDir"`
	Extensions        []string `yaml:"extensions"`
	Journal           string   `yaml:"journal"`
	Logs              Logs     `yaml:"logs"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		IgnoreDiskNumbers: true,
		Extensions:        []string{".zip", ".mcpack"},
		Logs: Logs{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Relative paths inside the file are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(baseDir, p)
	}
	if cfg.OutDir != "" {
		cfg.OutDir = resolvePath(cfg.OutDir)
	}
	if cfg.Journal != "" {
		cfg.Journal = resolvePath(cfg.Journal)
	}
	if cfg.Logs.File != "" {
		cfg.Logs.File = resolvePath(cfg.Logs.File)
	}

	for i, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Extensions[i] = ext
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = Default().Extensions
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = Default().Logs.MaxSizeMB
	}

	return cfg, nil
}
