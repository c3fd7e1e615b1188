package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "VECTORD_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VECTORD_SERVER_PORT, VECTORD_INDEX_PROVIDER, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables are uppercased with underscore separators. The first
// underscore after the prefix splits the section:
//
//	VECTORD_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
//	VECTORD_INDEX_QDRANT_API_KEY    -> index.qdrant.api_key
//
// An empty configPath skips file loading entirely.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFile reads and parses a YAML config file with a size cap.
func loadFile(k *koanf.Koanf, configPath string) error {
	f, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing file falls through to env + defaults
		}
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing config file %s: %w", configPath, err)
	}
	return nil
}

// nestedSections are second-level config sections that need a second split
// when mapping environment variables to koanf paths.
var nestedSections = []string{"chromem", "qdrant"}

// transformEnvKey maps an environment variable name to a koanf path.
func transformEnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))

	section, rest, found := strings.Cut(s, "_")
	if !found {
		return s
	}

	for _, nested := range nestedSections {
		if inner, ok := strings.CutPrefix(rest, nested+"_"); ok {
			return section + "." + nested + "." + inner
		}
	}

	return section + "." + rest
}
