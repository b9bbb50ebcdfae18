package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces insightd environment variables.
	envPrefix = "INSIGHTD_"

	// maxConfigSize caps the config file at 1 MiB.
	maxConfigSize = 1 << 20
)

// DefaultPath returns the default config file location,
// $XDG_CONFIG_HOME/insightd/config.yaml.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "insightd", "config.yaml"), nil
}

// Load reads the default config file if it exists, overlays environment
// variables, and validates. A missing default file is not an error.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return loadMerged(nil)
	}
	return LoadWithFile(path)
}

// LoadWithFile reads the given config file, overlays environment
// variables, and validates. The file must exist, be a regular file with
// owner-only permissions, and stay under 1 MiB.
func LoadWithFile(path string) (*Config, error) {
	raw, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	return loadMerged(raw)
}

// loadMerged layers defaults, optional YAML bytes, and the environment.
func loadMerged(yamlBytes []byte) (*Config, error) {
	k := koanf.New(".")

	if len(yamlBytes) > 0 {
		if err := k.Load(rawbytes.Provider(yamlBytes), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envTransform maps INSIGHTD_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore separates the section; the rest of the name is
// kept verbatim, so INSIGHTD_MEMORY_RETRIEVAL_LIMIT addresses
// memory.retrieval_limit. Deeper nesting is configured through the file.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if s == "data_dir" {
		return s
	}
	parts := strings.SplitN(s, "_", 2)
	return strings.Join(parts, ".")
}

// readConfigFile opens and reads the config file with the usual hygiene:
// symlinks resolved, regular file only, owner-only permissions, size cap.
// The file is opened once and all checks run against the open handle.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s is not a regular file", resolved)
	}
	if runtime.GOOS != "windows" {
		if perm := fi.Mode().Perm(); perm != 0o600 && perm != 0o400 {
			return nil, fmt.Errorf("config file %s has permissions %04o, want 0600 or 0400", resolved, perm)
		}
	}
	if fi.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", resolved, maxConfigSize)
	}

	raw, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(raw) > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", resolved, maxConfigSize)
	}
	return raw, nil
}

// EnsureDataDir creates the data directory with owner-only permissions.
func EnsureDataDir(cfg *Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	return nil
}
