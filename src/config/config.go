package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mnemo-labs/go-memory/src/embed"
	"github.com/mnemo-labs/go-memory/src/memory"
)

// Storage backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the runtime configuration for the memory subsystem and the
// embedding service client.
type Config struct {
	Engine         string `yaml:"engine"`          // auto or a pinned engine name
	RemoteURL      string `yaml:"remote_url"`      // embedding service base URL
	Model          string `yaml:"model"`           // default embedding model
	StorageDir     string `yaml:"storage_dir"`     // bank persistence root
	StorageBackend string `yaml:"storage_backend"` // file or sqlite
	MaxEntries     int    `yaml:"max_entries"`     // default bank capacity
	ServiceAddr    string `yaml:"service_addr"`    // embedding service bind address
	CacheDir       string `yaml:"cache_dir"`       // model artifact cache
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Engine:         embed.EngineAuto,
		RemoteURL:      embed.DefaultRemoteURL,
		Model:          embed.DefaultModel,
		StorageDir:     ".memory",
		StorageBackend: BackendFile,
		MaxEntries:     memory.DefaultMaxEntries,
		ServiceAddr:    ":11434",
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file at path, then environment overrides. An empty path skips the file; a
// named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found", path)
			}
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("EMBEDDING_ENGINE"); v != "" {
		c.Engine = strings.ToLower(v)
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("MEMORY_REMOTE_URL"); v != "" {
		c.RemoteURL = v
	}
	if v := os.Getenv("MEMORY_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("MEMORY_STORAGE_BACKEND"); v != "" {
		c.StorageBackend = strings.ToLower(v)
	}
	if v := os.Getenv("MEMORY_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxEntries = n
		}
	}
	if v := os.Getenv("MEMORY_SERVICE_ADDR"); v != "" {
		c.ServiceAddr = v
	}
}

func (c Config) validate() error {
	switch c.Engine {
	case embed.EngineAuto, embed.EngineTFIDF, embed.EngineFastEmbed,
		embed.EngineSentenceTransformer, embed.EngineRemote, embed.EngineOllama:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	switch c.StorageBackend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.MaxEntries < 1 || c.MaxEntries > memory.MaxEntriesCeiling {
		return fmt.Errorf("max_entries %d out of range [1,%d]", c.MaxEntries, memory.MaxEntriesCeiling)
	}
	return nil
}
