package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tarnlabs/tarn/pkg/log"
)

// Config is the on-disk configuration of a tarn process. Zero values fall
// back to library defaults, so a config file only needs the fields it
// wants to override.
type Config struct {
	// DataPath is the bbolt file holding every repository. A leading "~"
	// expands to the user's home directory.
	DataPath string `yaml:"dataPath"`

	// Repository is the repository name commands operate on.
	Repository string `yaml:"repository"`

	// DefaultBranch is the branch created when a repository is
	// initialized.
	DefaultBranch string `yaml:"defaultBranch"`

	Warehouse Warehouse `yaml:"warehouse"`
	Tasks     Tasks     `yaml:"tasks"`
	Log       Log       `yaml:"log"`
}

// Warehouse configures where table and view metadata lives.
type Warehouse struct {
	// Root is the URI prefix every table and view location must live
	// under. Must end with a slash.
	Root string `yaml:"root"`

	// ObjectDir is the directory the local object store serves Root from.
	ObjectDir string `yaml:"objectDir"`
}

// Tasks tunes the snapshot materialization cache. Zero values use the
// task cache defaults.
type Tasks struct {
	Workers           int      `yaml:"workers"`
	QueueDepth        int      `yaml:"queueDepth"`
	ResidentLimit     int      `yaml:"residentLimit"`
	SuccessTTL        Duration `yaml:"successTTL"`
	FailureRetryAfter Duration `yaml:"failureRetryAfter"`
}

// Log selects the log level and output shape.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Duration is a time.Duration that reads and writes the "1h30m" syntax in
// YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file exists: a single
// local database and warehouse under ~/.tarn.
func Default() *Config {
	return &Config{
		DataPath:      "~/.tarn/tarn.db",
		Repository:    "default",
		DefaultBranch: "main",
		Warehouse: Warehouse{
			Root:      "file://tarn/",
			ObjectDir: "~/.tarn/warehouse",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations no component could run with.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("dataPath must not be empty")
	}
	if c.Repository == "" {
		return fmt.Errorf("repository must not be empty")
	}
	if c.DefaultBranch == "" {
		return fmt.Errorf("defaultBranch must not be empty")
	}
	if c.Warehouse.Root == "" || !strings.Contains(c.Warehouse.Root, "://") {
		return fmt.Errorf("warehouse root %q is not a URI", c.Warehouse.Root)
	}
	if !strings.HasSuffix(c.Warehouse.Root, "/") {
		return fmt.Errorf("warehouse root %q must end with a slash", c.Warehouse.Root)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// ExpandedDataPath returns DataPath with "~" resolved.
func (c *Config) ExpandedDataPath() (string, error) {
	return expandHome(c.DataPath)
}

// ExpandedObjectDir returns Warehouse.ObjectDir with "~" resolved.
func (c *Config) ExpandedObjectDir() (string, error) {
	return expandHome(c.Warehouse.ObjectDir)
}

// LogConfig converts the log section into the logging package's config.
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
		Output:     os.Stderr,
	}
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
