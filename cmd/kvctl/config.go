package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/aalhour/treekv"
	"github.com/aalhour/treekv/internal/logging"
)

// DefaultConfig is decoded before the user's file, so a file only needs the
// settings it changes.
const DefaultConfig = `
# kvctl configuration.

# storage backend: tree, leveldb or bolt
backend = "tree"
# engine directory (tree, leveldb) or file (bolt)
db = ""

[engine]
create-if-missing = true
paranoid-checks = false
# column families created on open in addition to the well-known ones
column-families = []
# sync the write-ahead state after every write
sync = false

[log]
# log level: error, warn, info, debug
level = "warn"
`

// Config is the kvctl configuration file.
type Config struct {
	Backend string       `toml:"backend"`
	DBPath  string       `toml:"db"`
	Engine  EngineConfig `toml:"engine"`
	Log     LogConfig    `toml:"log"`
}

type EngineConfig struct {
	CreateIfMissing bool     `toml:"create-if-missing"`
	ParanoidChecks  bool     `toml:"paranoid-checks"`
	ColumnFamilies  []string `toml:"column-families"`
	Sync            bool     `toml:"sync"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig decodes DefaultConfig and then path, if set.
func LoadConfig(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.Decode(DefaultConfig, c); err != nil {
		return nil, fmt.Errorf("decode default config: %w", err)
	}
	if path == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return c, nil
}

// applyFlags overrides c with the flags set on the command line.
func (c *Config) applyFlags(fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			c.Backend = *backendFlag
		case "db":
			c.DBPath = *dbPath
		case "create_if_missing":
			c.Engine.CreateIfMissing = *createIfMissing
		case "paranoid":
			c.Engine.ParanoidChecks = *paranoid
		case "sync":
			c.Engine.Sync = *syncWrites
		case "log_level":
			c.Log.Level = *logLevel
		}
	})
}

// Validate checks the settings that have no sane fallback.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("no database path: set db in the config or pass --db")
	}
	switch c.Backend {
	case "tree", "leveldb", "bolt":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Options returns the engine options the config describes.
func (c *Config) Options() *treekv.Options {
	opts := treekv.DefaultOptions()
	opts.CreateIfMissing = c.Engine.CreateIfMissing
	opts.ParanoidChecks = c.Engine.ParanoidChecks
	opts.ColumnFamilies = append(opts.ColumnFamilies, c.Engine.ColumnFamilies...)
	level, _ := logging.ParseLevel(c.Log.Level)
	opts.Logger = logging.NewDefaultLogger(level)
	return opts
}
