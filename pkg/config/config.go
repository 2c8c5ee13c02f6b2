package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zerolg/sessiontier/pkg/session"
)

// Duration is a time.Duration that unmarshals from YAML strings like "7m"
// or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "config: invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration surface of the session tier.
type Config struct {
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	SQLitePath string `yaml:"sqlite_path"`

	// IdleThreshold is the age past which a conversation is archived.
	IdleThreshold Duration `yaml:"idle_threshold"`

	ScanInterval        Duration `yaml:"scan_interval"`
	ConsistencyInterval Duration `yaml:"consistency_interval"`
	DLQInterval         Duration `yaml:"dlq_interval"`

	MaxMessages int      `yaml:"max_messages"`
	HotTTL      Duration `yaml:"hot_ttl"`

	Stream struct {
		Topic    string `yaml:"topic"`
		Group    string `yaml:"group"`
		Consumer string `yaml:"consumer"`
		DLQKey   string `yaml:"dlq_key"`
	} `yaml:"stream"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	var cfg Config
	cfg.Redis.Addr = "localhost:6379"
	cfg.SQLitePath = "sessiontier.db"
	cfg.IdleThreshold = Duration(7 * 24 * time.Hour)
	cfg.ScanInterval = Duration(10 * time.Minute)
	cfg.ConsistencyInterval = Duration(24 * time.Hour)
	cfg.DLQInterval = Duration(5 * time.Minute)
	cfg.MaxMessages = 100
	cfg.HotTTL = Duration(7 * 24 * time.Hour)
	cfg.Stream.Topic = session.EventStreamKey
	cfg.Stream.Group = "sessiontier-archiver"
	cfg.Stream.Consumer = "consumer-1"
	cfg.Stream.DLQKey = session.DLQKey
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: parse yaml")
	}
	return cfg, nil
}
