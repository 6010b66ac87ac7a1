package reactor

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration for an embedder of this
// package, loaded from either YAML or TOML depending on file
// extension.
type Config struct {
	Global Global   `yaml:"global" toml:"global"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Client []ClientConfig `yaml:"clients" toml:"clients"`
}

type Global struct {
	LogLevel string `yaml:"log_level" toml:"log_level"`
	// RlimitNofile, if nonzero, overrides the RLIMIT_NOFILE bump applied
	// at startup (see rlimit_linux.go).
	RlimitNofile uint64 `yaml:"rlimit_nofile" toml:"rlimit_nofile"`
}

type ServerConfig struct {
	Name       string `yaml:"name" toml:"name"`
	Net        string `yaml:"net" toml:"net"`
	Address    string `yaml:"address" toml:"address"`
	ReusePort  bool   `yaml:"reuse_port" toml:"reuse_port"`
	ThreadNum  int    `yaml:"thread_num" toml:"thread_num"`
}

type ClientConfig struct {
	Name       string `yaml:"name" toml:"name"`
	Net        string `yaml:"net" toml:"net"`
	Address    string `yaml:"address" toml:"address"`
	EnableRetry bool  `yaml:"enable_retry" toml:"enable_retry"`
}

// LoadConfig reads and unmarshals filePath, dispatching on extension.
// It returns an error rather than calling log.Fatalf, since a library
// has no business terminating its embedder's process over a bad
// config path.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("goreactor: reading config %s: %w", filePath, err)
	}

	cfg := &Config{}
	switch {
	case strings.HasSuffix(filePath, ".toml"):
		err = toml.Unmarshal(data, cfg)
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("goreactor: unrecognized config extension for %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("goreactor: parsing config %s: %w", filePath, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Address != "" && cfg.Server.Net == "" {
		cfg.Server.Net = "tcp"
	}
	for i := range cfg.Client {
		if cfg.Client[i].Net == "" {
			cfg.Client[i].Net = "tcp"
		}
	}
	return nil
}
