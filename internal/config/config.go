package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Repository delivery modes.
const (
	ModeHosted = "hosted"
	ModeProxy  = "proxy"
	ModeGroup  = "group"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Repository RepositoryConfig `yaml:"repository"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type RepositoryConfig struct {
	// Mode selects hosted, proxy or group delivery.
	Mode string `yaml:"mode"`
	// BaseURL is the stable URL under which every generated provider and
	// dist URL lives, e.g. "https://packages.example.com/composer".
	BaseURL string `yaml:"baseURL"`
	// UpstreamURL is the proxied repository's base URL (proxy mode).
	UpstreamURL string `yaml:"upstreamURL"`
	// Members are the aggregated repositories' base URLs in priority
	// order, highest first (group mode).
	Members []string `yaml:"members"`
}

// URL returns the repository base URL without a trailing slash.
func (r RepositoryConfig) URL() string {
	return strings.TrimRight(r.BaseURL, "/")
}

type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

type AuthConfig struct {
	Tokens []string `yaml:"tokens"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		Server:     ServerConfig{Port: 8080},
		Repository: RepositoryConfig{Mode: ModeHosted},
		Storage:    StorageConfig{DataDir: "./data"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Repository.BaseURL == "" {
		return nil, fmt.Errorf("repository.baseURL is required")
	}

	switch cfg.Repository.Mode {
	case ModeHosted:
		if len(cfg.Auth.Tokens) == 0 {
			return nil, fmt.Errorf("hosted mode requires auth tokens for uploads")
		}
	case ModeProxy:
		if cfg.Repository.UpstreamURL == "" {
			return nil, fmt.Errorf("proxy mode requires repository.upstreamURL")
		}
	case ModeGroup:
		if len(cfg.Repository.Members) == 0 {
			return nil, fmt.Errorf("group mode requires repository.members")
		}
	default:
		return nil, fmt.Errorf("unknown repository mode %q", cfg.Repository.Mode)
	}

	return cfg, nil
}
