// Package config loads the service configuration from YAML, merges
// environment overrides and applies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"llm"`

	Graph struct {
		Addr      string `yaml:"addr"`
		GraphName string `yaml:"graph_name"`
	} `yaml:"graph"`

	Vector struct {
		Driver    string `yaml:"driver"` // memory or pgvector
		ConnURL   string `yaml:"conn_url"`
		Table     string `yaml:"table"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"vector"`

	Roster struct {
		Path string `yaml:"path"`
	} `yaml:"roster"`

	Ingest struct {
		ChunkSize      int    `yaml:"chunk_size"`
		ChunkOverlap   int    `yaml:"chunk_overlap"`
		Splitter       string `yaml:"splitter"` // window or semantic
		CaptionWorkers int    `yaml:"caption_workers"`
	} `yaml:"ingest"`

	Agent struct {
		TopK int `yaml:"top_k"`
	} `yaml:"agent"`

	LogLevel string `yaml:"log_level"`
}

// Load reads a config file, falling back to default locations and then
// to pure defaults when no file exists.
func Load(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"factoryos.yaml",
			"factoryos.yml",
			filepath.Join(os.Getenv("HOME"), ".config/factoryos/config.yaml"),
			"/etc/factoryos/config.yaml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// APIKey resolves the configured LLM API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "gpt-4o-mini"
	}
	if config.LLM.APIKeyEnv == "" {
		config.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}

	if config.Graph.Addr == "" {
		config.Graph.Addr = "localhost:6379"
	}
	if config.Graph.GraphName == "" {
		config.Graph.GraphName = "maintenance"
	}

	if config.Vector.Driver == "" {
		config.Vector.Driver = "memory"
	}
	if config.Vector.Table == "" {
		config.Vector.Table = "chunks"
	}
	if config.Vector.Dimension == 0 {
		config.Vector.Dimension = 1536
	}

	if config.Roster.Path == "" {
		config.Roster.Path = "roster.db"
	}

	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 1000
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 200
	}
	if config.Ingest.Splitter == "" {
		config.Ingest.Splitter = "window"
	}
	if config.Ingest.CaptionWorkers == 0 {
		config.Ingest.CaptionWorkers = 5
	}

	if config.Agent.TopK == 0 {
		config.Agent.TopK = 4
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("FACTORYOS_LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if addr := os.Getenv("FACTORYOS_GRAPH_ADDR"); addr != "" {
		config.Graph.Addr = addr
	}
	if connURL := os.Getenv("FACTORYOS_VECTOR_URL"); connURL != "" {
		config.Vector.ConnURL = connURL
	}
}
