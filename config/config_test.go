package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "factoryos.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434/v1"
  model: "gpt-4o"
  api_key_env: "MY_LLM_KEY"

graph:
  addr: "falkordb:6379"
  graph_name: "plant_floor"

vector:
  driver: "pgvector"
  conn_url: "postgres://localhost:5432/factoryos"
  dimension: 768

ingest:
  chunk_size: 500
  chunk_overlap: 100
  splitter: "semantic"
  caption_workers: 2

agent:
  top_k: 8

log_level: "debug"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1", config.LLM.BaseURL)
	assert.Equal(t, "gpt-4o", config.LLM.Model)
	assert.Equal(t, "MY_LLM_KEY", config.LLM.APIKeyEnv)
	assert.Equal(t, "falkordb:6379", config.Graph.Addr)
	assert.Equal(t, "plant_floor", config.Graph.GraphName)
	assert.Equal(t, "pgvector", config.Vector.Driver)
	assert.Equal(t, 768, config.Vector.Dimension)
	assert.Equal(t, 500, config.Ingest.ChunkSize)
	assert.Equal(t, "semantic", config.Ingest.Splitter)
	assert.Equal(t, 2, config.Ingest.CaptionWorkers)
	assert.Equal(t, 8, config.Agent.TopK)
	assert.Equal(t, "debug", config.LogLevel)
	// Unset values still get defaults.
	assert.Equal(t, "chunks", config.Vector.Table)
	assert.Equal(t, "roster.db", config.Roster.Path)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Equal(t, "OPENAI_API_KEY", config.LLM.APIKeyEnv)
	assert.Equal(t, "localhost:6379", config.Graph.Addr)
	assert.Equal(t, "maintenance", config.Graph.GraphName)
	assert.Equal(t, "memory", config.Vector.Driver)
	assert.Equal(t, 1536, config.Vector.Dimension)
	assert.Equal(t, 1000, config.Ingest.ChunkSize)
	assert.Equal(t, 200, config.Ingest.ChunkOverlap)
	assert.Equal(t, "window", config.Ingest.Splitter)
	assert.Equal(t, 5, config.Ingest.CaptionWorkers)
	assert.Equal(t, 4, config.Agent.TopK)
	assert.Equal(t, "info", config.LogLevel)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm: [not a map"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FACTORYOS_LLM_BASE_URL", "http://env-llm:8080/v1")
	t.Setenv("FACTORYOS_GRAPH_ADDR", "env-graph:6379")
	t.Setenv("FACTORYOS_VECTOR_URL", "postgres://env-db:5432/factoryos")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-llm:8080/v1", config.LLM.BaseURL)
	assert.Equal(t, "env-graph:6379", config.Graph.Addr)
	assert.Equal(t, "postgres://env-db:5432/factoryos", config.Vector.ConnURL)
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("MY_LLM_KEY", "sk-test")

	config := &Config{}
	config.LLM.APIKeyEnv = "MY_LLM_KEY"
	assert.Equal(t, "sk-test", config.APIKey())
}
