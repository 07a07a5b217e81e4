/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
)

const sampleYAML = `
redis:
  url: redis://localhost:6379
queue:
  failed_retention: 5
  store_max_attempts: 6
  dequeue_timeout: 2s
provider:
  base_url: http://localhost:8000
  timeout: 1m
poller:
  interval: 30s
  max_duration: 2h
writer:
  max_units: 1000
dead_letter:
  backend: fs
  fs_path: /tmp/deadletters
postgres:
  dsn: postgres://lexicon@localhost/lexicon
auto_migrate: true
lexicon:
  max_neighbours: 10
metrics_address: ":9191"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultSubmitMaxAttempts, cfg.Queue.SubmitMaxAttempts)
	assert.Equal(t, DefaultStoreMaxAttempts, cfg.Queue.StoreMaxAttempts)
	assert.Equal(t, 3, cfg.Queue.FailedRetention)
	assert.Equal(t, 50, cfg.Lexicon.MaxNeighbours)
	assert.Equal(t, 3, cfg.Lexicon.DistanceThreshold)
	assert.Equal(t, deadletter.BackendNone, cfg.DeadLetter.Backend)
	assert.Equal(t, ":9090", cfg.MetricsAddress)
	assert.Zero(t, cfg.Poller.MaxDuration)

	// required connection settings are missing
	assert.Error(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromYAML(writeFile(t, sampleYAML)))

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.Url)
	assert.Equal(t, 5, cfg.Queue.FailedRetention)
	assert.Equal(t, 6, cfg.Queue.StoreMaxAttempts)
	assert.Equal(t, DefaultSubmitMaxAttempts, cfg.Queue.SubmitMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.DequeueTimeout)
	assert.Equal(t, time.Minute, cfg.Provider.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Poller.MaxDuration)
	assert.Equal(t, 1000, cfg.Writer.MaxUnits)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 10, cfg.Lexicon.MaxNeighbours)
	// untouched nested defaults survive
	assert.Equal(t, 3, cfg.Lexicon.DistanceThreshold)
	assert.Equal(t, ":9191", cfg.MetricsAddress)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAMLRejectsUnknownFields(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.LoadFromYAML(writeFile(t, "max_workers: 10\n")))
	assert.Error(t, cfg.LoadFromYAML(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("PROVIDER_API_KEY", "sk-test")
	t.Setenv("POSTGRES_DSN", "postgres://override@db/lexicon")
	t.Setenv("REDIS_URL", "redis://redis:6379")

	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, "postgres://override@db/lexicon", cfg.Postgres.DSN)
	assert.Equal(t, "redis://redis:6379", cfg.Redis.Url)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("PROVIDER_BASE_URL", "http://provider")
	t.Setenv("POSTGRES_DSN", "postgres://db/lexicon")
	t.Setenv("REDIS_URL", "redis://redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://provider", cfg.Provider.BaseURL)
}

func TestValidate(t *testing.T) {
	valid := func() *ProcessorConfig {
		cfg := NewConfig()
		cfg.Redis.Url = "redis://localhost:6379"
		cfg.Provider.BaseURL = "http://localhost:8000"
		cfg.Postgres.DSN = "postgres://localhost/lexicon"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*ProcessorConfig)
	}{
		{"zero submit attempts", func(c *ProcessorConfig) { c.Queue.SubmitMaxAttempts = 0 }},
		{"zero store attempts", func(c *ProcessorConfig) { c.Queue.StoreMaxAttempts = 0 }},
		{"zero retention", func(c *ProcessorConfig) { c.Queue.FailedRetention = 0 }},
		{"zero dequeue timeout", func(c *ProcessorConfig) { c.Queue.DequeueTimeout = 0 }},
		{"fs dead letters without path", func(c *ProcessorConfig) { c.DeadLetter.Backend = deadletter.BackendFS }},
		{"parameter limit too high", func(c *ProcessorConfig) { c.Persistence.ParameterLimit = 70000 }},
		{"negative window", func(c *ProcessorConfig) { c.Lexicon.MaxNeighbours = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromYAML(filepath.Join("..", "..", "..", "cmd", "batch-processor", "config.yaml")))
	assert.Equal(t, NewConfig().Poller, cfg.Poller)
	assert.Equal(t, NewConfig().Lexicon, cfg.Lexicon)
	assert.Equal(t, deadletter.BackendFS, cfg.DeadLetter.Backend)
}
