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

// The processor's configuration definitions.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/database/postgres"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
	"github.com/llm-d-incubation/lexicon-batch/internal/poller"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

const (
	DefaultSubmitMaxAttempts = 1
	DefaultStoreMaxAttempts  = 4
)

type QueueConfig struct {
	dbredis.Options `yaml:",inline"`

	SubmitMaxAttempts int           `yaml:"submit_max_attempts"`
	StoreMaxAttempts  int           `yaml:"store_max_attempts"`
	DequeueTimeout    time.Duration `yaml:"dequeue_timeout"`
}

type ProcessorConfig struct {
	Redis       uredis.RedisClientConfig     `yaml:"redis"`
	Queue       QueueConfig                  `yaml:"queue"`
	Provider    batchclient.HTTPClientConfig `yaml:"provider"`
	Poller      poller.Config                `yaml:"poller"`
	Writer      jobpackage.WriterConfig      `yaml:"writer"`
	DeadLetter  deadletter.StoreConfig       `yaml:"dead_letter"`
	Postgres    postgres.Config              `yaml:"postgres"`
	AutoMigrate bool                         `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	Persistence persistence.Config           `yaml:"persistence"`
	Lexicon     lexicon.Config               `yaml:"lexicon"`

	MetricsAddress  string        `yaml:"metrics_address" env:"METRICS_ADDRESS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoadFromYaml loads the configuration from a YAML file.
func (c *ProcessorConfig) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return err
	}
	return nil
}

// ApplyEnv overrides fields that carry an env tag with the variables that are set.
func (c *ProcessorConfig) ApplyEnv() error {
	return cleanenv.ReadEnv(c)
}

// Load reads defaults, then the file at path if there is one, then the environment.
func Load(path string) (*ProcessorConfig, error) {
	cfg := NewConfig()
	if path != "" {
		if err := cfg.LoadFromYAML(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ProcessorConfig) Validate() error {
	var errs []error
	if c.Redis.Url == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Queue.SubmitMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.submit_max_attempts must be >= 1, got %d", c.Queue.SubmitMaxAttempts))
	}
	if c.Queue.StoreMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.store_max_attempts must be >= 1, got %d", c.Queue.StoreMaxAttempts))
	}
	if c.Queue.FailedRetention < 1 {
		errs = append(errs, fmt.Errorf("queue.failed_retention must be >= 1, got %d", c.Queue.FailedRetention))
	}
	if c.Queue.DequeueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("queue.dequeue_timeout must be positive"))
	}
	for _, v := range []interface{ Validate() error }{c.DeadLetter, c.Persistence, c.Lexicon} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewConfig returns a new ProcessorConfig with default values.
func NewConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Redis: uredis.RedisClientConfig{
			ServiceName: "lexicon-batch-processor",
			Timeout:     5 * time.Second,
		},
		Queue: QueueConfig{
			Options:           dbredis.DefaultOptions(),
			SubmitMaxAttempts: DefaultSubmitMaxAttempts,
			StoreMaxAttempts:  DefaultStoreMaxAttempts,
			DequeueTimeout:    5 * time.Second,
		},
		Poller:          poller.DefaultConfig(),
		DeadLetter:      deadletter.StoreConfig{Backend: deadletter.BackendNone},
		Postgres:        postgres.DefaultConfig(),
		Persistence:     persistence.DefaultConfig(),
		Lexicon:         lexicon.DefaultConfig(),
		MetricsAddress:  ":9090",
		ShutdownTimeout: 30 * time.Second,
	}
}
