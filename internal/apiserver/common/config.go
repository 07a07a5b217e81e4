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

// The file defines the api server configuration, filled from defaults, the environment and flags.
package common

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

type ServerConfig struct {
	Host              string        `env:"SERVER_HOST"`
	Port              int           `env:"SERVER_PORT"`
	ReadHeaderTimeout time.Duration `env:"SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT"`
	// MaxBodyBytes caps an uploaded corpus.
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES"`

	WordCapacity      int `env:"WORD_CAPACITY"`
	MaxBatchSize      int `env:"MAX_BATCH_SIZE"`
	SubmitMaxAttempts int `env:"SUBMIT_MAX_ATTEMPTS"`
	Languages         persistence.LanguagePair

	Redis      uredis.RedisClientConfig
	Provider   batchclient.HTTPClientConfig
	Writer     jobpackage.WriterConfig
	DeadLetter deadletter.StoreConfig
	Lexicon    lexicon.Config
}

func NewConfig() *ServerConfig {
	return &ServerConfig{
		Port:              8000,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxBodyBytes:      64 << 20,
		WordCapacity:      corpus.DefaultWordCapacity,
		MaxBatchSize:      corpus.DefaultMaxBatchSize,
		SubmitMaxAttempts: 1,
		Languages:         persistence.DefaultLanguagePair(),
		Redis: uredis.RedisClientConfig{
			ServiceName: "lexicon-batch-apiserver",
			Timeout:     5 * time.Second,
		},
		DeadLetter: deadletter.StoreConfig{Backend: deadletter.BackendNone},
		Lexicon:    lexicon.DefaultConfig(),
	}
}

// ApplyEnv overrides fields that carry an env tag with the variables that are set.
// Call it before AddFlags so flags win over the environment.
func (c *ServerConfig) ApplyEnv() error {
	return cleanenv.ReadEnv(c)
}

func (c *ServerConfig) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Address to listen on")
	fs.IntVar(&c.Port, "port", c.Port, "Port to listen on")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Time allowed for in-flight requests on shutdown")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", c.MaxBodyBytes, "Largest accepted corpus upload")
	fs.IntVar(&c.WordCapacity, "word-capacity", c.WordCapacity, "Default number of words per prompt")
	fs.IntVar(&c.MaxBatchSize, "max-batch-size", c.MaxBatchSize, "Default number of prompts per batch")
	fs.StringVar(&c.Languages.Source, "source-language", c.Languages.Source, "Language of the corpus words")
	fs.StringVar(&c.Languages.Target, "target-language", c.Languages.Target, "Language of the translations")
	fs.StringVar(&c.Redis.Url, "redis-url", c.Redis.Url, "Redis URL of the work queues")
	fs.StringVar(&c.Provider.BaseURL, "provider-base-url", c.Provider.BaseURL, "Base URL of the batch provider")
	fs.StringVar(&c.Writer.TempDir, "package-dir", c.Writer.TempDir, "Directory for job packages before upload")
	fs.StringVar(&c.DeadLetter.Backend, "dead-letter-backend", c.DeadLetter.Backend, "Dead letter store: none, fs or s3")
	fs.StringVar(&c.DeadLetter.FSPath, "dead-letter-path", c.DeadLetter.FSPath, "Directory of the fs dead letter store")
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider base url is required"))
	}
	if c.Redis.Url == "" {
		errs = append(errs, errors.New("redis url is required"))
	}
	if c.WordCapacity < 1 || c.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("word capacity and max batch size must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max body bytes must be positive"))
	}
	if c.Languages.Source == "" || c.Languages.Target == "" {
		errs = append(errs, errors.New("source and target language are required"))
	}
	if err := c.DeadLetter.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Lexicon.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
