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

package main

import (
	"context"
	goflag "flag"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
)

var version = "0.1.0"

// envDefaults seeds the persistent flags.
type envDefaults struct {
	BaseURL string `env:"PROVIDER_BASE_URL"`
	APIKey  string `env:"PROVIDER_API_KEY"`
	DSN     string `env:"POSTGRES_DSN"`
	Redis   string `env:"REDIS_URL"`
}

type options struct {
	provider batchclient.HTTPClientConfig
	dsn      string
	redisURL string

	// newClient is replaced in tests.
	newClient func(cfg batchclient.HTTPClientConfig) (batchclient.Client, error)
}

func newOptions() *options {
	return &options{
		newClient: func(cfg batchclient.HTTPClientConfig) (batchclient.Client, error) {
			return batchclient.NewHTTPClient(cfg)
		},
	}
}

func (o *options) client() (batchclient.Client, error) {
	return o.newClient(o.provider)
}

func newRootCmd(o *options) *cobra.Command {
	var env envDefaults
	if err := cleanenv.ReadEnv(&env); err != nil {
		klog.ErrorS(err, "Ignoring unreadable environment")
	}

	root := &cobra.Command{
		Use:   "batchctl",
		Short: "Operate lexicon translation batches",
		Long: `batchctl splits corpora, inspects and cancels provider batches,
extracts their results, shows dead letters and failed queue messages
and migrates the lexicon database.

Provider settings default to PROVIDER_BASE_URL and PROVIDER_API_KEY,
the database to POSTGRES_DSN and the queues to REDIS_URL.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.provider.BaseURL, "base-url", env.BaseURL, "Base URL of the batch provider")
	flags.StringVar(&o.provider.APIKey, "api-key", env.APIKey, "API key of the batch provider")
	flags.DurationVar(&o.provider.Timeout, "timeout", 0, "Provider request timeout (default 5m)")
	flags.StringVar(&o.dsn, "dsn", env.DSN, "PostgreSQL DSN for migrate")
	flags.StringVar(&o.redisURL, "redis-url", env.Redis, "Redis URL of the work queues")

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	flags.AddGoFlagSet(klogFlags)

	root.AddCommand(
		newSplitCmd(),
		newStatusCmd(o),
		newCancelCmd(o),
		newListCmd(o),
		newResultsCmd(o),
		newMigrateCmd(o),
		newDeadLettersCmd(),
		newFailedCmd(o),
	)
	return root
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newEngine() (*lexicon.Engine, error) {
	return lexicon.NewEngine(lexicon.DefaultConfig())
}
