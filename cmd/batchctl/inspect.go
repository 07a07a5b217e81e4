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
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/spf13/cobra"

	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

const previewRunes = 72

// queueAliases lets operators name the work queues by their short names.
var queueAliases = map[string]string{
	"submit": orchestrator.QueueSubmit,
	"store":  orchestrator.QueueStore,
}

func newDeadLettersCmd() *cobra.Command {
	var (
		dir    string
		prefix string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "deadletters <batch_id>",
		Short: "List the undecodable result lines kept for a batch",
		Long: `Deadletters reads the dead letter store and prints every line of the batch that
could not be decoded. The store defaults to DEADLETTER_BACKEND and its settings,
--dir selects a filesystem store instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			var cfg deadletter.StoreConfig
			if err := cleanenv.ReadEnv(&cfg); err != nil {
				return fmt.Errorf("failed to read dead letter settings: %w", err)
			}
			if dir != "" {
				cfg.Backend, cfg.FSPath = deadletter.BackendFS, dir
			}
			if prefix != "" {
				cfg.Prefix = prefix
			}
			if cfg.Backend == "" || cfg.Backend == deadletter.BackendNone {
				return fmt.Errorf("no dead letter store configured, set --dir or DEADLETTER_BACKEND")
			}

			sink, store, err := deadletter.NewSink(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			letters, err := sink.(*deadletter.StoreSink).List(ctx, args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), letters)
			}
			if len(letters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REASON\tKEY\tLINE")
			for _, l := range letters {
				fmt.Fprintf(w, "%s\t%s\t%s\n", l.Reason, l.Key, preview(l.Line))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Filesystem dead letter store")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix inside the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full letters as JSON")
	return cmd
}

func newFailedCmd(o *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "failed <queue>",
		Short: "Show the depth and the retained failed messages of a work queue",
		Long: `Failed prints how many messages wait in a work queue and the messages that
exhausted their attempts. The queue is submit, store or a full queue name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			queue := args[0]
			if name, ok := queueAliases[queue]; ok {
				queue = name
			}
			if o.redisURL == "" {
				return fmt.Errorf("redis url is required, set --redis-url or REDIS_URL")
			}

			client, err := dbredis.NewDSClientRedis(ctx, &uredis.RedisClientConfig{
				Url:         o.redisURL,
				ServiceName: "batchctl",
				Timeout:     5 * time.Second,
			}, dbredis.DefaultOptions())
			if err != nil {
				return err
			}
			defer client.Close()

			var queues db.WorkQueueClient = client
			pending, err := queues.Len(ctx, queue)
			if err != nil {
				return err
			}
			failed, err := queues.Failed(ctx, queue)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), failedOutput{Queue: queue, Pending: pending, Failed: failed})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue: %s\npending: %d\nfailed: %d\n", queue, pending, len(failed))
			if len(failed) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tATTEMPTS\tENQUEUED\tLAST ERROR")
			for _, m := range failed {
				fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\n",
					m.ID, m.Attempt+1, m.MaxAttempts, formatTime(m.EnqueuedAt), preview(m.LastError))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full messages, payloads included, as JSON")
	return cmd
}

type failedOutput struct {
	Queue   string             `json:"queue"`
	Pending int64              `json:"pending"`
	Failed  []*db.QueueMessage `json:"failed"`
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes]) + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
