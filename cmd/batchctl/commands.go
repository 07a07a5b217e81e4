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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/database/postgres"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
)

func newSplitCmd() *cobra.Command {
	var (
		format       string
		wordCapacity int
		maxBatchSize int
		idOffset     int
		outDir       string
	)
	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Split a corpus into batches without submitting it",
		Long: `Split reads a word list or subtitle file and prints how it would be batched.
With --out every batch is also written as a JSONL job package into that directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read corpus: %w", err)
			}
			batches, err := corpus.Split(buf, format, wordCapacity, maxBatchSize)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "batches: %d\ngroups: %d\nwords: %d\n",
				len(batches), corpus.CountGroups(batches), corpus.CountWords(batches))
			if outDir == "" {
				return nil
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			builder := jobpackage.NewBuilder(jobpackage.DefaultPromptConfig())
			writer := jobpackage.NewWriter(jobpackage.WriterConfig{TempDir: outDir}, nil)
			for i, offset := range orchestrator.Offsets(batches, idOffset) {
				units, err := builder.Build(ctx, batches[i], float64(offset))
				if err != nil {
					return err
				}
				pkg, err := writer.Write(ctx, units)
				if err != nil {
					return fmt.Errorf("batch %d: %w", i, err)
				}
				fmt.Fprintf(out, "%s\t%d units\t%d bytes\n", pkg.Path, pkg.Units, pkg.Bytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", corpus.FormatLines, "Corpus format: lines or srt")
	cmd.Flags().IntVar(&wordCapacity, "word-capacity", corpus.DefaultWordCapacity, "Words per prompt")
	cmd.Flags().IntVar(&maxBatchSize, "max-batch-size", corpus.DefaultMaxBatchSize, "Prompts per batch")
	cmd.Flags().IntVar(&idOffset, "id-offset", 1, "First unit id")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write job packages to")
	return cmd
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch_id>",
		Short: "Show the status of a provider batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.client()
			if err != nil {
				return err
			}
			batch, err := client.GetStatus(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), batch)
		},
	}
}

func newCancelCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch_id>",
		Short: "Cancel a provider batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.client()
			if err != nil {
				return err
			}
			batch, err := client.Cancel(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", batch.ID, batch.Status)
			return nil
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all provider batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := o.client()
			if err != nil {
				return err
			}
			batches, err := batchclient.ListAll(commandContext(cmd), client, limit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No batches.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tCOMPLETED\tFAILED\tTOTAL")
			for _, b := range batches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					b.ID, b.Status, formatUnix(b.CreatedAt),
					b.RequestCounts.Completed, b.RequestCounts.Failed, b.RequestCounts.Total)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Page size used while listing")
	return cmd
}

type resultsOutput struct {
	BatchID string                   `json:"batch_id"`
	Entries []lexicon.ProcessedEntry `json:"entries"`
	Errors  []extractor.ErrorInfo    `json:"errors"`
}

func newResultsCmd(o *options) *cobra.Command {
	var deadLetterDir string
	cmd := &cobra.Command{
		Use:   "results <batch_id>",
		Short: "Extract and cluster the results of a finished batch",
		Long: `Results downloads the output and error files of a batch, extracts the translation
entries and prints them with their similar words as JSON. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			batchID := args[0]

			client, err := o.client()
			if err != nil {
				return err
			}
			dl := deadletter.StoreConfig{Backend: deadletter.BackendNone}
			if deadLetterDir != "" {
				dl = deadletter.StoreConfig{Backend: deadletter.BackendFS, FSPath: deadLetterDir}
			}
			sink, store, err := deadletter.NewSink(ctx, dl)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}

			output, errs, err := client.FetchResults(ctx, batchID)
			if err != nil {
				return err
			}
			result, err := extractor.New(sink).Extract(ctx, batchID, output, errs)
			if err != nil {
				return err
			}
			res := resultsOutput{
				BatchID: batchID,
				Entries: engine.Process(ctx, result.Entries),
				Errors:  result.Errors,
			}
			if res.Errors == nil {
				res.Errors = []extractor.ErrorInfo{}
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&deadLetterDir, "dead-letter-dir", "", "Keep undecodable lines in this directory")
	return cmd
}

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the lexicon database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg := postgres.DefaultConfig()
			cfg.DSN = o.dsn
			pool, err := postgres.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d\n", v)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04")
}
