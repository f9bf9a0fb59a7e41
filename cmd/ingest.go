package main

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/studiumlabs/studium/config"
	"github.com/studiumlabs/studium/internal/chunker"
	"github.com/studiumlabs/studium/internal/ingest"
	"github.com/studiumlabs/studium/internal/store"
	"github.com/studiumlabs/studium/provider"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var force bool

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Ingest the configured course corpus into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN(), cfg.LLM.EmbeddingDimensions)
			if err != nil {
				return err
			}
			llm, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
			if err != nil {
				return err
			}

			pipeline := ingest.New(st, llm, ch, cfg.Ingestion)
			var bar *progressbar.ProgressBar
			pipeline.Progress = func(done, total int) {
				if bar == nil {
					bar = progressbar.Default(int64(total), "ingesting")
				}
				_ = bar.Set(done)
			}

			summary, err := pipeline.Run(ctx, force)
			if err != nil {
				return err
			}
			if summary.SkippedByMarker {
				fmt.Println("corpus already indexed; use --force to re-ingest")
				return nil
			}
			fmt.Printf("run %s: processed=%d skipped=%d chunks=%d marker=%v\n",
				summary.RunID, summary.DocumentsProcessed, summary.DocumentsSkipped, summary.ChunksStored, summary.MarkerWritten)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the completion marker and re-scan the corpus")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
