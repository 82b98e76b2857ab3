package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gigmap/extract-cli/internal/pipeline"
)

var (
	batchPostsFile string
	batchRunID     string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run windowed, checkpointed extraction over a post dump",
	Long:  "Processes posts in fixed-size windows with bounded concurrency. Progress is checkpointed per window under --run-id, so an interrupted run resumes where it stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchRunID == "" {
			return eris.New("batch: --run-id is required")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		p, err := buildPipeline(ctx, e)
		if err != nil {
			return err
		}

		posts, err := loadPosts(batchPostsFile)
		if err != nil {
			return err
		}

		driver := pipeline.NewBatchDriver(p, e.Store, cfg.Batch)
		report, err := driver.Run(ctx, batchRunID, posts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchPostsFile, "posts", "-", "path to a JSON array of posts ('-' for stdin)")
	batchCmd.Flags().StringVar(&batchRunID, "run-id", "", "stable identifier for checkpointed resume")
	rootCmd.AddCommand(batchCmd)
}
