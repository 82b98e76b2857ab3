package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runPostsFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract events from posts, one at a time",
	Long:  "Reads a JSON array of posts and runs the full extraction pipeline on each, printing the merged event records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		p, err := buildPipeline(ctx, e)
		if err != nil {
			return err
		}

		posts, err := loadPosts(runPostsFile)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			return eris.New("run: no posts in input")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		failed := 0
		for _, post := range posts {
			ev, err := p.ProcessPost(ctx, post)
			if err != nil {
				zap.L().Error("post failed", zap.String("post_id", post.ID), zap.Error(err))
				failed++
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return eris.Wrap(err, "run: encode event")
			}
		}
		if failed > 0 {
			zap.L().Warn("run finished with failures", zap.Int("failed", failed))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPostsFile, "posts", "-", "path to a JSON array of posts ('-' for stdin)")
	rootCmd.AddCommand(runCmd)
}
