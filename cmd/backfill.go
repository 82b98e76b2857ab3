package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gigmap/extract-cli/internal/groundtruth"
)

var (
	backfillPostsFile string
	backfillLimit     int
)

// filePostCaptions adapts a loaded post dump to caption lookup.
type filePostCaptions map[string]string

func (f filePostCaptions) Caption(_ context.Context, postID string) (string, error) {
	caption, ok := f[postID]
	if !ok {
		return "", eris.Errorf("post %s not in input", postID)
	}
	return caption, nil
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Repair ground-truth rows missing their source snippet",
	Long:  "Retries snippet location for ground-truth records stored without an original text, using captions from the given post dump. Populated snippets are never rewritten.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		posts, err := loadPosts(backfillPostsFile)
		if err != nil {
			return err
		}
		captions := make(filePostCaptions, len(posts))
		for _, p := range posts {
			captions[p.ID] = p.Caption
		}

		rec := groundtruth.NewRecorder(e.Store, cfg.Extraction.ReviewThreshold)
		repaired, err := rec.Backfill(ctx, captions, backfillLimit)
		if err != nil {
			return err
		}
		fmt.Printf("repaired %d ground-truth records\n", repaired)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPostsFile, "posts", "-", "path to a JSON array of posts ('-' for stdin)")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 500, "maximum records to repair in one pass")
	rootCmd.AddCommand(backfillCmd)
}
