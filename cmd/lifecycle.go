package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gigmap/extract-cli/internal/learn"
)

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Recompute pattern confidence and retire chronic failers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := learn.NewLifecycleManager(e.Store, cfg.Learning).Run(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(lifecycleCmd)
}
