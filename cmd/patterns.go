package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the extraction pattern library",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		patterns, err := e.Store.ListPatterns(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSOURCE\tCONF\tOK\tFAIL\tACTIVE\tREGEX")
		for _, p := range patterns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%v\t%s\n",
				p.ID, p.PatternType, p.Source, p.ConfidenceScore,
				p.SuccessCount, p.FailureCount, p.IsActive, p.Regex)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}
