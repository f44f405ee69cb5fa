package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hiepyeuh/nevron/internal/config"
	"github.com/hiepyeuh/nevron/internal/memory"
)

// #region memory-cmd

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query the agent memory",
	}
	cmd.AddCommand(memorySearchCmd())
	return cmd
}

func memorySearchCmd() *cobra.Command {
	var topK int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Search remembered events; no query lists the most recent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return withCode(exitConfig, err)
			}
			mem, err := memory.Open(cfg.MemoryConfig(), discardLogger())
			if err != nil {
				return err
			}
			defer mem.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			records, err := mem.Search(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), records)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSTATE\tACTION\tSCORE\tOUTCOME")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n",
					r.CreatedAt.Format("2006-01-02T15:04:05Z"), r.Event, r.Action, r.Score, r.Outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", memory.DefaultTopK, "number of records to return")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// discardLogger keeps store chatter out of CLI output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// #endregion memory-cmd
