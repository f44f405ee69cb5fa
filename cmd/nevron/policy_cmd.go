package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/config"
	"github.com/hiepyeuh/nevron/internal/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the persisted Q-table",
	}
	cmd.AddCommand(policyShowCmd())
	cmd.AddCommand(policyVersionsCmd())
	cmd.AddCommand(policyRollbackCmd())
	return cmd
}

// #region show

func policyShowCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active Q-table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return withCode(exitConfig, err)
			}
			store, closeStore, err := openPolicyStore(*cfg, discardLogger())
			if err != nil {
				return err
			}
			defer closeStore()

			table, err := store.Load(cfg.Actions())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), namedTable(cfg.Actions(), table))
			}
			return printTable(cmd.OutOrStdout(), cfg.Actions(), table)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func namedTable(actions []agent.Action, table policy.QTable) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(table))
	for state, row := range table {
		entry := make(map[string]float64, len(actions))
		for i, a := range actions {
			entry[string(a)] = row[i]
		}
		out[state] = entry
	}
	return out
}

func printTable(w io.Writer, actions []agent.Action, table policy.QTable) error {
	if len(table) == 0 {
		fmt.Fprintln(w, "no learned values yet")
		return nil
	}
	states := make([]string, 0, len(table))
	for s := range table {
		states = append(states, s)
	}
	sort.Strings(states)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "STATE")
	for _, a := range actions {
		fmt.Fprintf(tw, "\t%s", a)
	}
	fmt.Fprintln(tw)
	for _, s := range states {
		fmt.Fprint(tw, s)
		for _, v := range table[s] {
			fmt.Fprintf(tw, "\t%.4f", v)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

// #endregion show

// #region versions

func openSQLiteStore() (*config.Config, *policy.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, withCode(exitConfig, err)
	}
	if cfg.Planning.Store != "sqlite" {
		return nil, nil, withCode(exitConfig, fmt.Errorf("policy versions need planning.store=sqlite, got %q", cfg.Planning.Store))
	}
	s, err := policy.NewSQLiteStore(cfg.Planning.DBPath, discardLogger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func policyVersionsCmd() *cobra.Command {
	var last int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List saved policy versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openSQLiteStore()
			if err != nil {
				return err
			}
			defer store.Close()

			versions, err := store.ListVersions(last)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), versions)
			}
			if len(versions) == 0 {
				fmt.Fprintln(os.Stderr, "no versions found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tPARENT\tSTATES\tCREATED\tACTIVE")
			for _, v := range versions {
				active := ""
				if v.Active {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					shortID(v.VersionID), shortID(v.ParentID), v.StateCount,
					v.CreatedAt.Format("2006-01-02T15:04:05Z"), active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent versions")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func policyRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [versionId]",
		Short: "Make a previous policy version active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openSQLiteStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Rollback(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active policy is now %s\n", args[0])
			return nil
		},
	}
}

// #endregion versions

// #region output

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

// #endregion output
