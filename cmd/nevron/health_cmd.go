package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/hiepyeuh/nevron/internal/health"
)

// #region health-cmd

func healthCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the health endpoint of a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			resp, err := health.Probe(ctx, addr)
			if err != nil {
				return err
			}
			if jsonOut {
				data, err := protojson.Marshal(resp)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			}
			if status := resp.GetStatus().String(); status != "SERVING" {
				return fmt.Errorf("loop is %s", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:7777", "health server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw response as JSON")
	return cmd
}

// #endregion health-cmd
