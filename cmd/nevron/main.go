package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region main

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// #endregion main

// #region root

var (
	configPath string
	envFile    string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nevron",
		Short:         "Autonomous agent driven by an epsilon-greedy Q-learning policy",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is fine; real environment variables win
			_ = godotenv.Load(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("NEVRON_CONFIG"), "path to YAML config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(policyCmd())
	cmd.AddCommand(memoryCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(healthCmd())
	return cmd
}

// #endregion root

// #region exit-codes

const (
	exitFatal  = 1
	exitConfig = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ce *agent.ConfigError
	if errors.As(err, &ce) {
		return exitConfig
	}
	return exitFatal
}

// #endregion exit-codes
