package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hiepyeuh/nevron/internal/agent"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"plain error is fatal", errors.New("boom"), exitFatal},
		{"explicit code wins", withCode(exitConfig, errors.New("bad flag")), exitConfig},
		{"config error maps to 2", fmt.Errorf("load: %w", &agent.ConfigError{Field: "planning.alpha", Err: errors.New("out of range")}), exitConfig},
		{"wrapped fatal", withCode(exitFatal, &agent.ConfigError{Field: "x", Err: errors.New("y")}), exitFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWithCodeNil(t *testing.T) {
	if err := withCode(exitFatal, nil); err != nil {
		t.Errorf("withCode(nil) = %v, want nil", err)
	}
}

func TestRootCommandsRegistered(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"run", "policy", "memory", "config", "health"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nevron.yaml")

	root := rootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"config", "init", "-o", out, "--env-file", filepath.Join(t.TempDir(), "none.env")})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read written config: %v", err)
	}
	if !strings.Contains(string(data), "q_table_path") {
		t.Errorf("written config missing planning section:\n%s", data)
	}

	root = rootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"config", "init", "-o", out})
	if err := root.Execute(); err == nil {
		t.Error("second init without --force should fail")
	}
}
