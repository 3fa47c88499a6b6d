package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	inputPath  string
	outputDir  string
}

// setupCLITestEnv isolates HOME and the judge key variables and writes a
// config that runs the judge-free filter stages only.
func setupCLITestEnv(t *testing.T, extra string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, name := range []string{"CURATOR_JUDGE_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "curator.toml"),
		inputPath:  filepath.Join(base, "input.jsonl"),
		outputDir:  filepath.Join(base, "output"),
	}
	content := fmt.Sprintf(`[paths]
input = %q
output_dir = %q
log_dir = %q

[pipeline]
workers = 2
grace_period_seconds = 1
stages = ["required-fields", "min-length"]
mandatory_stages = []

[checkpoint]
flush_every = 1

[logging]
level = "error"
%s`, env.inputPath, env.outputDir, filepath.Join(base, "logs"), extra)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
