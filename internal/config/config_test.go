package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CODER_BASE_URL", "CODER_MODEL", "CODER_SHELL", "CODER_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFile_UsesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Source = path
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Load mismatch (-want +got):\n%s", diff)
	}
	if d, err := cfg.ShellTimeoutDuration(); err != nil || d != DefaultShellTimeout {
		t.Fatalf("ShellTimeoutDuration = %v, %v", d, err)
	}
}

func TestLoad_FromTOMLWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODER_SHELL", "/bin/zsh")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
provider = "openai"
url = "https://example.test/v1"
model = "gpt-test"
shell_timeout = "2m"
max_tool_concurrency = 4
permission_mode = "bypass"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != ProviderOpenAI || cfg.Model != "gpt-test" || cfg.MaxToolConcurrency != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Shell != "/bin/zsh" || cfg.Token != "sk-env" || !cfg.Bypass() {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if d, _ := cfg.ShellTimeoutDuration(); d != 2*time.Minute {
		t.Fatalf("ShellTimeoutDuration = %v", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_CoderAPIKeyWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODER_API_KEY", "coder")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "coder" {
		t.Fatalf("Token = %q, want coder", cfg.Token)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad provider", mutate: func(c *Config) { c.Provider = "bard" }, wantErr: "provider"},
		{name: "bad mode", mutate: func(c *Config) { c.PermissionMode = "yolo" }, wantErr: "permission_mode"},
		{name: "negative concurrency", mutate: func(c *Config) { c.MaxToolConcurrency = -1 }, wantErr: "max_tool_concurrency"},
		{name: "bad timeout", mutate: func(c *Config) { c.ShellTimeout = "soon" }, wantErr: "shell_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestApplyKVOverrides(t *testing.T) {
	got := ApplyKVOverrides(Default(), []string{
		"model=override-model",
		"max_tool_concurrency=3",
		"context_window=50000",
		"shell_timeout = 5m",
		"garbage",
		"max_thinking_tokens=abc",
	})
	if got.Model != "override-model" || got.MaxToolConcurrency != 3 || got.ContextWindow != 50000 || got.ShellTimeout != "5m" {
		t.Fatalf("unexpected overrides: %+v", got)
	}
	if got.MaxThinkingTokens != 0 {
		t.Fatalf("invalid int should be ignored, got %d", got.MaxThinkingTokens)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Token = "secret"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Token != "secret" {
		t.Fatalf("Token = %q", loaded.Token)
	}
}

func TestProjectAllowAndPersist(t *testing.T) {
	dir := t.TempDir()
	p, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if !p.Allow("Bash(git diff:*)") || p.Allow("Bash(git diff:*)") || p.Allow("") {
		t.Fatalf("Allow dedupe failed: %v", p.AllowedTools)
	}
	p.Allow("Write")
	if err := SaveProject(dir, p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	loaded, err := LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if diff := cmp.Diff([]string{"Bash(git diff:*)", "Write"}, loaded.AllowedTools); diff != "" {
		t.Fatalf("AllowedTools mismatch (-want +got):\n%s", diff)
	}
}
