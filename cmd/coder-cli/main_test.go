package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"coder-cli/internal/agent"
	"coder-cli/internal/permission"
	"coder-cli/internal/session"
	"coder-cli/internal/shell"

	"github.com/google/go-cmp/cmp"
)

// execute runs the root command against an isolated HOME.
func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--log-files=false"}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("coder-cli %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func isolate(t *testing.T) (home, workdir string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CODER_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	return home, t.TempDir()
}

func TestRunOneShotSavesSession(t *testing.T) {
	home, workdir := isolate(t)

	out := execute(t, "", "run", "--workdir", workdir, "-c", "provider=echo", "hello", "world")
	if !strings.Contains(out, "hello world\n") {
		t.Fatalf("expected echoed reply, got:\n%s", out)
	}
	if !strings.Contains(out, "coder-cli run --resume=") {
		t.Fatalf("expected resume hint, got:\n%s", out)
	}

	store := &session.Store{Dir: filepath.Join(home, ".coder", "sessions")}
	rec, err := store.Last()
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if rec.Workdir != workdir || len(rec.Messages) != 2 {
		t.Fatalf("unexpected saved session: workdir=%s messages=%d", rec.Workdir, len(rec.Messages))
	}

	out = execute(t, "", "run", "--workdir", workdir, "-c", "provider=echo", "--resume", "again")
	if !strings.Contains(out, "Resumed session "+rec.ID+" (2 messages)") {
		t.Fatalf("expected resume banner, got:\n%s", out)
	}
	rec, err = store.Load(rec.ID)
	if err != nil || len(rec.Messages) != 4 {
		t.Fatalf("expected resumed transcript to grow to 4 messages, got %d (%v)", len(rec.Messages), err)
	}

	data, err := os.ReadFile(filepath.Join(home, ".coder", "history.jsonl"))
	if err != nil || strings.Count(string(data), "\n") != 2 {
		t.Fatalf("expected two history entries, got %q (%v)", data, err)
	}
}

func TestRunInteractive(t *testing.T) {
	_, workdir := isolate(t)
	out := execute(t, "first\n\nsecond\n/exit\nignored\n", "run", "--workdir", workdir, "-c", "provider=echo")
	for _, want := range []string{"first\n", "second\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "ignored") {
		t.Fatalf("input after /exit was processed:\n%s", out)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	_, workdir := isolate(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--log-files=false", "run", "--workdir", workdir, "-c", "provider=nope", "hi"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "provider") {
		t.Fatalf("expected provider validation error, got %v", err)
	}
}

func TestConfigShowRedactsToken(t *testing.T) {
	_, workdir := isolate(t)
	out := execute(t, "", "config", "show", "--workdir", workdir, "-c", "token=sk-abcdefghijkl", "-c", "model=m1")
	if strings.Contains(out, "sk-abcdefghijkl") {
		t.Fatalf("token leaked:\n%s", out)
	}
	for _, want := range []string{"********ijkl", "model = 'm1'", "settings.toml"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestSessionsCommand(t *testing.T) {
	_, workdir := isolate(t)
	if out := execute(t, "", "sessions", "--workdir", workdir); !strings.Contains(out, "No sessions found") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	execute(t, "", "run", "--workdir", workdir, "-c", "provider=echo", "summarize the repo")
	if out := execute(t, "", "sessions", "--workdir", workdir); !strings.Contains(out, "summarize the repo") {
		t.Fatalf("expected session title, got:\n%s", out)
	}
}

func TestApplyAnswer(t *testing.T) {
	cases := []struct {
		answer string
		rule   string
		ok     bool
		want   permission.Decision
	}{
		{answer: "y", ok: true, want: permission.Decision{Outcome: permission.OutcomeAllowed, Scope: permission.ScopeOnce}},
		{answer: " A ", rule: "Bash(ls:*)", ok: true, want: permission.Decision{Outcome: permission.OutcomeAllowed, Scope: permission.ScopeSession}},
		{answer: "p", rule: "Bash(ls:*)", ok: true, want: permission.Decision{Outcome: permission.OutcomeAllowed, Scope: permission.ScopePermanent}},
		{answer: "a", ok: false},
		{answer: "n", ok: true, want: permission.Decision{Outcome: permission.OutcomeRejected}},
		{answer: "x", ok: true, want: permission.Decision{Outcome: permission.OutcomeAborted}},
		{answer: "maybe", ok: false},
	}
	for _, tc := range cases {
		req := permission.NewRequest("Bash", "ls", nil)
		req.Rule = tc.rule
		if got := applyAnswer(req, tc.answer); got != tc.ok {
			t.Fatalf("applyAnswer(%q) = %v, want %v", tc.answer, got, tc.ok)
		}
		if !tc.ok {
			continue
		}
		if diff := cmp.Diff(tc.want, req.Decision()); diff != "" {
			t.Fatalf("applyAnswer(%q) decision mismatch (-want +got):\n%s", tc.answer, diff)
		}
	}
}

func TestConfirmerRetriesUntilValidAnswer(t *testing.T) {
	var out bytes.Buffer
	c := &confirmer{in: newLineReader(strings.NewReader("what\np\n")), out: &out}
	req := permission.NewRequest("Bash", "npm run build", nil)
	req.Rule = "Bash(npm run:*)"

	c.confirm(context.Background(), req)

	want := permission.Decision{Outcome: permission.OutcomeAllowed, Scope: permission.ScopePermanent}
	if diff := cmp.Diff(want, req.Decision()); diff != "" {
		t.Fatalf("decision mismatch (-want +got):\n%s", diff)
	}
	text := out.String()
	if !strings.Contains(text, "Allow Bash: npm run build") || !strings.Contains(text, "listed keys") {
		t.Fatalf("unexpected prompt output:\n%s", text)
	}
}

func TestConfirmerAbortsOnEOF(t *testing.T) {
	c := &confirmer{in: newLineReader(strings.NewReader("")), out: &bytes.Buffer{}}
	req := permission.NewRequest("Write", "a.txt", nil)
	c.confirm(context.Background(), req)
	if got := req.Decision().Outcome; got != permission.OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", got)
	}
}

func TestRendererFitsWidth(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, 24)

	r.Render(agent.NewAssistantMessage(
		agent.TextBlock("done"),
		agent.ToolUseBlock("t1", "Grep", []byte(`{ "pattern": "a very long pattern indeed" }`)),
	))
	r.Render(agent.NewToolResultMessage("t1", "Found 3 files\na.go\nb.go\nc.go", false, nil))
	r.Render(agent.NewToolResultMessage("t2", "文件不存在，无法读取内容", true, nil))
	r.Render(agent.NewAssistantErrorMessage("API Error: boom"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	want := []string{
		"done",
		`● Grep({"pattern":"a ve…`,
		"  ⎿ Found 3 … (+3 lines)",
		"  ⎿ Error: 文件不存在，…",
		"! API Error: boom",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("render mismatch (-want +got):\n%s", diff)
	}
}

func TestShellLoop(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	s, err := shell.New(shell.Options{Dir: dir, Shell: bash, SkipRC: true, TempDir: t.TempDir(), Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("shell.New: %v", err)
	}
	defer s.Close()

	var out bytes.Buffer
	in := newLineReader(strings.NewReader("echo hi\n\nfalse\necho oops >&2\n"))
	if err := shellLoop(context.Background(), s, in, &out); err != nil {
		t.Fatalf("shellLoop: %v", err)
	}
	text := out.String()
	for _, want := range []string{"hi\n", "[exit 1]\n", "oops\n", dir + " $ "} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestResolveWorkdir(t *testing.T) {
	dir := t.TempDir()
	got, err := (&rootOptions{workdir: dir}).resolveWorkdir()
	if err != nil || got != dir {
		t.Fatalf("resolveWorkdir(%s) = %s, %v", dir, got, err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&rootOptions{workdir: file}).resolveWorkdir(); err == nil {
		t.Fatalf("expected error for a file workdir")
	}
	wd, _ := os.Getwd()
	if got, err := (&rootOptions{}).resolveWorkdir(); err != nil || got != wd {
		t.Fatalf("default workdir = %s, %v; want %s", got, err, wd)
	}
}
