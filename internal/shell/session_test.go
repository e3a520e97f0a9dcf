package shell

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"coder-cli/internal/events"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	bash := requireBash(t)
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Shell = bash
	opts.SkipRC = true
	opts.TempDir = t.TempDir()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func requireBash(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("session tests need a POSIX host")
	}
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}
	return bash
}

func TestSessionCapturesOutputAndExitCode(t *testing.T) {
	s := newTestSession(t, Options{})
	res, err := s.Exec(context.Background(), `echo hi; echo oops >&2; (exit 3)`, 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "hi\n" || res.Stderr != "oops\n" || res.Code != 3 || res.Interrupted {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionQuotesCommandText(t *testing.T) {
	s := newTestSession(t, Options{})
	res, err := s.Exec(context.Background(), `echo "it's a \"test\""; printf 'a\nb\n'`, 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "it's a \"test\"\na\nb\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestSessionSetsGitEditor(t *testing.T) {
	s := newTestSession(t, Options{Env: []string{"CODER_TEST_VAR=1"}})
	res, err := s.Exec(context.Background(), `echo "$GIT_EDITOR $CODER_TEST_VAR"`, 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "true 1\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestSessionCdUpdatesPwd(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s := newTestSession(t, Options{Dir: root})
	if s.Pwd() != root {
		t.Fatalf("initial pwd = %q, want %q", s.Pwd(), root)
	}
	if _, err := s.Exec(context.Background(), "cd "+sub, 0); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if s.Pwd() != sub {
		t.Fatalf("pwd = %q, want %q", s.Pwd(), sub)
	}
	res, err := s.Exec(context.Background(), "pwd", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != sub {
		t.Fatalf("shell pwd = %q, want %q", res.Stdout, sub)
	}
}

func TestSessionSetCwd(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s := newTestSession(t, Options{Dir: root})
	if err := s.SetCwd(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if s.Pwd() != root {
		t.Fatalf("pwd changed after failed SetCwd: %q", s.Pwd())
	}
	if err := s.SetCwd(context.Background(), "pkg"); err != nil {
		t.Fatalf("SetCwd: %v", err)
	}
	if want := filepath.Join(root, "pkg"); s.Pwd() != want {
		t.Fatalf("pwd = %q, want %q", s.Pwd(), want)
	}
}

func TestSessionSyntaxErrorLeavesSessionUntouched(t *testing.T) {
	root := t.TempDir()
	s := newTestSession(t, Options{Dir: root})
	res, err := s.Exec(context.Background(), "cd / && echo 'unterminated", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Code != CodeSyntaxError || res.Stdout != "" || res.Stderr == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if s.Pwd() != root {
		t.Fatalf("pwd = %q, want %q", s.Pwd(), root)
	}
	res, err = s.Exec(context.Background(), "echo ok", 0)
	if err != nil || res.Stdout != "ok\n" {
		t.Fatalf("follow-up command: %+v, %v", res, err)
	}
}

func TestSessionTimeoutKillsChildrenAndKeepsShell(t *testing.T) {
	s := newTestSession(t, Options{})
	start := time.Now()
	res, err := s.Exec(context.Background(), "echo partial; sleep 5", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	if res.Code != CodeKilled || !res.Interrupted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Stderr, TimeoutNote) {
		t.Fatalf("stderr missing timeout note: %q", res.Stderr)
	}
	if res.Stdout != "partial\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}

	res, err = s.Exec(context.Background(), "echo after", 0)
	if err != nil {
		t.Fatalf("Exec after timeout: %v", err)
	}
	if res.Stdout != "after\n" || res.Code != 0 || res.Interrupted {
		t.Fatalf("unexpected follow-up result: %+v", res)
	}
}

func TestSessionCancelKillsChildrenAndKeepsShell(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(200*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	res, err := s.Exec(ctx, "sleep 5", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.Interrupted {
		t.Fatalf("expected interrupted result, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("cancel took %s", elapsed)
	}
	if s.State() == StateDead {
		t.Fatalf("shell died on cancel")
	}
	res, err = s.Exec(context.Background(), "echo alive", 0)
	if err != nil || res.Stdout != "alive\n" {
		t.Fatalf("follow-up command: %+v, %v", res, err)
	}
}

func TestSessionCancelledBeforeStart(t *testing.T) {
	s := newTestSession(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Exec(ctx, "echo never", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.Interrupted || res.Stdout != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionSerializesCommands(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, Options{Dir: dir})
	logPath := filepath.Join(dir, "order.log")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Exec(context.Background(), "echo start >> order.log; sleep 0.05; echo end >> order.log", 0)
			if err != nil {
				t.Errorf("Exec: %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Fields(string(data))
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %q", lines)
	}
	for i, line := range lines {
		want := "start"
		if i%2 == 1 {
			want = "end"
		}
		if line != want {
			t.Fatalf("commands overlapped: %q", lines)
		}
	}
}

func waitDead(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.State() != StateDead {
		if time.Now().After(deadline) {
			t.Fatalf("session did not exit, state = %s", s.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionExitReportsCode(t *testing.T) {
	s := newTestSession(t, Options{})
	res, err := s.Exec(context.Background(), "exit 42", 0)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if diff := cmp.Diff(Result{Code: 42}, res); diff != "" {
		t.Fatalf("exit result mismatch (-want +got):\n%s", diff)
	}
	waitDead(t, s)
	if _, err := s.Exec(context.Background(), "echo hi", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after exit, got %v", err)
	}
}

func TestSessionCloseRemovesFiles(t *testing.T) {
	s := newTestSession(t, Options{})
	for _, p := range s.paths.all() {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s to exist: %v", p, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, p := range s.paths.all() {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s to be removed, stat err=%v", p, err)
		}
	}
	if _, err := s.Exec(context.Background(), "echo hi", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSessionPublishesStateChanges(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.SubscribeBuffered(64)
	s := newTestSession(t, Options{Bus: bus})
	if _, err := s.Exec(context.Background(), "true", 0); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	var states []string
	timeout := time.After(2 * time.Second)
	for len(states) < 3 {
		select {
		case evt := <-ch:
			if se, ok := evt.(events.ShellEvent); ok && se.SessionID == s.ID() {
				states = append(states, se.State)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for shell events, got %v", states)
		}
	}
	want := []string{"idle", "executing", "idle"}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestCommandScriptWritesStatusLast(t *testing.T) {
	s := &Session{shell: Shell{Kind: "bash"}, paths: files{status: "/t/s", stdout: "/t/o", stderr: "/t/e", cwd: "/t/c"}}
	script, err := s.commandScript("ls -la", 7)
	if err != nil {
		t.Fatalf("commandScript: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(script), "\n")
	want := []string{
		"CODER_SEQ=7",
		"eval 'ls -la' < /dev/null > /t/o 2> /t/e",
		"EXEC_EXIT_CODE=$?",
		"pwd > /t/c",
		`echo "7 $EXEC_EXIT_CODE" > /t/s`,
	}
	if len(lines) != len(want) {
		t.Fatalf("script = %q", script)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if _, err := s.commandScript("echo \x00", 8); err == nil {
		t.Fatalf("expected NUL byte to be rejected")
	}
}

func TestParsePids(t *testing.T) {
	got := parsePids("12 34\n56\nx -1")
	want := []int{12, 34, 56}
	if len(got) != len(want) {
		t.Fatalf("parsePids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parsePids = %v, want %v", got, want)
		}
	}
}

func writeProfile(t *testing.T, body string) {
	t.Helper()
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, ".bash_profile"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", home)
}

func TestSessionWaitsForSlowLoginProfile(t *testing.T) {
	requireBash(t)
	writeProfile(t, "sleep 1\ncd /\n")
	dir := t.TempDir()

	start := time.Now()
	s := newTestSession(t, Options{Dir: dir})
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("New returned after %s, before the profile finished", elapsed)
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}

	res, err := s.Exec(context.Background(), "echo fast; pwd", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	want := Result{Stdout: "fast\n" + dir + "\n"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("first command mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionStartupFailures(t *testing.T) {
	bash := requireBash(t)
	cases := []struct {
		name    string
		profile string
		spawn   time.Duration
		want    string
	}{
		{name: "exit", profile: "exit 3\n", spawn: 5 * time.Second, want: "exited during startup"},
		{name: "hang", profile: "sleep 5\n", spawn: 200 * time.Millisecond, want: "not ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writeProfile(t, tc.profile)
			tmp := t.TempDir()
			start := time.Now()
			s, err := New(Options{Dir: t.TempDir(), Shell: bash, SkipRC: true, TempDir: tmp, SpawnTimeout: tc.spawn})
			if err == nil {
				_ = s.Close()
				t.Fatalf("expected startup error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Fatalf("startup failure took %s", elapsed)
			}
			entries, _ := os.ReadDir(tmp)
			if len(entries) != 0 {
				t.Fatalf("session files left behind: %v", entries)
			}
		})
	}
}

func TestInitScriptSignalsReadyLast(t *testing.T) {
	s := &Session{shell: Shell{Kind: "bash"}, opts: Options{SkipRC: true}, cwd: "/w", paths: files{status: "/t/s", cwd: "/t/c"}}
	lines := strings.Split(strings.TrimSpace(s.initScript()), "\n")
	want := []string{"cd /w", "pwd > /t/c", "echo ready > /t/s"}
	if diff := cmp.Diff(want, lines[len(lines)-3:]); diff != "" {
		t.Fatalf("init script tail mismatch (-want +got):\n%s", diff)
	}
}
