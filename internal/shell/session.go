package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"coder-cli/internal/events"
	"coder-cli/internal/logger"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"
)

var log = logger.Named("shell")

const (
	DefaultTimeout = 30 * time.Minute

	// CodeKilled 是超时或取消且没有拿到真实退出码时的哨兵值（128+SIGTERM）。
	CodeKilled = 143
	// CodeSyntaxError 是语法预检失败时的退出码。
	CodeSyntaxError = 128

	TimeoutNote = "Command execution timed out"

	defaultPollInterval = 10 * time.Millisecond
	defaultSpawnTimeout = 30 * time.Second
	readyMarker         = "ready"
	syntaxCheckTimeout  = time.Second
	cancelGrace         = 2 * time.Second
	closeGrace          = 500 * time.Millisecond
	queueSize           = 64
)

// ErrClosed 表示会话进程已退出或已被关闭。
var ErrClosed = errors.New("shell session closed")

type State string

const (
	StateSpawning  State = "spawning"
	StateIdle      State = "idle"
	StateExecuting State = "executing"
	StateDead      State = "dead"
)

type Options struct {
	Dir     string
	Shell   string
	Timeout time.Duration
	TempDir string
	Env     []string
	SkipRC  bool
	Bus     *events.Bus

	// SpawnTimeout 限制登录 shell 读取 profile 并写出就绪标记的时间。
	SpawnTimeout time.Duration
	PollInterval time.Duration
}

// Result 是一条命令的结算结果。
type Result struct {
	Stdout      string
	Stderr      string
	Code        int
	Interrupted bool
}

type files struct {
	status string
	stdout string
	stderr string
	cwd    string
}

func (f files) all() []string { return []string{f.status, f.stdout, f.stderr, f.cwd} }

type job struct {
	ctx     context.Context
	text    string
	timeout time.Duration
	reply   chan jobReply
}

type jobReply struct {
	res Result
	err error
}

// Session 持有一个长驻 shell 子进程。父进程只通过 stdin 与四个辅助文件和它通信：
// 命令经 FIFO 队列逐条写入，退出码最后写入 status 文件，status 非空即表示完成。
type Session struct {
	id    string
	shell Shell
	opts  Options
	cmd   *exec.Cmd
	stdin io.WriteCloser
	paths files

	mu    sync.Mutex
	state State
	cwd   string
	seq   int64

	queue      chan *job
	exited     chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// New spawns a shell in opts.Dir. Failing to find a shell returns an error
// wrapping ErrNoShell.
func New(opts Options) (*Session, error) {
	sh, err := Resolve(ResolveOptions{Shell: opts.Shell})
	if err != nil {
		return nil, err
	}
	dir, err := absDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = defaultSpawnTimeout
	}
	tmp := opts.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}

	s := &Session{
		id:         uuid.NewString()[:8],
		shell:      sh,
		opts:       opts,
		state:      StateSpawning,
		cwd:        dir,
		queue:      make(chan *job, queueSize),
		exited:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	prefix := filepath.Join(tmp, fmt.Sprintf("coder-%d-%s", os.Getpid(), s.id))
	s.paths = files{
		status: prefix + "-status",
		stdout: prefix + "-stdout",
		stderr: prefix + "-stderr",
		cwd:    prefix + "-cwd",
	}
	for _, p := range s.paths.all() {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			s.removeFiles()
			return nil, fmt.Errorf("create shell file: %w", err)
		}
	}

	cmd := exec.Command(sh.Path, sh.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true", "PWD="+dir)
	cmd.Env = append(cmd.Env, opts.Env...)
	configureProcAttr(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.removeFiles()
		return nil, fmt.Errorf("shell stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.removeFiles()
		return nil, fmt.Errorf("spawn %s: %w", sh.Path, err)
	}
	s.cmd, s.stdin = cmd, stdin
	go s.monitor()

	fail := func(err error) (*Session, error) {
		close(s.workerDone)
		s.kill()
		<-s.exited
		s.removeFiles()
		return nil, fmt.Errorf("initialize shell: %w", err)
	}
	if err := s.write(s.initScript()); err != nil {
		return fail(err)
	}
	if err := s.waitReady(); err != nil {
		return fail(err)
	}
	s.setState(StateIdle, "")
	go s.worker()
	log.WithField("session", s.id).Infof("spawned %s in %s", sh.Path, dir)
	return s, nil
}

// waitReady 等待 init 脚本最后写出的就绪标记，在此之前会话保持 spawning。
func (s *Session) waitReady() error {
	deadline := time.NewTimer(s.opts.SpawnTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.ready() {
				s.collect(0, true)
				return nil
			}
		case <-s.exited:
			return errors.New("shell exited during startup")
		case <-deadline.C:
			return fmt.Errorf("shell not ready after %s", s.opts.SpawnTimeout)
		}
	}
}

func (s *Session) ready() bool {
	data, err := os.ReadFile(s.paths.status)
	return err == nil && strings.TrimSpace(string(data)) == readyMarker
}

func absDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("shell directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("shell directory %s is not a directory", abs)
	}
	return abs, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Shell() Shell { return s.shell }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pwd returns the directory read from the cwd file after the last completed
// command. It never talks to the subprocess.
func (s *Session) Pwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// SetCwd 校验目录存在后在会话里执行 cd。
func (s *Session) SetCwd(ctx context.Context, dir string) error {
	target := dir
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.Pwd(), target)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("path %q does not exist", dir)
	}
	res, err := s.Exec(ctx, "cd "+quote(target, s.shell.Kind), 0)
	if err != nil {
		return err
	}
	if res.Code != 0 {
		return fmt.Errorf("cd %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Exec 把命令排入队列并等待结算。ctx 取消时只终止命令的子进程，会话本身保留。
// timeout <= 0 使用会话默认超时。
func (s *Session) Exec(ctx context.Context, text string, timeout time.Duration) (Result, error) {
	if s.State() == StateDead {
		return Result{}, ErrClosed
	}
	if res, bad := s.checkSyntax(ctx, text); bad {
		return res, nil
	}
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}
	j := &job{ctx: ctx, text: text, timeout: timeout, reply: make(chan jobReply, 1)}
	select {
	case s.queue <- j:
	case <-s.workerDone:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{Code: CodeKilled, Interrupted: true}, nil
	}
	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-s.workerDone:
		select {
		case r := <-j.reply:
			return r.res, r.err
		default:
			return Result{}, ErrClosed
		}
	}
}

// checkSyntax runs `<shell> -n -c` so a malformed command never reaches the
// live session. A check that cannot complete in time lets the command through.
func (s *Session) checkSyntax(ctx context.Context, text string) (Result, bool) {
	cctx, cancel := context.WithTimeout(ctx, syntaxCheckTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, s.shell.Path, "-n", "-c", text)
	cmd.Dir = s.Pwd()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil || cctx.Err() != nil {
		return Result{}, false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		log.Debugf("syntax check skipped: %v", err)
		return Result{}, false
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = "syntax error"
	}
	return Result{Code: CodeSyntaxError, Stderr: msg}, true
}

func (s *Session) worker() {
	defer close(s.workerDone)
	for {
		select {
		case j := <-s.queue:
			res, err := s.run(j)
			j.reply <- jobReply{res: res, err: err}
		case <-s.exited:
			s.failPending()
			s.removeFiles()
			return
		}
	}
}

func (s *Session) failPending() {
	for {
		select {
		case j := <-s.queue:
			j.reply <- jobReply{err: ErrClosed}
		default:
			return
		}
	}
}

func (s *Session) run(j *job) (Result, error) {
	if j.ctx.Err() != nil {
		return Result{Code: CodeKilled, Interrupted: true}, nil
	}
	select {
	case <-s.exited:
		return Result{}, ErrClosed
	default:
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	for _, p := range []string{s.paths.status, s.paths.stdout, s.paths.stderr} {
		if err := os.Truncate(p, 0); err != nil {
			return Result{}, fmt.Errorf("reset %s: %w", filepath.Base(p), err)
		}
	}
	script, err := s.commandScript(j.text, seq)
	if err != nil {
		return Result{}, err
	}
	s.setState(StateExecuting, j.text)
	defer s.setState(StateIdle, "")
	if err := s.write(script); err != nil {
		return Result{}, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(j.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if code, ok := s.readStatus(seq); ok {
				return s.collect(code, true), nil
			}
		case <-timer.C:
			log.WithField("session", s.id).Warnf("command timed out after %s", j.timeout)
			s.killChildren()
			res := s.collect(CodeKilled, false)
			res.Interrupted = true
			res.Stderr = appendNote(res.Stderr, TimeoutNote)
			return res, nil
		case <-j.ctx.Done():
			s.killChildren()
			return s.settleAfterCancel(seq), nil
		case <-s.exited:
			// `exit N` 经由 EXIT trap 写出了 status。
			if code, ok := s.readStatus(seq); ok {
				return s.collect(code, false), nil
			}
			return Result{}, ErrClosed
		}
	}
}

// settleAfterCancel 给 shell 一小段时间写出被杀命令的退出码；超时则返回哨兵值。
func (s *Session) settleAfterCancel(seq int64) Result {
	deadline := time.NewTimer(cancelGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if code, ok := s.readStatus(seq); ok {
				res := s.collect(code, true)
				res.Interrupted = true
				return res
			}
		case <-deadline.C:
			res := s.collect(CodeKilled, false)
			res.Interrupted = true
			return res
		case <-s.exited:
			return Result{Code: CodeKilled, Interrupted: true}
		}
	}
}

// readStatus reports the exit code once the status file holds this
// command's sequence number. Lines left by an earlier, killed command are ignored.
func (s *Session) readStatus(seq int64) (int, bool) {
	info, err := os.Stat(s.paths.status)
	if err != nil || info.Size() == 0 {
		return 0, false
	}
	data, err := os.ReadFile(s.paths.status)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, false
	}
	got, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || got != seq {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

func (s *Session) collect(code int, refreshCwd bool) Result {
	res := Result{Code: code}
	if data, err := os.ReadFile(s.paths.stdout); err == nil {
		res.Stdout = string(data)
	}
	if data, err := os.ReadFile(s.paths.stderr); err == nil {
		res.Stderr = string(data)
	}
	if refreshCwd {
		if data, err := os.ReadFile(s.paths.cwd); err == nil {
			if cwd := strings.TrimSpace(string(data)); cwd != "" {
				s.mu.Lock()
				s.cwd = cwd
				s.mu.Unlock()
			}
		}
	}
	return res
}

// commandScript 生成一次命令的组合脚本：先捕获退出码，再写 cwd，最后写 status。
func (s *Session) commandScript(text string, seq int64) (string, error) {
	if strings.ContainsRune(text, 0) {
		return "", errors.New("command contains a NUL byte")
	}
	kind := s.shell.Kind
	var sb strings.Builder
	fmt.Fprintf(&sb, "CODER_SEQ=%d\n", seq)
	fmt.Fprintf(&sb, "eval %s < /dev/null > %s 2> %s\n", quote(text, kind), quote(s.paths.stdout, kind), quote(s.paths.stderr, kind))
	sb.WriteString("EXEC_EXIT_CODE=$?\n")
	fmt.Fprintf(&sb, "pwd > %s\n", quote(s.paths.cwd, kind))
	fmt.Fprintf(&sb, "echo \"%d $EXEC_EXIT_CODE\" > %s\n", seq, quote(s.paths.status, kind))
	return sb.String(), nil
}

func (s *Session) initScript() string {
	kind := s.shell.Kind
	var sb strings.Builder
	if !s.opts.SkipRC {
		home, _ := os.UserHomeDir()
		if rc := s.shell.RCFile(home); rc != "" {
			q := quote(rc, kind)
			fmt.Fprintf(&sb, "[ -f %s ] && . %s > /dev/null 2>&1 < /dev/null\n", q, q)
		}
	}
	// 命令里的 exit 会让 shell 退出；trap 仍按同样的顺序写出 cwd 与 status。
	trap := fmt.Sprintf("EXEC_EXIT_CODE=$?; pwd > %s; echo \"$CODER_SEQ $EXEC_EXIT_CODE\" > %s",
		quote(s.paths.cwd, kind), quote(s.paths.status, kind))
	fmt.Fprintf(&sb, "CODER_SEQ=0\ntrap %s EXIT\n", quote(trap, kind))
	// profile 可能切换过目录。
	fmt.Fprintf(&sb, "cd %s\n", quote(s.cwd, kind))
	fmt.Fprintf(&sb, "pwd > %s\n", quote(s.paths.cwd, kind))
	fmt.Fprintf(&sb, "echo %s > %s\n", readyMarker, quote(s.paths.status, kind))
	return sb.String()
}

// quote 使用 mvdan.cc/sh 的引用规则；sh 方言无法表示的字符退回到单引号转义。
func quote(text, kind string) string {
	lang := syntax.LangPOSIX
	if kind == "bash" || kind == "zsh" {
		lang = syntax.LangBash
	}
	if q, err := syntax.Quote(text, lang); err == nil {
		return q
	}
	return "'" + strings.ReplaceAll(text, "'", `'\''`) + "'"
}

func appendNote(stderr, note string) string {
	stderr = strings.TrimRight(stderr, "\n")
	if stderr == "" {
		return note
	}
	return stderr + "\n" + note
}

func (s *Session) write(script string) error {
	_, err := io.WriteString(s.stdin, script)
	return err
}

func (s *Session) killChildren() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pids := descendants(s.cmd.Process.Pid)
	if len(pids) > 0 {
		log.WithField("session", s.id).Infof("terminating %d child process(es)", len(pids))
	}
	terminate(pids)
}

func (s *Session) kill() {
	s.killChildren()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) monitor() {
	err := s.cmd.Wait()
	detail := "exited"
	if err != nil {
		detail = err.Error()
	}
	s.setState(StateDead, detail)
	close(s.exited)
	log.WithField("session", s.id).Infof("shell %s", detail)
}

// Close 关闭 stdin 让 shell 自行退出，超过宽限期则强制结束。
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		select {
		case <-s.exited:
		case <-time.After(closeGrace):
			s.kill()
			<-s.exited
		}
		<-s.workerDone
	})
	return nil
}

func (s *Session) removeFiles() {
	for _, p := range s.paths.all() {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Debugf("remove %s: %v", p, err)
		}
	}
}

func (s *Session) setState(state State, detail string) {
	s.mu.Lock()
	if s.state == StateDead || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	dir := s.cwd
	s.mu.Unlock()
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(events.ShellEvent{SessionID: s.id, Dir: dir, State: string(state), Detail: detail})
	}
}
