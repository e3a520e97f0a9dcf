package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"coder-cli/internal/agent"
	anthropicmodel "coder-cli/internal/agent/anthropic"
	openaimodel "coder-cli/internal/agent/openai"
	"coder-cli/internal/config"
	"coder-cli/internal/events"
	"coder-cli/internal/execution"
	"coder-cli/internal/history"
	"coder-cli/internal/i18n"
	"coder-cli/internal/instructions"
	"coder-cli/internal/permission"
	"coder-cli/internal/prompts"
	"coder-cli/internal/reminder"
	"coder-cli/internal/sandbox"
	"coder-cli/internal/session"
	"coder-cli/internal/shell"
	"coder-cli/internal/tools"
	"coder-cli/internal/tools/handlers"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// errQueryDone 是查询正常结束后释放令牌时使用的原因。
var errQueryDone = errors.New("query finished")

type runOptions struct {
	yolo     bool
	resume   string
	maxTurns int
	addDirs  []string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent once with a prompt, or interactively when no prompt is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			workdir, err := root.resolveWorkdir()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := newApp(ctx, cfg, workdir, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			stop := rt.handleInterrupts(cancel)
			defer stop()

			if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
				err = rt.ask(ctx, prompt)
			} else {
				err = rt.repl(ctx)
			}
			rt.printSummary()
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.yolo, "yolo", false, "Run every tool without asking for permission")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "Resume a saved session: --resume=<id>, or --resume for the most recent one")
	cmd.Flags().Lookup("resume").NoOptDefVal = "last"
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "Stop after this many model calls per prompt (0 = unlimited)")
	cmd.Flags().StringArrayVar(&opts.addDirs, "add-dir", nil, "Additional directory tools may access (repeatable)")
	return cmd
}

// app 持有一次 run 命令的全部组件。
type app struct {
	cfg     config.Config
	workdir string
	out     io.Writer

	bus       *events.Bus
	shells    *shell.Manager
	watcher   *reminder.FileWatcher
	gate      *permission.Gate
	orch      *execution.Orchestrator
	tctx      *tools.Context
	in        *lineReader
	render    *renderer
	sessions  *session.Store
	history   *history.Store
	confirmWG sync.WaitGroup

	sessionID  string
	system     []string
	extra      map[string]string
	transcript []agent.Message

	mu    sync.Mutex
	abort *tools.Abort
}

func newApp(ctx context.Context, cfg config.Config, workdir string, opts *runOptions, stdin io.Reader, out io.Writer) (*app, error) {
	shellTimeout, err := cfg.ShellTimeoutDuration()
	if err != nil {
		return nil, err
	}
	caller, err := buildCaller(cfg)
	if err != nil {
		return nil, err
	}
	if dir := config.DefaultDir(); dir != "" {
		if err := prompts.LoadOverrides(filepath.Join(dir, "prompts.yaml")); err != nil {
			log.Warnf("ignoring prompt overrides: %v", err)
		}
	}

	rt := &app{
		cfg:     cfg,
		workdir: workdir,
		out:     out,
		bus:     events.NewBus(),
		in:      newLineReader(stdin),
		render:  newRenderer(out, 0),
		system:  []string{prompts.Get(prompts.PromptCore)},
		extra:   instructions.Context(workdir),
	}
	if hint := i18n.Language(cfg.Language).Instruction(); hint != "" {
		rt.extra["language"] = hint
	}

	rt.shells = shell.NewManager(shell.Options{Shell: cfg.Shell, Timeout: shellTimeout, Bus: rt.bus})
	reminders := reminder.NewService()
	if rt.watcher, err = reminder.NewFileWatcher(reminders); err != nil {
		log.Warnf("file watcher disabled: %v", err)
		rt.watcher = nil
	}

	roots := sandbox.New(append([]string{workdir}, opts.addDirs...)...)
	registry := tools.NewRegistry(handlers.Default(handlers.Deps{
		Roots:        roots,
		Shells:       rt.shells,
		Watcher:      rt.watcher,
		ShellTimeout: shellTimeout,
	})...)

	grants, err := permission.LoadGrants(workdir)
	if err != nil {
		log.Warnf("ignoring project permissions: %v", err)
		grants = nil
	}
	mode := permission.ModeDefault
	if opts.yolo || cfg.Bypass() {
		mode = permission.ModeBypass
	}
	rt.gate = permission.NewGate(mode, grants, permission.BusPrompter{Bus: rt.bus})

	c := &confirmer{in: rt.in, out: out}
	sub := rt.bus.SubscribeBuffered(64)
	rt.confirmWG.Add(1)
	go func() {
		defer rt.confirmWG.Done()
		c.serve(ctx, sub, &rt.confirmWG)
	}()

	rt.orch = execution.NewOrchestrator(execution.Options{
		Caller:             caller,
		Registry:           registry,
		Reminders:          reminders,
		Bus:                rt.bus,
		ContextWindow:      cfg.ContextWindow,
		MaxToolConcurrency: cfg.MaxToolConcurrency,
		MaxTurns:           opts.maxTurns,
	})

	if store, err := session.NewDefault(); err != nil {
		log.Warnf("sessions will not be saved: %v", err)
	} else {
		rt.sessions = store
	}
	if h, err := history.NewDefault(); err == nil {
		rt.history = h
	}
	if err := rt.restore(opts.resume); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.sessionID == "" {
		rt.sessionID = uuid.NewString()
	}
	rt.tctx = tools.NewContext(ctx, registry, rt.sessionID, tools.Options{
		Model:             cfg.Model,
		Cwd:               workdir,
		MaxThinkingTokens: cfg.MaxThinkingTokens,
	})
	return rt, nil
}

func buildCaller(cfg config.Config) (agent.ModelCaller, error) {
	token := strings.TrimSpace(cfg.Token)
	switch cfg.Provider {
	case config.ProviderEcho:
		return agent.EchoCaller{}, nil
	case config.ProviderOpenAI:
		if token == "" {
			log.Warn("no OpenAI API key configured; using echo mode")
			return agent.EchoCaller{}, nil
		}
		c, err := openaimodel.New(openaimodel.Options{APIKey: token, BaseURL: cfg.URL, Model: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return c, nil
	default:
		if token == "" {
			log.Warn("no Anthropic API key configured; using echo mode")
			return agent.EchoCaller{}, nil
		}
		c, err := anthropicmodel.New(anthropicmodel.Options{Token: token, BaseURL: cfg.URL, Model: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("init anthropic client: %w", err)
		}
		return c, nil
	}
}

// restore 按 --resume 载入已保存的对话。
func (rt *app) restore(resume string) error {
	if resume == "" {
		return nil
	}
	if rt.sessions == nil {
		return errors.New("cannot resume: session store unavailable")
	}
	var (
		rec session.Record
		err error
	)
	if resume == "last" {
		var records []session.Record
		records, err = rt.sessions.List(false, rt.workdir)
		if err == nil && len(records) == 0 {
			err = session.ErrNoSessions
		}
		if err == nil {
			rec = records[0]
		}
	} else {
		rec, err = rt.sessions.Load(resume)
	}
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	rt.sessionID = rec.ID
	rt.transcript = rec.Messages
	fmt.Fprintf(rt.out, "Resumed session %s (%d messages)\n", rec.ID, len(rec.Messages))
	return nil
}

// handleInterrupts 把 Ctrl-C 转成当前查询的取消；空闲时退出。
func (rt *app) handleInterrupts(cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				if a := rt.currentAbort(); a != nil {
					a.Signal(tools.ErrAborted)
					continue
				}
				cancel()
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (rt *app) currentAbort() *tools.Abort {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.abort
}

func (rt *app) setAbort(a *tools.Abort) {
	rt.mu.Lock()
	rt.abort = a
	rt.mu.Unlock()
}

func (rt *app) repl(ctx context.Context) error {
	fmt.Fprintf(rt.out, "coder-cli in %s. Type /exit to quit.\n", rt.workdir)
	for {
		fmt.Fprint(rt.out, "> ")
		line, ok := rt.in.next(ctx)
		if !ok {
			fmt.Fprintln(rt.out)
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := rt.ask(ctx, line); err != nil {
			return err
		}
	}
}

// ask 执行一次顶层查询，实时打印消息并在结束后保存对话。
func (rt *app) ask(ctx context.Context, prompt string) error {
	if rt.history != nil {
		if err := rt.history.Append(prompt, rt.workdir); err != nil {
			log.Warnf("failed to record prompt history: %v", err)
		}
	}
	rt.transcript = append(rt.transcript, agent.NewUserMessage(prompt))

	q := rt.tctx.ForQuery(ctx)
	rt.setAbort(q.Abort)
	defer func() {
		rt.setAbort(nil)
		q.Abort.Signal(errQueryDone)
	}()

	for msg := range rt.orch.Query(ctx, rt.transcript, rt.system, rt.extra, rt.gate.Decide, q) {
		rt.render.Render(msg)
		if msg.Kind != agent.KindProgress {
			rt.transcript = append(rt.transcript, msg)
		}
	}
	rt.save()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (rt *app) save() {
	if rt.sessions == nil {
		return
	}
	if _, err := rt.sessions.Save(rt.sessionID, rt.workdir, rt.transcript); err != nil {
		log.Warnf("failed to save session: %v", err)
	}
}

func (rt *app) printSummary() {
	if u := rt.orch.Usage(); u.Total() > 0 {
		fmt.Fprintf(rt.out, "Token usage: total=%d input=%d output=%d (%d model calls)\n", u.Total(), u.InputTokens, u.OutputTokens, rt.orch.Calls())
	}
	if rt.sessions != nil && len(rt.transcript) > 0 {
		fmt.Fprintf(rt.out, "To continue this session, run coder-cli run --resume=%s\n", rt.sessionID)
	}
}

func (rt *app) Close() {
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	if err := rt.shells.Close(); err != nil {
		log.Warnf("closing shells: %v", err)
	}
	rt.bus.Close()
	rt.confirmWG.Wait()
}
