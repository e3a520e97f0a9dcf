package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coder-cli/internal/config"
	"coder-cli/internal/logger"
	"coder-cli/internal/tools"

	"github.com/spf13/cobra"
)

var log = logger.Named("cli")

// rootOptions 是所有子命令共享的全局参数。
type rootOptions struct {
	cfgPath   string
	overrides []string
	workdir   string
	logFiles  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var closers []io.Closer

	root := &cobra.Command{
		Use:           "coder-cli",
		Short:         "Terminal coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger.Configure(cfg.LogLevel)
			if opts.logFiles {
				closers = setupLogFiles()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for _, c := range closers {
				_ = c.Close()
			}
			tools.CloseToolsLog()
		},
	}
	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "Path to config file (default ~/.coder/config.toml)")
	root.PersistentFlags().StringArrayVarP(&opts.overrides, "config-value", "c", nil, "Override config value key=value (repeatable)")
	root.PersistentFlags().StringVar(&opts.workdir, "workdir", "", "Working directory (default: current)")
	root.PersistentFlags().BoolVar(&opts.logFiles, "log-files", true, "Write logs under ./logs instead of stderr")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newShellCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newSessionsCmd(opts))
	return root
}

// loadConfig 读取配置文件，叠加 -c 覆盖项后校验。
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	cfg = config.ApplyKVOverrides(cfg, o.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o *rootOptions) resolveWorkdir() (string, error) {
	input := strings.TrimSpace(o.workdir)
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if input == "" {
		return wd, nil
	}
	if !filepath.IsAbs(input) {
		input = filepath.Join(wd, input)
	}
	info, err := os.Stat(input)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workdir %s is not a directory", input)
	}
	return filepath.Clean(input), nil
}

func setupLogFiles() []io.Closer {
	var closers []io.Closer
	if f, _, err := logger.SetupFile(logger.DefaultLogPath); err != nil {
		log.Warnf("failed to initialize log file: %v", err)
	} else {
		closers = append(closers, f)
	}
	// 工具日志由 tools.CloseToolsLog 关闭。
	if _, _, err := tools.SetupToolsLog(logger.DefaultToolsLogPath); err != nil {
		log.Warnf("failed to initialize tools log (%s): %v", logger.DefaultToolsLogPath, err)
	}
	if entry, c, _, err := logger.SetupComponentFile("llm", logger.DefaultLLMLogPath); err != nil {
		log.Warnf("failed to initialize llm log (%s): %v", logger.DefaultLLMLogPath, err)
	} else {
		logger.SetGlobalLLMLogger(logger.NewLLMLogger(entry))
		if c != nil {
			closers = append(closers, c)
		}
	}
	return closers
}
