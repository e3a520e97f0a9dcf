package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNoShell 表示宿主上找不到可用的 POSIX shell。
var ErrNoShell = errors.New("no usable shell found")

// Shell 描述一个已解析的 shell 可执行文件及其启动参数。
type Shell struct {
	Path string
	Args []string
	Kind string // bash|zsh|sh|other
}

// RCFile returns the interactive rc file sourced after spawn, or "" when the
// shell kind has none.
func (s Shell) RCFile(home string) string {
	if home == "" {
		return ""
	}
	switch s.Kind {
	case "bash":
		return filepath.Join(home, ".bashrc")
	case "zsh":
		return filepath.Join(home, ".zshrc")
	}
	return ""
}

// ResolveOptions 控制 shell 的查找；零值使用真实环境。
type ResolveOptions struct {
	Shell    string
	GOOS     string
	Getenv   func(string) string
	LookPath func(string) (string, error)
	Stat     func(string) (os.FileInfo, error)
}

func (o ResolveOptions) withDefaults() ResolveOptions {
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.Stat == nil {
		o.Stat = os.Stat
	}
	return o
}

// Resolve 选择用于会话的 shell：
// POSIX 宿主依次尝试配置项、$SHELL、bash、zsh、sh，并以登录 shell 启动；
// Windows 宿主依次尝试 CODER_SHELL、配置项、Git Bash 常见安装路径、PATH，最后是 WSL。
func Resolve(opts ResolveOptions) (Shell, error) {
	opts = opts.withDefaults()
	if opts.GOOS == "windows" {
		return resolveWindows(opts)
	}
	for _, candidate := range []string{opts.Shell, opts.Getenv("SHELL"), "bash", "zsh", "sh"} {
		if path, ok := locate(opts, candidate); ok {
			return Shell{Path: path, Args: []string{"-l"}, Kind: kindOf(path)}, nil
		}
	}
	return Shell{}, fmt.Errorf("%w: install bash or set `shell` in ~/.coder/config.toml", ErrNoShell)
}

func resolveWindows(opts ResolveOptions) (Shell, error) {
	candidates := []string{
		opts.Getenv("CODER_SHELL"),
		opts.Shell,
		`C:\Program Files\Git\bin\bash.exe`,
		`C:\Program Files (x86)\Git\bin\bash.exe`,
	}
	if local := opts.Getenv("LOCALAPPDATA"); local != "" {
		candidates = append(candidates, local+`\Programs\Git\bin\bash.exe`)
	}
	candidates = append(candidates, "bash.exe", "bash")
	for _, candidate := range candidates {
		if path, ok := locate(opts, candidate); ok {
			return Shell{Path: path, Args: []string{"-l"}, Kind: "bash"}, nil
		}
	}
	root := opts.Getenv("SystemRoot")
	if root == "" {
		root = `C:\Windows`
	}
	if path, ok := locate(opts, root+`\System32\bash.exe`); ok {
		return Shell{Path: path, Kind: "bash"}, nil
	}
	return Shell{}, fmt.Errorf("%w: install Git for Windows (https://git-scm.com/download/win) or WSL, or set CODER_SHELL to the full path of bash.exe", ErrNoShell)
}

func locate(opts ResolveOptions, candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	if strings.ContainsAny(candidate, `/\`) {
		info, err := opts.Stat(candidate)
		if err != nil || info.IsDir() {
			return "", false
		}
		return candidate, true
	}
	path, err := opts.LookPath(candidate)
	if err != nil {
		return "", false
	}
	return path, true
}

func kindOf(path string) string {
	base := strings.TrimSuffix(filepath.Base(strings.ReplaceAll(path, `\`, "/")), ".exe")
	switch base {
	case "bash", "zsh", "sh":
		return base
	}
	return "other"
}
