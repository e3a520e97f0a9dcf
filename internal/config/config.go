package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderEcho      = "echo"

	PermissionDefault = "default"
	PermissionBypass  = "bypass"

	DefaultModel              = "claude-sonnet-4-5"
	DefaultShellTimeout       = 30 * time.Minute
	DefaultMaxToolConcurrency = 10
)

// Config is the persisted user config schema (~/.coder/config.toml).
type Config struct {
	Provider           string `toml:"provider" validate:"omitempty,oneof=anthropic openai echo"`
	URL                string `toml:"url,omitempty" validate:"omitempty,url"`
	Token              string `toml:"token,omitempty"`
	Model              string `toml:"model"`
	SmallModel         string `toml:"small_model,omitempty"`
	Shell              string `toml:"shell,omitempty"`
	ShellTimeout       string `toml:"shell_timeout,omitempty"`
	MaxToolConcurrency int    `toml:"max_tool_concurrency,omitempty" validate:"gte=0,lte=64"`
	ContextWindow      int64  `toml:"context_window,omitempty" validate:"gte=0"`
	MaxThinkingTokens  int    `toml:"max_thinking_tokens,omitempty" validate:"gte=0"`
	PermissionMode     string `toml:"permission_mode,omitempty" validate:"omitempty,oneof=default bypass"`
	LogLevel           string `toml:"log_level,omitempty"`
	Language           string `toml:"language,omitempty"`
	Source             string `toml:"-"`
}

func Default() Config {
	return Config{
		Provider:           ProviderAnthropic,
		Model:              DefaultModel,
		MaxToolConcurrency: DefaultMaxToolConcurrency,
		PermissionMode:     PermissionDefault,
		LogLevel:           "info",
	}
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".coder")
}

func DefaultPath() string {
	dir := DefaultDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// Load 读取配置文件；文件不存在时使用默认值。环境变量总是覆盖文件内容。
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, errors.New("config path is empty and $HOME is not set")
	}
	cfg.Source = path

	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := toml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv("CODER_BASE_URL")); env != "" {
		cfg.URL = env
	}
	if env := strings.TrimSpace(os.Getenv("CODER_MODEL")); env != "" {
		cfg.Model = env
	}
	if env := strings.TrimSpace(os.Getenv("CODER_SHELL")); env != "" {
		cfg.Shell = env
	}
	if env := strings.TrimSpace(os.Getenv("CODER_API_KEY")); env != "" {
		cfg.Token = env
		return
	}
	if cfg.Token != "" {
		return
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		cfg.Token = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case ProviderAnthropic, "":
		cfg.Token = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks enumerations and ranges after overrides are applied.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s=%v (%s %s)", fe.Field(), fe.Value(), fe.Tag(), fe.Param())
		}
		return err
	}
	if _, err := c.ShellTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// ShellTimeoutDuration parses shell_timeout; empty means the 30 minute default.
func (c Config) ShellTimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.ShellTimeout)
	if raw == "" {
		return DefaultShellTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid config shell_timeout=%q: want a positive duration such as 10m", raw)
	}
	return d, nil
}

func (c Config) Bypass() bool {
	return c.PermissionMode == PermissionBypass
}
