package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// Project 是工作区级别的配置（<workdir>/.coder/settings.toml），
// 目前只保存永久授权的工具规则。
type Project struct {
	AllowedTools []string `toml:"allowed_tools"`
	Source       string   `toml:"-"`
}

func ProjectPath(workdir string) string {
	return filepath.Join(workdir, ".coder", "settings.toml")
}

func LoadProject(workdir string) (Project, error) {
	path := ProjectPath(workdir)
	p := Project{Source: path}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return p, err
	}
	if err := toml.Unmarshal(content, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

func SaveProject(workdir string, p Project) error {
	return writeTOML(ProjectPath(workdir), p)
}

// Allow adds rule and reports whether it was new.
func (p *Project) Allow(rule string) bool {
	if rule == "" || slices.Contains(p.AllowedTools, rule) {
		return false
	}
	p.AllowedTools = append(p.AllowedTools, rule)
	return true
}
