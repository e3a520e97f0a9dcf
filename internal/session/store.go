package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coder-cli/internal/agent"

	"github.com/google/uuid"
)

// ErrNoSessions 表示目录中没有可恢复的会话。
var ErrNoSessions = errors.New("no sessions found")

// Record 是一次对话落盘后的形态，进度消息不会出现在 Messages 里。
type Record struct {
	ID       string          `json:"id"`
	Workdir  string          `json:"workdir,omitempty"`
	Messages []agent.Message `json:"messages"`
	Updated  time.Time       `json:"updated"`
}

// Store keeps one JSON file per session under Dir.
type Store struct {
	Dir string
}

// DefaultDir is ~/.coder/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coder", "sessions"), nil
}

func NewDefault() (*Store, error) {
	d, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return &Store{Dir: d}, nil
}

func (s *Store) path(id string) (string, error) {
	if s == nil || strings.TrimSpace(s.Dir) == "" {
		return "", errors.New("session store dir is empty")
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}

// Save 写入会话并返回其 id；id 为空时生成新的 uuid。
func (s *Store) Save(id string, workdir string, messages []agent.Message) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	path, err := s.path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	rec := Record{ID: id, Workdir: workdir, Messages: persistable(messages), Updated: time.Now()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	// 先写临时文件再 rename，避免中途崩溃留下半个 JSON。
	tmp, err := os.CreateTemp(s.Dir, "."+id+"-*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return id, nil
}

func persistable(messages []agent.Message) []agent.Message {
	out := make([]agent.Message, 0, len(messages))
	for _, m := range messages {
		if m.Kind == agent.KindProgress {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Store) Load(id string) (Record, error) {
	var rec Record
	path, err := s.path(id)
	if err != nil {
		return rec, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode session %s: %w", id, err)
	}
	return rec, nil
}

// Last returns the most recently updated session.
func (s *Store) Last() (Record, error) {
	records, err := s.List(true, "")
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNoSessions
	}
	return records[0], nil
}

func (s *Store) ListIDs() ([]string, error) {
	if s == nil || strings.TrimSpace(s.Dir) == "" {
		return nil, errors.New("session store dir is empty")
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// List 按更新时间倒序返回会话；showAll 为 false 时只保留同一工作目录的记录。
// 损坏的文件会被跳过。
func (s *Store) List(showAll bool, workdir string) ([]Record, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, id := range ids {
		rec, err := s.Load(id)
		if err != nil {
			continue
		}
		if showAll || rec.Workdir == "" || workdir == "" || samePath(rec.Workdir, workdir) {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Updated.After(records[j].Updated)
	})
	return records, nil
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return false
	}
	return filepath.Clean(absA) == filepath.Clean(absB)
}
