package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMax 是历史文件保留的最大条目数。
const DefaultMax = 500

// Entry 是一条提交过的提示词。
type Entry struct {
	Text    string    `json:"text"`
	Workdir string    `json:"workdir,omitempty"`
	TS      time.Time `json:"ts"`
}

// Store appends prompts to a JSONL file. Max bounds the file; zero means
// DefaultMax.
type Store struct {
	Path string
	Max  int
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coder", "history.jsonl"), nil
}

func NewDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return &Store{Path: path}, nil
}

func (s *Store) check() error {
	if s == nil {
		return errors.New("history store is nil")
	}
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("history store path is empty")
	}
	return nil
}

func (s *Store) max() int {
	if s.Max > 0 {
		return s.Max
	}
	return DefaultMax
}

// Append 记录一条提示词；空白文本和与上一条相同的文本会被忽略。
func (s *Store) Append(text, workdir string) error {
	if err := s.check(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	if n := len(entries); n > 0 && entries[n-1].Text == text {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	entry := Entry{Text: text, Workdir: workdir, TS: time.Now()}
	if len(entries)+1 > s.max() {
		entries = append(entries[len(entries)+1-s.max():], entry)
		return s.rewrite(entries)
	}

	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

func (s *Store) rewrite(entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Recent returns up to n prompts, oldest first. n <= 0 returns all of them.
func (s *Store) Recent(n int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out, nil
}

// load 跳过无法解析的行。
func (s *Store) load() ([]Entry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var out []Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
