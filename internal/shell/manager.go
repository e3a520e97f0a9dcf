package shell

import (
	"errors"
	"path/filepath"
	"sync"
)

// Manager 为每个工作目录维护一个会话，死掉的会话在下次 Get 时重新拉起。
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager uses opts as the template for every spawned session; Dir is
// replaced per call.
func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, sessions: map[string]*Session{}}
}

func (m *Manager) Get(dir string) (*Session, error) {
	key, err := absDir(dir)
	if err != nil {
		return nil, err
	}
	key = filepath.Clean(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[key]; ok {
		if s.State() != StateDead {
			return s, nil
		}
		log.WithField("session", s.ID()).Infof("respawning dead shell for %s", key)
		_ = s.Close()
	}
	opts := m.opts
	opts.Dir = key
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = s
	return s, nil
}

// Len reports how many sessions are tracked, dead ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
