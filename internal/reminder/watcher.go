package reminder

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"coder-cli/internal/logger"

	"github.com/fsnotify/fsnotify"
)

var log = logger.Named("reminder")

// FileWatcher 监听已被读取过的文件；文件在磁盘上被外部修改或删除时向 Service 投递提示。
// 监听的是父目录，编辑器的原子替换（写临时文件再 rename）也能被捕获。
type FileWatcher struct {
	svc     *Service
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	tracked    map[string]struct{}
	dirs       map[string]int
	suppressed map[string]time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewFileWatcher(svc *Service) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	fw := &FileWatcher{
		svc:        svc,
		watcher:    w,
		tracked:    map[string]struct{}{},
		dirs:       map[string]int{},
		suppressed: map[string]time.Time{},
		done:       make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

// Track starts watching path. Tracking the same file twice is a no-op.
func (fw *FileWatcher) Track(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.tracked[abs]; ok {
		return nil
	}
	dir := filepath.Dir(abs)
	if fw.dirs[dir] == 0 {
		if err := fw.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	fw.dirs[dir]++
	fw.tracked[abs] = struct{}{}
	return nil
}

func (fw *FileWatcher) Untrack(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.tracked[abs]; !ok {
		return
	}
	delete(fw.tracked, abs)
	dir := filepath.Dir(abs)
	fw.dirs[dir]--
	if fw.dirs[dir] <= 0 {
		delete(fw.dirs, dir)
		_ = fw.watcher.Remove(dir)
	}
}

// Suppress ignores events for path during d; the agent's own writes call it first.
func (fw *FileWatcher) Suppress(path string, d time.Duration) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	fw.mu.Lock()
	fw.suppressed[abs] = time.Now().Add(d)
	fw.mu.Unlock()
}

func (fw *FileWatcher) Tracked() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.tracked)
}

func (fw *FileWatcher) Close() error {
	var err error
	fw.closeOnce.Do(func() {
		err = fw.watcher.Close()
		<-fw.done
	})
	return err
}

func (fw *FileWatcher) run() {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("file watcher error: %v", err)
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	var verb string
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		verb = "modified"
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		verb = "deleted or moved"
	default:
		return
	}
	name := filepath.Clean(event.Name)
	fw.mu.Lock()
	_, tracked := fw.tracked[name]
	until, quiet := fw.suppressed[name]
	if quiet && time.Now().After(until) {
		delete(fw.suppressed, name)
		quiet = false
	}
	fw.mu.Unlock()
	if !tracked || quiet {
		return
	}
	log.WithField("path", name).Debugf("tracked file %s", verb)
	fw.svc.Add(Reminder{
		Kind: KindFileChanged,
		Key:  "file:" + name,
		Text: fmt.Sprintf("The file %s was %s outside of this conversation after you last read it. Read it again before relying on its contents or editing it.", name, verb),
	})
}
