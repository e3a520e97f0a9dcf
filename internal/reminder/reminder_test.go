package reminder

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestServiceDedupesByKeyAndDrains(t *testing.T) {
	s := NewService()
	s.Add(Reminder{Kind: KindNote, Text: "first"})
	s.Add(Reminder{Kind: KindFileChanged, Key: "file:a", Text: "a changed"})
	s.Add(Reminder{Kind: KindFileChanged, Key: "file:a", Text: "a changed again"})
	s.Add(Reminder{Kind: KindNote, Text: "   "})
	if s.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", s.Pending())
	}
	got := s.Drain()
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "a changed again" {
		t.Fatalf("unexpected drain: %+v", got)
	}
	if s.Pending() != 0 || len(s.Drain()) != 0 {
		t.Fatalf("drain did not consume reminders")
	}
}

func TestServiceConcurrentAdd(t *testing.T) {
	s := NewService()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(Reminder{Kind: KindNote, Text: "x"})
		}()
	}
	wg.Wait()
	if s.Pending() != 20 {
		t.Fatalf("Pending = %d, want 20", s.Pending())
	}
}

func TestFormat(t *testing.T) {
	if Format(nil) != "" {
		t.Fatalf("expected empty format for no reminders")
	}
	out := Format([]Reminder{{Text: "one"}, {Text: "two\n"}})
	if strings.Count(out, "<system-reminder>") != 2 || !strings.Contains(out, "<system-reminder>\ntwo\n</system-reminder>") {
		t.Fatalf("unexpected format: %q", out)
	}
}

func waitPending(t *testing.T, s *Service, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.Pending() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d reminder(s), have %d", want, s.Pending())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFileWatcherReportsExternalChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := NewService()
	fw, err := NewFileWatcher(svc)
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer fw.Close()
	if err := fw.Track(path); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := fw.Track(path); err != nil || fw.Tracked() != 1 {
		t.Fatalf("double Track: %v, tracked=%d", err, fw.Tracked())
	}

	if err := os.WriteFile(filepath.Join(dir, "other.go"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("package main // edit\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	waitPending(t, svc, 1)
	time.Sleep(50 * time.Millisecond)
	got := svc.Drain()
	if len(got) != 1 || got[0].Kind != KindFileChanged || !strings.Contains(got[0].Text, path) {
		t.Fatalf("unexpected reminders: %+v", got)
	}
}

func TestFileWatcherSuppressAndUntrack(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := NewService()
	fw, err := NewFileWatcher(svc)
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer fw.Close()
	if err := fw.Track(path); err != nil {
		t.Fatalf("Track: %v", err)
	}

	fw.Suppress(path, time.Second)
	if err := os.WriteFile(path, []byte("b"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if svc.Pending() != 0 {
		t.Fatalf("suppressed write produced a reminder: %+v", svc.Drain())
	}

	fw.Untrack(path)
	if fw.Tracked() != 0 {
		t.Fatalf("Tracked = %d after Untrack", fw.Tracked())
	}
	if err := os.WriteFile(path, []byte("c"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if svc.Pending() != 0 {
		t.Fatalf("untracked write produced a reminder: %+v", svc.Drain())
	}
}
