package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "history.jsonl")
	s := &Store{Path: path}

	if got, err := s.Recent(0); err != nil || len(got) != 0 {
		t.Fatalf("Recent on missing file: got=%v err=%v", got, err)
	}

	for _, text := range []string{"   ", "one", "two", "two", "three"} {
		if err := s.Append(text, "/work"); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Fatalf("Recent mismatch (-want +got):\n%s", diff)
	}
	got, _ = s.Recent(2)
	if diff := cmp.Diff([]string{"two", "three"}, got); diff != "" {
		t.Fatalf("Recent(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentSkipsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join([]string{
		`{"text":"one","ts":"2025-01-01T00:00:00Z"}`,
		`{not json}`,
		`{"text":"  ","ts":"2025-01-01T00:00:00Z"}`,
		`{"text":"two","ts":"2025-01-01T00:00:00Z"}`,
		"",
	}, "\n")), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := (&Store{Path: path}).Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if diff := cmp.Diff([]string{"one", "two"}, got); diff != "" {
		t.Fatalf("Recent mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendTrimsToMax(t *testing.T) {
	t.Parallel()

	s := &Store{Path: filepath.Join(t.TempDir(), "history.jsonl"), Max: 3}
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Append(text, ""); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}
	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, got); diff != "" {
		t.Fatalf("Recent mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	var s *Store
	if err := s.Append("hi", ""); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := (&Store{}).Recent(1); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
