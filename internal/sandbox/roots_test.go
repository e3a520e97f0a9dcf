package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWithinRoots(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "inside", "dir")
	if err := os.MkdirAll(inside, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if !withinRoots(inside, []string{root}) {
		t.Fatalf("expected %s inside %s", inside, root)
	}
	sibling := root + "-other"
	if withinRoots(sibling, []string{root}) {
		t.Fatalf("unexpected match for sibling %s", sibling)
	}
	outside := filepath.Join(root, "..", "outside")
	if withinRoots(outside, []string{inside}) {
		t.Fatalf("unexpected match for outside path %s", outside)
	}
	dotted := filepath.Join(root, "..hidden")
	if !withinRoots(dotted, []string{root}) {
		t.Fatalf("expected %s inside %s", dotted, root)
	}
}

func TestRootsCheck(t *testing.T) {
	root := t.TempDir()
	r := New(root, root, "")
	if got := r.Dirs(); len(got) != 1 || got[0] != root {
		t.Fatalf("Dirs = %v", got)
	}

	abs, err := r.Check(root, "src/main.go")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if want := filepath.Join(root, "src", "main.go"); abs != want {
		t.Fatalf("abs = %q, want %q", abs, want)
	}
	if _, err := r.Check(root, "../escape"); !errors.Is(err, ErrOutsideRoots) {
		t.Fatalf("expected ErrOutsideRoots, got %v", err)
	}
	if _, err := r.Check("", "/etc/passwd"); !errors.Is(err, ErrOutsideRoots) {
		t.Fatalf("expected ErrOutsideRoots for absolute path, got %v", err)
	}
}

func TestEmptyRootsAllowEverything(t *testing.T) {
	if !New().Contains("/anywhere") {
		t.Fatalf("empty roots should not restrict")
	}
}
