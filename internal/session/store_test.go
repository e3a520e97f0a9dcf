package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coder-cli/internal/agent"

	"github.com/google/go-cmp/cmp"
)

func transcript() []agent.Message {
	user := agent.NewUserMessage("list files")
	assistant := agent.NewAssistantMessage(
		agent.TextBlock("looking"),
		agent.ToolUseBlock("toolu_1", "LS", []byte(`{"path":"."}`)),
	)
	progress := agent.NewProgressMessage("toolu_1", []string{"toolu_1"}, agent.NewAssistantMessage(agent.TextBlock("...")), nil)
	result := agent.NewToolResultMessage("toolu_1", "- ./\n  - a.go", false, nil)
	return []agent.Message{user, assistant, progress, result}
}

func TestSaveDropsProgressAndRoundTrips(t *testing.T) {
	s := &Store{Dir: filepath.Join(t.TempDir(), "sessions")}

	id, err := s.Save("", "/work", transcript())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatalf("Save returned empty id")
	}

	rec, err := s.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.ID != id || rec.Workdir != "/work" {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	var kinds []agent.Kind
	for _, m := range rec.Messages {
		kinds = append(kinds, m.Kind)
	}
	want := []agent.Kind{agent.KindUser, agent.KindAssistant, agent.KindUser}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
	if got := rec.Messages[1].ToolUses(); len(got) != 1 || got[0].Name != "LS" {
		t.Fatalf("tool use lost in round trip: %+v", got)
	}
	if !rec.Messages[2].IsToolResult() {
		t.Fatalf("expected tool result message, got %+v", rec.Messages[2])
	}
}

func TestSaveOverwritesSameID(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	if _, err := s.Save("fixed", "", transcript()[:1]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save("fixed", "", transcript()); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	ids, err := s.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if diff := cmp.Diff([]string{"fixed"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	rec, err := s.Load("fixed")
	if err != nil || len(rec.Messages) != 3 {
		t.Fatalf("expected overwritten record, got %d messages, err=%v", len(rec.Messages), err)
	}
}

func TestLastAndList(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir}

	if _, err := s.Last(); !errors.Is(err, ErrNoSessions) {
		t.Fatalf("Last on empty store: %v", err)
	}

	for _, tc := range []struct{ id, workdir string }{
		{"old", "/a"},
		{"mid", "/b"},
		{"new", "/a"},
	} {
		if _, err := s.Save(tc.id, tc.workdir, transcript()); err != nil {
			t.Fatalf("Save %s: %v", tc.id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	last, err := s.Last()
	if err != nil || last.ID != "new" {
		t.Fatalf("Last = %q, %v; want new", last.ID, err)
	}

	records, err := s.List(false, "/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"new", "old"}, ids); diff != "" {
		t.Fatalf("List(/a) mismatch (-want +got):\n%s", diff)
	}

	all, err := s.List(true, "/a")
	if err != nil || len(all) != 3 {
		t.Fatalf("List(all) = %d records, %v", len(all), err)
	}
}

func TestInvalidIDs(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	for _, id := range []string{"../escape", `a\b`, ".."} {
		if _, err := s.Load(id); err == nil {
			t.Fatalf("Load(%q) should fail", id)
		}
		if _, err := s.Save(id, "", nil); err == nil {
			t.Fatalf("Save(%q) should fail", id)
		}
	}
	if _, err := (&Store{}).ListIDs(); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestMissingDirListsNothing(t *testing.T) {
	s := &Store{Dir: filepath.Join(t.TempDir(), "nope")}
	ids, err := s.ListIDs()
	if err != nil || len(ids) != 0 {
		t.Fatalf("ListIDs on missing dir: %v, %v", ids, err)
	}
}
