package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
)

func openTemp(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "history.db"), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTemp(t)
	bus := events.NewBus()
	bus.SubscribeGlobal(l)

	bus.Emit(events.Event{Type: events.EvResolve, Actor: 1, Spec: "i:torch", Refs: []gamedb.DBRef{4}, Duration: 1500 * time.Microsecond})
	bus.Emit(events.Event{Type: events.EvOpFailure, Actor: 2, Op: "mapfile", Err: "no such file"})
	bus.Emit(events.Event{Type: events.EvResolve, Actor: 1, Spec: "u", Refs: []gamedb.DBRef{1, 2, 3}})

	got, err := l.Recent(1, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for #1, got %d", len(got))
	}
	if got[0].Spec != "u" || len(got[0].Refs) != 3 || got[0].Refs[2] != 3 {
		t.Errorf("newest entry wrong: %+v", got[0])
	}
	if got[1].Spec != "i:torch" || got[1].Kind != "resolve" || got[1].Duration != 1500*time.Microsecond {
		t.Errorf("oldest entry wrong: %+v", got[1])
	}

	all, err := l.Recent(gamedb.Nothing, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries overall, got %d", len(all))
	}
	if all[1].Kind != "op_failure" || all[1].Op != "mapfile" || all[1].Err != "no such file" {
		t.Errorf("failure entry wrong: %+v", all[1])
	}

	limited, err := l.Recent(gamedb.Nothing, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d entries", len(limited))
	}
}

func TestPrune(t *testing.T) {
	l := openTemp(t)
	old := time.Now().Add(-48 * time.Hour)
	if err := l.Record(events.Event{Type: events.EvResolve, Actor: 1, Spec: "me", Time: old}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(events.Event{Type: events.EvResolve, Actor: 1, Spec: "here"}); err != nil {
		t.Fatal(err)
	}
	n, err := l.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	rest, _ := l.Recent(1, 10)
	if len(rest) != 1 || rest[0].Spec != "here" {
		t.Errorf("wrong survivors: %+v", rest)
	}
}

func TestClosedLogDropsEvents(t *testing.T) {
	l := openTemp(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !l.Closed() {
		t.Fatal("Closed() false after Close")
	}
	if err := l.Record(events.Event{Type: events.EvResolve}); err == nil {
		t.Error("expected error recording to a closed log")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRefsFormat(t *testing.T) {
	refs := []gamedb.DBRef{0, 12, 7}
	s := formatRefs(refs)
	if s != "#0 #12 #7" {
		t.Errorf("formatRefs = %q", s)
	}
	back := parseRefs(s)
	if len(back) != 3 || back[1] != 12 {
		t.Errorf("parseRefs = %v", back)
	}
	if parseRefs("") != nil {
		t.Error("empty string should parse to nil")
	}
}
