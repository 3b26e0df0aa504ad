package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// testEnv holds a small world:
//
//	#0 Hall (room, exit north -> /room/north)
//	#1 Alice (player, interactive, in Hall) carrying #2 torch, #3 torch
//	#4 goblin (living, in Hall)
type testEnv struct {
	w   *World
	lib string
}

const worldYAML = `objects:
  - ref: 0
    type: room
    name: Hall
    program: /room/hall
    exits: {north: /room/north}
    invis_exits: {down: /room/cellar}
  - ref: 1
    type: player
    name: Alice
    location: 0
    gender: female
    interactive: true
    hostname: alice.example.com
    props: {cwd: /w/alice, score: 12}
  - ref: 2
    name: torch
    aliases: [light]
    location: 1
  - ref: 3
    name: torch
    short: a spare torch
    location: 1
  - ref: 4
    type: monster
    name: goblin
    location: 0
`

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	lib := t.TempDir()
	mustWrite(t, filepath.Join(lib, "room", "north.yaml"), "name: North Room\ntype: room\nexits: {south: /room/hall}\n")
	mustWrite(t, filepath.Join(lib, "obj", "lamp.yaml"), "name: lamp\naliases: [light]\n")
	mustWrite(t, filepath.Join(lib, "etc", "list"), "alice\n\n  goblin  \n")

	db, err := Decode([]byte(worldYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return &testEnv{
		w:   New(db, Options{LibDir: lib, Levels: map[string]int{"Wizard": 10}}),
		lib: lib,
	}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeBuildsContents(t *testing.T) {
	env := newTestEnv(t)
	w := env.w

	inv := w.Inventory(1)
	if len(inv) != 2 || inv[0] != 2 || inv[1] != 3 {
		t.Errorf("Alice inventory = %v", inv)
	}
	if env := w.Environment(2); env != 1 {
		t.Errorf("torch environment = %d", env)
	}
	if all := w.AllEnvironments(2); len(all) != 2 || all[1] != 0 {
		t.Errorf("AllEnvironments = %v", all)
	}
	if deep := w.DeepInventory(0); len(deep) != 4 {
		t.Errorf("DeepInventory(Hall) = %v", deep)
	}
	if users := w.Users(); len(users) != 1 || users[0] != 1 {
		t.Errorf("Users = %v", users)
	}
	if livings := w.Livings(); len(livings) != 2 {
		t.Errorf("Livings = %v", livings)
	}
	if w.Gender(1) != gamedb.GenderFemale || w.Hostname(1) != "alice.example.com" {
		t.Error("player attributes lost")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"duplicate ref":    "objects:\n  - {ref: 1, name: a}\n  - {ref: 1, name: b}\n",
		"missing location": "objects:\n  - {ref: 1, name: a, location: 9}\n",
		"unknown field":    "objects:\n  - {ref: 1, name: a, colour: red}\n",
		"no name":          "objects:\n  - {ref: 1}\n",
		"bad type":         "objects:\n  - {name: a, type: dragon}\n",
		"not yaml":         "objects: [",
	}
	for name, doc := range tests {
		if _, err := Decode([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPresent(t *testing.T) {
	w := newTestEnv(t).w
	tests := map[string]gamedb.DBRef{
		"torch":   2,
		"TORCH":   2,
		"torch 2": 3,
		"torch 3": gamedb.Nothing,
		"light":   2,
		"lamp":    gamedb.Nothing,
	}
	for name, want := range tests {
		if got := w.Present(name, 1); got != want {
			t.Errorf("Present(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestFinders(t *testing.T) {
	w := newTestEnv(t).w
	if got := w.FindPlayer("alice"); got != 1 {
		t.Errorf("FindPlayer = %d", got)
	}
	if got := w.FindPlayer("goblin"); got != gamedb.Nothing {
		t.Errorf("FindPlayer matched a monster: %d", got)
	}
	if got := w.FindLiving("goblin"); got != 4 {
		t.Errorf("FindLiving = %d", got)
	}
	if got := w.FindGeneric("/room/hall"); got != 0 {
		t.Errorf("FindGeneric by program = %d", got)
	}
	if got := w.FindGeneric("light"); got != 2 {
		t.Errorf("FindGeneric by id = %d", got)
	}
	if got := w.FindObjects("/room"); len(got) != 1 || got[0] != 0 {
		t.Errorf("FindObjects = %v", got)
	}
	if lvl, ok := w.OrdLevel("wizard"); !ok || lvl != 10 {
		t.Errorf("OrdLevel(wizard) = %d, %v", lvl, ok)
	}
	if lvl, ok := w.OrdLevel("7"); !ok || lvl != 7 {
		t.Errorf("OrdLevel(7) = %d, %v", lvl, ok)
	}
	if _, ok := w.OrdLevel("emperor"); ok {
		t.Error("unknown level accepted")
	}
}

func TestExits(t *testing.T) {
	w := newTestEnv(t).w
	if dest, ok := w.Exit(0, "north"); !ok || dest != "/room/north" {
		t.Errorf("Exit(north) = %q, %v", dest, ok)
	}
	if dest, ok := w.Exit(0, "down"); !ok || dest != "/room/cellar" {
		t.Errorf("invisible exit = %q, %v", dest, ok)
	}
	if _, ok := w.Exit(0, "west"); ok {
		t.Error("nonexistent exit found")
	}
	if all := w.Exits(0); len(all) != 2 || all[0] != "/room/north" || all[1] != "/room/cellar" {
		t.Errorf("Exits = %v", all)
	}
}

func TestLoadFromFile(t *testing.T) {
	w := newTestEnv(t).w
	ref, err := w.LoadFromFile("/room/north.yaml")
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if w.ProgramName(ref) != "/room/north" || w.Name(ref) != "North Room" {
		t.Errorf("loaded %q named %q", w.ProgramName(ref), w.Name(ref))
	}
	again, err := w.LoadFromFile("room/north")
	if err != nil || again != ref {
		t.Errorf("second load = %d, %v; want the same master #%d", again, err, ref)
	}
	if _, err := w.LoadFromFile("/room/missing"); !errors.Is(err, ErrNoFile) {
		t.Errorf("missing blueprint: %v", err)
	}

	bad := newTestEnv(t)
	mustWrite(t, filepath.Join(bad.lib, "obj", "broken.yaml"), "name: broken\nwings: 2\n")
	if _, err := bad.w.LoadFromFile("/obj/broken"); err == nil {
		t.Error("blueprint failing the schema was loaded")
	}
}

func TestFiles(t *testing.T) {
	w := newTestEnv(t).w
	if !w.FileExists("/etc/list") || w.FileExists("/etc") || w.FileExists("/nope") {
		t.Error("FileExists wrong")
	}
	lines, err := w.ReadLines("/etc/list")
	if err != nil || len(lines) != 2 || lines[1] != "goblin" {
		t.Errorf("ReadLines = %q, %v", lines, err)
	}
	if _, err := w.ReadLines("/etc/none"); !errors.Is(err, ErrNoFile) {
		t.Errorf("ReadLines missing: %v", err)
	}
	got := w.ExpandGlob("/*/*.yaml")
	if len(got) != 2 || got[0] != "/obj/lamp.yaml" || got[1] != "/room/north.yaml" {
		t.Errorf("ExpandGlob = %v", got)
	}
	if got := w.ExpandGlob("/../*"); len(got) != 0 {
		t.Errorf("glob escaped the library: %v", got)
	}
}

func TestExpandPath(t *testing.T) {
	w := newTestEnv(t).w
	tests := map[string]string{
		"~/obj/x":     "/w/alice/obj/x",
		"~bob/x":      "/w/bob/x",
		"/std/room":   "/std/room",
		"sword":       "/w/alice/sword",
		"../bob/item": "/w/bob/item",
	}
	for in, want := range tests {
		if got := w.ExpandPath(1, in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
	if got := w.ExpandPath(4, "x"); got != "/x" {
		t.Errorf("no cwd: got %q", got)
	}
}

func TestMutations(t *testing.T) {
	w := newTestEnv(t).w

	if err := w.Move(2, 0); err != nil {
		t.Fatal(err)
	}
	if inv := w.Inventory(1); len(inv) != 1 || inv[0] != 3 {
		t.Errorf("after move Alice has %v", inv)
	}
	if err := w.Move(2, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("move into missing: %v", err)
	}

	clone, err := w.Clone("/obj/lamp", 1)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if w.Environment(clone) != 1 || w.ProgramName(clone) != "/obj/lamp" {
		t.Error("clone not placed")
	}
	if w.FindObject("/obj/lamp") == clone {
		t.Error("FindObject returned the clone instead of the master")
	}
	if n := len(w.FindObjects("/obj/lamp")); n != 2 {
		t.Errorf("FindObjects(/obj/lamp) = %d objects, want master and clone", n)
	}

	if err := w.Destroy(1); err != nil {
		t.Fatal(err)
	}
	if w.Valid(1) {
		t.Error("destroyed object still valid")
	}
	if w.Valid(3) && w.Environment(3) != gamedb.Nothing {
		t.Error("contents of a destroyed object kept their environment")
	}
	if err := w.Destroy(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("double destroy: %v", err)
	}

	ref := w.Create(&gamedb.Object{DBRef: gamedb.Nothing, Name: "cloak", Type: gamedb.TypeShadow, Location: gamedb.Nothing, Shadowing: gamedb.Nothing})
	if err := w.AddShadow(4, ref); err != nil {
		t.Fatal(err)
	}
	if sh := w.Shadows(4); len(sh) != 1 || sh[0] != ref {
		t.Errorf("Shadows = %v", sh)
	}

	if err := w.SetInteractive(4, true, "gob.example.net"); err != nil {
		t.Fatal(err)
	}
	if !w.IsInteractive(4) || w.Hostname(4) != "gob.example.net" {
		t.Error("SetInteractive not applied")
	}
}

// recordingStore is a Persister that remembers what it was given.
type recordingStore struct {
	put     map[gamedb.DBRef]int
	deleted []gamedb.DBRef
	fail    bool
}

func (r *recordingStore) PutObject(obj *gamedb.Object) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.put[obj.DBRef]++
	return nil
}

func (r *recordingStore) DeleteObject(ref gamedb.DBRef) error {
	r.deleted = append(r.deleted, ref)
	return nil
}

func TestMutationsPersist(t *testing.T) {
	env := newTestEnv(t)
	rec := &recordingStore{put: make(map[gamedb.DBRef]int)}
	w := New(env.w.DB(), Options{LibDir: env.lib, Persist: rec})

	if err := w.Move(2, 0); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []gamedb.DBRef{2, 1, 0} {
		if rec.put[ref] != 1 {
			t.Errorf("Move wrote #%d %d time(s), want 1", ref, rec.put[ref])
		}
	}

	lamp, err := w.LoadFromFile("/obj/lamp")
	if err != nil {
		t.Fatal(err)
	}
	if rec.put[lamp] != 1 {
		t.Errorf("loaded master written %d time(s)", rec.put[lamp])
	}

	if err := w.Destroy(1); err != nil {
		t.Fatal(err)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1]", rec.deleted)
	}
	if rec.put[3] != 1 {
		t.Errorf("orphaned content #3 written %d time(s), want 1", rec.put[3])
	}

	// A failing store does not undo the change in memory.
	rec.fail = true
	if err := w.SetInteractive(4, true, "gob.example.net"); err != nil {
		t.Fatal(err)
	}
	if !w.IsInteractive(4) {
		t.Error("SetInteractive lost after a store failure")
	}
}

func TestCall(t *testing.T) {
	w := newTestEnv(t).w
	tests := []struct {
		ref  gamedb.DBRef
		name string
		args []any
		want any
	}{
		{1, "query_name", nil, "Alice"},
		{1, "query_real_name", nil, "alice"},
		{1, "query_gender", nil, "female"},
		{1, "query_score", nil, 12},
		{1, "query_cwd", nil, "/w/alice"},
		{1, "query_unset", nil, nil},
		{2, "id", []any{"light"}, 1},
		{2, "id", []any{"lamp"}, 0},
		{3, "short", nil, "a spare torch"},
		{2, "query_short", nil, "torch"},
		{4, "living", nil, 1},
		{2, "query_environment", nil, gamedb.DBRef(1)},
		{4, "query_ip_name", nil, nil},
	}
	for _, tt := range tests {
		got, err := w.Call(tt.ref, tt.name, tt.args)
		if err != nil {
			t.Errorf("Call(#%d, %s): %v", tt.ref, tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Call(#%d, %s) = %#v, want %#v", tt.ref, tt.name, got, tt.want)
		}
	}

	if _, err := w.Call(1, "explode", nil); !errors.Is(err, ErrNoMethod) {
		t.Errorf("unknown method: %v", err)
	}
	if _, err := w.Call(1, "id", nil); err == nil {
		t.Error("missing argument accepted")
	}
	if _, err := w.Call(42, "query_name", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("dead ref: %v", err)
	}
	if !HasMethod("query_short") || HasMethod("explode") {
		t.Error("HasMethod wrong")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, name := range []string{"world.yaml", "world.yaml.zst"} {
		w := newTestEnv(t).w
		if err := w.Destroy(3); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(t.TempDir(), name)
		if err := w.SaveSnapshot(path); err != nil {
			t.Fatalf("%s: SaveSnapshot: %v", name, err)
		}
		db, err := LoadFile(path)
		if err != nil {
			t.Fatalf("%s: LoadFile: %v", name, err)
		}
		if len(db.Objects) != 4 {
			t.Errorf("%s: %d objects, want 4", name, len(db.Objects))
		}
		re := New(db, Options{})
		if inv := re.Inventory(1); len(inv) != 1 || inv[0] != 2 {
			t.Errorf("%s: Alice inventory = %v", name, inv)
		}
		if dest, ok := re.Exit(0, "down"); !ok || dest != "/room/cellar" {
			t.Errorf("%s: invisible exit lost", name)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	w := newTestEnv(t).w
	snap := w.Snapshot()
	snap.Objects[1].Props["cwd"] = "/tmp"
	snap.Objects[1].Contents = nil
	if v, _ := w.Call(1, "query_cwd", nil); v != "/w/alice" {
		t.Error("snapshot shares props with the world")
	}
	if len(w.Inventory(1)) != 2 {
		t.Error("snapshot shares contents with the world")
	}
	if snap.NextRef != 5 {
		t.Errorf("NextRef = %d", snap.NextRef)
	}
}

func TestWatchDropsBlueprint(t *testing.T) {
	env := newTestEnv(t)
	w := env.w
	if _, err := w.blueprint("/obj/lamp"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 4)
	if err := w.Watch(ctx, func(prog string) { changed <- prog }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	mustWrite(t, filepath.Join(env.lib, "obj", "lamp.yaml"), "name: brass lamp\n")
	select {
	case prog := <-changed:
		if prog != "/obj/lamp" {
			t.Errorf("changed program = %q", prog)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	bp, err := w.blueprint("/obj/lamp")
	if err != nil {
		t.Fatal(err)
	}
	if bp.Name != "brass lamp" {
		t.Errorf("blueprint not reloaded: %q", bp.Name)
	}
}
