package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
	"github.com/crystal-mush/ospec/pkg/ospec"
	"github.com/crystal-mush/ospec/pkg/world"
)

const shellWorld = `objects:
  - {ref: 0, type: room, name: Hall}
  - {ref: 1, type: player, name: Alice, location: 0, interactive: true, gender: female}
  - {ref: 2, name: torch, program: /obj/torch, location: 1}
  - {ref: 3, type: player, name: Bob, location: 0, interactive: true, gender: male}
`

func newShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	db, err := world.Decode([]byte(shellWorld))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w := world.New(db, world.Options{LibDir: t.TempDir()})
	out := &bytes.Buffer{}
	bus := events.NewBus()
	sh := &shell{
		res:   ospec.New(w, nil, ospec.Options{Bus: bus}),
		w:     w,
		actor: 1,
		out:   out,
		bus:   bus,
	}
	sh.watchActor()
	return sh, out
}

func TestShellEvaluate(t *testing.T) {
	sh, out := newShell(t)
	tests := map[string]string{
		"me":                        "#1 Alice\n",
		"i":                         "#2 torch (/obj/torch)\n",
		"me;here":                   "#1 Alice\n#0 Hall\n",
		"i:i":                       "No objects found: i:i\n",
		"   ":                       "",
		`u:f.!=.->query_name."x;y"`: "#1 Alice\n#3 Bob\n",
	}
	for line, want := range tests {
		out.Reset()
		if sh.exec(line) {
			t.Errorf("%q asked to quit", line)
		}
		if got := out.String(); got != want {
			t.Errorf("%q printed %q, want %q", line, got, want)
		}
	}
}

func TestShellCommands(t *testing.T) {
	sh, out := newShell(t)

	sh.exec(":set pals u")
	if !strings.Contains(out.String(), "$pals = 2 object(s)") {
		t.Errorf(":set output %q", out.String())
	}
	out.Reset()
	sh.exec("$pals")
	if out.String() != "#1 Alice\n#3 Bob\n" {
		t.Errorf("$pals printed %q", out.String())
	}
	out.Reset()
	sh.exec(":clear")
	if !strings.Contains(out.String(), "Cleared variables for #1 Alice") {
		t.Errorf(":clear printed %q", out.String())
	}
	if refs, ok := sh.res.Vars().Get(1, "pals"); ok {
		t.Errorf("$pals left after :clear: %v", refs)
	}
	out.Reset()
	sh.exec("$pals")
	if out.String() != "No objects found: $pals\n" {
		t.Errorf("$pals after :clear printed %q", out.String())
	}

	out.Reset()
	sh.exec(":set broken")
	if !strings.Contains(out.String(), "Usage") {
		t.Errorf(":set without spec printed %q", out.String())
	}

	out.Reset()
	sh.exec(":actor bob")
	if sh.actor != 3 {
		t.Fatalf("actor = %d after :actor bob", sh.actor)
	}
	out.Reset()
	sh.exec("me")
	if out.String() != "#3 Bob\n" {
		t.Errorf("me as Bob printed %q", out.String())
	}
	out.Reset()
	sh.exec(":actor #99")
	if sh.actor != 3 || !strings.Contains(out.String(), "No such actor") {
		t.Errorf("bad :actor accepted: actor=%d out=%q", sh.actor, out.String())
	}

	out.Reset()
	sh.exec(":find alice")
	if out.String() != "#1 Alice\n" {
		t.Errorf(":find printed %q", out.String())
	}

	out.Reset()
	sh.exec("f.(unbalanced")
	if !strings.Contains(out.String(), "ospec:") {
		t.Errorf("syntax error printed %q", out.String())
	}

	out.Reset()
	sh.exec(":history")
	if !strings.Contains(out.String(), "not enabled") {
		t.Errorf(":history printed %q", out.String())
	}

	out.Reset()
	sh.exec("help")
	if !strings.HasPrefix(out.String(), ospec.Help()) || !strings.Contains(out.String(), ":archive <dir>") {
		t.Error("help did not print the grammar and shell commands")
	}

	if !sh.exec("quit") || !sh.exec("exit") {
		t.Error("quit/exit did not stop the shell")
	}
}

func TestShellSave(t *testing.T) {
	sh, out := newShell(t)
	sh.exec(":save")
	if !strings.Contains(out.String(), "Usage") {
		t.Errorf(":save without store printed %q", out.String())
	}

	path := filepath.Join(t.TempDir(), "snap.yaml.zst")
	out.Reset()
	sh.exec(":save " + path)
	if !strings.Contains(out.String(), "Saved to") {
		t.Fatalf(":save printed %q", out.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	db, err := world.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(db.Objects) != 4 {
		t.Errorf("snapshot has %d objects", len(db.Objects))
	}
}

func TestShellBatch(t *testing.T) {
	sh, out := newShell(t)
	input := strings.Join([]string{
		"# comment",
		"me | #1",
		"i | #3",
		"i:i |",
		"u | #1   #3",
		"here",
		"f.(bad | #0",
		"## section",
		"#0 | #2",
		"#1 | #9",
	}, "\n")

	fails, err := sh.runBatch(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if fails != 3 {
		t.Errorf("fails = %d, want 3\n%s", fails, out.String())
	}
	got := out.String()
	for _, want := range []string{
		"[PASS] Line 2: me",
		"[FAIL] Line 3: i",
		"  Got:      #2",
		"[PASS] Line 4: i:i",
		"[PASS] Line 5: u",
		"Line 6: here => #0",
		"[FAIL] Line 7: f.(bad",
		"[PASS] Line 9: #0",
		"[FAIL] Line 10: #1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("batch output missing %q\n%s", want, got)
		}
	}
}

func TestRefList(t *testing.T) {
	if got := refList([]gamedb.DBRef{4, 10}); got != "#4 #10" {
		t.Errorf("refList = %q", got)
	}
	if got := refList(nil); got != "" {
		t.Errorf("refList(nil) = %q", got)
	}
}

func TestShellArchive(t *testing.T) {
	sh, out := newShell(t)
	dir := t.TempDir()

	sh.exec(":archive " + dir)
	if !strings.HasPrefix(out.String(), "Archived to ") {
		t.Fatalf(":archive printed %q", out.String())
	}
	out.Reset()
	sh.exec(":archives " + dir)
	if !strings.Contains(out.String(), "4 objects") {
		t.Errorf(":archives printed %q", out.String())
	}
	out.Reset()
	sh.exec(":archive")
	if !strings.Contains(out.String(), "Usage") {
		t.Errorf(":archive without dir printed %q", out.String())
	}
}

func TestShellWatchesActor(t *testing.T) {
	sh, out := newShell(t)

	sh.exec("me:->nosuch")
	got := out.String()
	if !strings.Contains(got, "warning: ->nosuch") || !strings.Contains(got, "No objects found") {
		t.Errorf("operator failure printed %q", got)
	}

	sh.exec(":actor bob")
	if n := sh.bus.ActorSubscribers(1); n != 0 {
		t.Errorf("old actor still has %d subscriber(s)", n)
	}
	if n := sh.bus.ActorSubscribers(3); n != 1 {
		t.Errorf("new actor has %d subscriber(s), want 1", n)
	}

	// Another actor's failures are not shown.
	out.Reset()
	sh.res.Evaluate(1, "me:->nosuch", nil, "")
	if strings.Contains(out.String(), "warning") {
		t.Errorf("saw another actor's failure: %q", out.String())
	}

	sh.close()
	if n := sh.bus.ActorSubscribers(3); n != 0 {
		t.Errorf("close left %d subscriber(s)", n)
	}
}
