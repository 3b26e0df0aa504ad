package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/archive"
	"github.com/crystal-mush/ospec/pkg/boltstore"
	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
	"github.com/crystal-mush/ospec/pkg/history"
	"github.com/crystal-mush/ospec/pkg/ospec"
	"github.com/crystal-mush/ospec/pkg/world"
)

// shell runs ospecs typed at a prompt or read from a batch file.
type shell struct {
	res        *ospec.Resolver
	w          *world.World
	store      *boltstore.Store // optional
	hist       *history.Log     // optional
	actor      gamedb.DBRef
	priorities string
	confPath   string // optional, bundled by :archive
	out        io.Writer

	bus   *events.Bus // optional
	watch *actorWatch
}

// actorWatch prints the current actor's operator failures, which
// otherwise only show up as an empty result.
type actorWatch struct {
	out    io.Writer
	closed bool
}

func (a *actorWatch) Receive(ev events.Event) {
	if ev.Type == events.EvOpFailure {
		fmt.Fprintf(a.out, "warning: %s: %s\n", ev.Op, ev.Err)
	}
}

func (a *actorWatch) Closed() bool { return a.closed }

// watchActor subscribes the shell to its actor's events.
func (s *shell) watchActor() {
	if s.bus == nil {
		return
	}
	if s.watch == nil {
		s.watch = &actorWatch{out: s.out}
	}
	s.bus.Subscribe(s.actor, s.watch)
}

// close drops the shell's subscription.
func (s *shell) close() {
	if s.bus == nil || s.watch == nil {
		return
	}
	s.watch.closed = true
	s.bus.Cleanup()
}

const shellHelp = `
Shell commands:
  :set <name> <ospec>   bind the result to $name
  :actor <#n|name>      switch actor
  :find <name>          heuristic lookup only
  :file <path>          resolve a file spec
  :history [n]          recent resolutions for the actor
  :clear                drop the actor's variables
  :save [path]          snapshot the world (bolt store if no path)
  :archive <dir>        write a deployment archive
  :archives <dir>       list archives
  quit                  leave
`

// exec handles one input line and reports whether the shell should exit.
func (s *shell) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg := splitCommand(line)
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprint(s.out, ospec.Help())
		fmt.Fprint(s.out, shellHelp)
	case ":set":
		s.set(arg)
	case ":save":
		s.save(arg)
	case ":actor":
		s.setActor(arg)
	case ":find":
		refs, err := s.res.FindTargets(s.actor, arg, s.priorities, false)
		s.print(arg, refs, err)
	case ":file":
		refs, err := s.res.ResolveFilespec(s.actor, arg, false)
		s.print(arg, refs, err)
	case ":history":
		s.showHistory(arg)
	case ":clear":
		s.clearVars()
	case ":archive":
		s.archive(arg)
	case ":archives":
		s.listArchives(arg)
	default:
		specs, err := ospec.SplitNested(line, ";", ospec.DefaultOpen, ospec.DefaultClose)
		if err != nil {
			// Let Evaluate report it, or swallow it when quiet.
			specs = []string{line}
		}
		for _, spec := range specs {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			refs, err := s.res.Evaluate(s.actor, spec, nil, s.priorities)
			s.print(spec, refs, err)
		}
	}
	return false
}

func splitCommand(line string) (string, string) {
	if line[0] != ':' && line != "help" && line != "quit" && line != "exit" {
		return "", line
	}
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (s *shell) print(spec string, refs []gamedb.DBRef, err error) {
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	if len(refs) == 0 {
		fmt.Fprintf(s.out, "No objects found: %s\n", spec)
		return
	}
	for _, ref := range refs {
		fmt.Fprintln(s.out, s.describe(ref))
	}
}

// describe renders "#12 torch (/obj/torch)".
func (s *shell) describe(ref gamedb.DBRef) string {
	desc := fmt.Sprintf("#%d %s", ref, s.w.Name(ref))
	if prog := s.w.ProgramName(ref); prog != "" {
		desc += " (" + prog + ")"
	}
	return desc
}

// set evaluates ":set name spec" and binds the result to name.
func (s *shell) set(arg string) {
	name, spec, ok := strings.Cut(arg, " ")
	if !ok || name == "" || strings.TrimSpace(spec) == "" {
		fmt.Fprintln(s.out, "Usage: :set <name> <ospec>")
		return
	}
	refs, err := s.res.Evaluate(s.actor, strings.TrimSpace(spec), nil, s.priorities)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	if err := s.res.SetVariable(s.actor, name, refs); err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	fmt.Fprintf(s.out, "$%s = %d object(s)\n", name, len(refs))
}

// save writes a world snapshot to a file, or to the bolt store when no
// path is given.
func (s *shell) save(path string) {
	if path == "" {
		if s.store == nil {
			fmt.Fprintln(s.out, "Usage: :save <path> (no bolt store configured)")
			return
		}
		if err := s.store.SaveDatabase(s.w.Snapshot()); err != nil {
			fmt.Fprintln(s.out, err)
			return
		}
		fmt.Fprintf(s.out, "Saved to %s\n", s.store.Path())
		return
	}
	if err := s.w.SaveSnapshot(path); err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	fmt.Fprintf(s.out, "Saved to %s\n", path)
}

// archive bundles the world, the bolt store, the history log, the config
// and the object library into dir.
func (s *shell) archive(dir string) {
	if dir == "" {
		fmt.Fprintln(s.out, "Usage: :archive <dir>")
		return
	}
	p := archive.Params{
		WorldSnapshotFunc: s.w.SaveSnapshot,
		ConfPath:          s.confPath,
		LibDir:            s.w.LibDir(),
		ArchiveDir:        dir,
		ObjectCount:       s.w.Len(),
	}
	if s.store != nil {
		p.BoltSnapshotFunc = s.store.Backup
	}
	if s.hist != nil {
		p.HistoryPath = s.hist.Path()
	}
	path, err := archive.Create(p)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	fmt.Fprintf(s.out, "Archived to %s\n", path)
}

func (s *shell) listArchives(dir string) {
	if dir == "" {
		fmt.Fprintln(s.out, "Usage: :archives <dir>")
		return
	}
	list, err := archive.List(dir)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintf(s.out, "No archives in %s\n", dir)
		return
	}
	for _, a := range list {
		fmt.Fprintf(s.out, "%s  %s  %d objects  %d bytes\n", a.Filename, a.Timestamp, a.Objects, a.Size)
	}
}

// setActor accepts "#3", "3" or a player name.
func (s *shell) setActor(arg string) {
	ref := gamedb.Nothing
	if n, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
		ref = gamedb.DBRef(n)
	} else {
		ref = s.w.FindPlayer(arg)
	}
	if !s.w.Valid(ref) {
		fmt.Fprintf(s.out, "No such actor: %s\n", arg)
		return
	}
	if s.watch != nil {
		s.bus.Unsubscribe(s.actor, s.watch)
	}
	s.actor = ref
	s.watchActor()
	fmt.Fprintf(s.out, "Actor is now %s\n", s.describe(ref))
}

// clearVars drops every variable bound by the current actor.
func (s *shell) clearVars() {
	c, ok := s.res.Vars().(interface {
		ClearActor(actor gamedb.DBRef) error
	})
	if !ok {
		fmt.Fprintln(s.out, "Variables cannot be cleared.")
		return
	}
	if err := c.ClearActor(s.actor); err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	fmt.Fprintf(s.out, "Cleared variables for %s\n", s.describe(s.actor))
}

func (s *shell) showHistory(arg string) {
	if s.hist == nil {
		fmt.Fprintln(s.out, "History is not enabled.")
		return
	}
	limit, _ := strconv.Atoi(arg)
	entries, err := s.hist.Recent(s.actor, limit)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		text := e.Spec
		if e.Kind == "op_failure" {
			text = e.Op + ": " + e.Err
		}
		fmt.Fprintf(s.out, "%s %-12s %s => %s\n", e.Time.Format("15:04:05"), e.Kind, text, refList(e.Refs))
	}
}

// runBatch evaluates one line at a time. A line may carry the expected
// result after " | " as a ref list ("#1 #4", or empty for none); those
// lines report PASS or FAIL. It returns the number of failures.
func (s *shell) runBatch(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	lineNum, fails := 0, 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isComment(line) {
			continue
		}
		spec, expected, check := strings.Cut(line, " | ")
		if !check && strings.HasSuffix(line, " |") {
			spec, check = strings.TrimSuffix(line, " |"), true
		}
		spec = strings.TrimSpace(spec)
		refs, err := s.res.Evaluate(s.actor, spec, nil, s.priorities)
		got := refList(refs)
		if err != nil {
			got = "error: " + strings.SplitN(err.Error(), "\n", 2)[0]
		}

		if !check {
			fmt.Fprintf(s.out, "Line %d: %s => %s\n", lineNum, spec, got)
			continue
		}
		expected = strings.Join(strings.Fields(expected), " ")
		if got == expected {
			fmt.Fprintf(s.out, "[PASS] Line %d: %s\n", lineNum, spec)
			continue
		}
		fails++
		fmt.Fprintf(s.out, "[FAIL] Line %d: %s\n", lineNum, spec)
		fmt.Fprintf(s.out, "  Expected: %s\n", expected)
		fmt.Fprintf(s.out, "  Got:      %s\n", got)
	}
	return fails, scanner.Err()
}

// isComment accepts "#", "# text" and "##..."; "#0" and "#'name" are
// ospecs.
func isComment(line string) bool {
	return line == "#" || strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "##")
}

func refList(refs []gamedb.DBRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = "#" + strconv.Itoa(int(r))
	}
	return strings.Join(parts, " ")
}
