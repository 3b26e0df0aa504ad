package ospec

import (
	"fmt"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// Priority characters for heuristic resolution.
const (
	FindPlayerChar = 'p'
	FindLivingChar = 'l'
	FindObjectChar = 'o'
	FileChar       = 'f'
	InvItemChar    = 'i'
	EnvItemChar    = 'e'
)

// FindTargets resolves a bare name by trying each strategy in priorities
// in turn and returning the first that finds anything. An unknown
// priority character is ErrBadPriority unless quiet.
func (r *Resolver) FindTargets(actor gamedb.DBRef, spec, priorities string, quiet bool) ([]gamedb.DBRef, error) {
	if priorities == "" {
		priorities = r.opts.Priorities
	}
	ev := &evaluation{r: r, actor: actor}
	return ev.findTargets(spec, priorities, quiet)
}

// FindTarget is FindTargets reduced to one object, or Nothing.
func (r *Resolver) FindTarget(actor gamedb.DBRef, spec, priorities string) (gamedb.DBRef, error) {
	refs, err := r.FindTargets(actor, spec, priorities, false)
	if err != nil || len(refs) == 0 {
		return gamedb.Nothing, err
	}
	return refs[0], nil
}

// ResolveFilespec finds the objects a file spec names. "path*" lists
// loaded objects whose program starts with path; otherwise a loaded
// master, then every file the pattern matches (loading each), then
// path plus the source suffix. Missing files are ErrNoFile unless quiet.
func (r *Resolver) ResolveFilespec(actor gamedb.DBRef, arg string, quiet bool) ([]gamedb.DBRef, error) {
	ev := &evaluation{r: r, actor: actor}
	return ev.resolveFilespec(arg, quiet)
}

func (ev *evaluation) findTargets(spec, priorities string, quiet bool) ([]gamedb.DBRef, error) {
	w := ev.world()
	for i := 0; i < len(priorities); i++ {
		var refs []gamedb.DBRef
		switch priorities[i] {
		case FindPlayerChar:
			refs = single(w.FindPlayer(spec))
		case FindLivingChar:
			refs = single(w.FindLiving(spec))
		case FindObjectChar:
			refs = single(w.FindGeneric(spec))
		case FileChar:
			refs, _ = ev.resolveFilespec(spec, true)
		case InvItemChar:
			refs = single(w.Present(spec, ev.actor))
		case EnvItemChar:
			if env := w.Environment(ev.actor); env != gamedb.Nothing {
				refs = single(w.Present(spec, env))
			}
		default:
			if quiet {
				return []gamedb.DBRef{}, nil
			}
			return nil, fmt.Errorf("%w: %q", ErrBadPriority, priorities)
		}
		if len(refs) > 0 {
			return refs, nil
		}
	}
	return []gamedb.DBRef{}, nil
}

func (ev *evaluation) resolveFilespec(arg string, quiet bool) ([]gamedb.DBRef, error) {
	w := ev.world()
	p := w.ExpandPath(ev.actor, arg)

	if prefix, ok := strings.CutSuffix(p, "*"); ok {
		return w.FindObjects(prefix), nil
	}
	if ref := w.FindObject(p); ref != gamedb.Nothing {
		return []gamedb.DBRef{ref}, nil
	}

	var files []string
	for _, f := range w.ExpandGlob(p) {
		if strings.HasSuffix(f, w.SourceSuffix()) {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		return ev.forceLoad(files), nil
	}

	if strings.ContainsAny(p, "*?[") {
		if quiet {
			return []gamedb.DBRef{}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoFile, p)
	}
	if w.FileExists(p + w.SourceSuffix()) {
		return ev.forceLoad([]string{p}), nil
	}
	if quiet {
		return []gamedb.DBRef{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFile, p)
}
