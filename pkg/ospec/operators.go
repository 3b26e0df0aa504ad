package ospec

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

type (
	// exactOp handles a term that matches a keyword in full.
	exactOp func(ev *evaluation, prev []gamedb.DBRef, term string, first bool) ([]gamedb.DBRef, error)
	// numberOp handles a prefix followed by an index, as in "#3" or "s-1".
	numberOp func(ev *evaluation, prev []gamedb.DBRef, n int) []gamedb.DBRef
	// prefixOp handles a prefix followed by a free-form argument.
	prefixOp func(ev *evaluation, prev []gamedb.DBRef, arg string, first bool, priorities string) ([]gamedb.DBRef, error)
	// normalOp handles a dotted term; args[0] is the operator name.
	normalOp func(ev *evaluation, prev []gamedb.DBRef, args []string, first bool, priorities string) ([]gamedb.DBRef, error)
)

// maxPrefixLen is the longest key in prefixOps.
const maxPrefixLen = 2

const maxOrdLevel = 999

// Operator tables. Filled once by init and read-only afterwards.
var (
	exactOps  = make(map[string]exactOp)
	numberOps = make(map[string]numberOp)
	prefixOps = make(map[string]prefixOp)
	normalOps = make(map[string]normalOp)
)

func init() {
	registerExact()
	registerNumber()
	registerPrefix()
	registerNormal()
}

func registerExact() {
	exactOps["me"] = func(ev *evaluation, _ []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.self(), nil
	}
	exactOps["here"] = func(ev *evaluation, _ []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.mapOne([]gamedb.DBRef{ev.actor}, ev.world().Environment), nil
	}
	pronounOp := func(ev *evaluation, _ []gamedb.DBRef, term string, _ bool) ([]gamedb.DBRef, error) {
		refs, _ := ev.r.vars.Get(ev.actor, term)
		return refs, nil
	}
	for _, p := range []string{"it", "him", "her", "them"} {
		exactOps[p] = pronounOp
	}

	// Transformations
	exactOps["u"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, first bool) ([]gamedb.DBRef, error) {
		if first {
			return ev.world().Users(), nil
		}
		return ev.filter(prev, ev.world().IsInteractive), nil
	}
	exactOps["l"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, first bool) ([]gamedb.DBRef, error) {
		if first {
			return ev.world().Livings(), nil
		}
		return ev.filter(prev, ev.world().IsLiving), nil
	}
	exactOps["m"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, first bool) ([]gamedb.DBRef, error) {
		if first {
			prev = ev.world().Users()
		}
		return ev.levelRange(prev, 0, 0), nil
	}
	exactOps["w"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, first bool) ([]gamedb.DBRef, error) {
		if first {
			prev = ev.world().Users()
		}
		return ev.levelRange(prev, ev.r.opts.WizardMin, ev.r.opts.WizardMax), nil
	}
	exactOps["i"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.flatMap(prev, ev.world().Inventory), nil
	}
	exactOps["I"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.flatMap(prev, ev.world().DeepInventory), nil
	}
	exactOps["s"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.flatMap(prev, ev.world().Shadows), nil
	}
	exactOps["e"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.mapOne(prev, ev.world().Environment), nil
	}
	exactOps["E"] = func(ev *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return ev.flatMap(prev, ev.world().AllEnvironments), nil
	}

	// Reductions
	exactOps["!="] = func(_ *evaluation, prev []gamedb.DBRef, _ string, _ bool) ([]gamedb.DBRef, error) {
		return unique(prev), nil
	}
}

func registerNumber() {
	inv := func(ev *evaluation, prev []gamedb.DBRef, n int) []gamedb.DBRef {
		return ev.mapOne(prev, func(ref gamedb.DBRef) gamedb.DBRef {
			return checkedItem(ev.world().Inventory(ref), n)
		})
	}
	numberOps["#"] = inv
	numberOps["i"] = inv

	// Shadows counted from the bottom of the chain.
	numberOps["s"] = func(ev *evaluation, prev []gamedb.DBRef, n int) []gamedb.DBRef {
		return ev.mapOne(prev, func(ref gamedb.DBRef) gamedb.DBRef {
			return checkedItem(ev.world().Shadows(ref), n)
		})
	}
	// Shadows counted from the top.
	numberOps["s-"] = func(ev *evaluation, prev []gamedb.DBRef, n int) []gamedb.DBRef {
		return ev.mapOne(prev, func(ref gamedb.DBRef) gamedb.DBRef {
			sh := ev.world().Shadows(ref)
			return checkedItem(sh, len(sh)-1-n)
		})
	}
}

func registerPrefix() {
	prefixOps["*"] = func(ev *evaluation, _ []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return single(ev.world().FindPlayer(arg)), nil
	}
	prefixOps["@"] = func(ev *evaluation, _ []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return single(ev.world().FindLiving(arg)), nil
	}
	prefixOps["$"] = func(ev *evaluation, _ []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		refs, _ := ev.r.vars.Get(ev.actor, arg)
		return refs, nil
	}
	prefixOps["#'"] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		fn, ok := symbols[arg]
		if !ok {
			return ev.fail("#'"+arg, fmt.Errorf("unknown symbol %q", arg)), nil
		}
		var out []gamedb.DBRef
		for _, ref := range prev {
			out = append(out, refsOf(fn(ev.world(), ref))...)
		}
		return out, nil
	}
	prefixOps["->"] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.funcall(prev, arg)
	}

	// Set arithmetic against a sub-spec resolved from the actor.
	prefixOps["+"] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, priorities string) ([]gamedb.DBRef, error) {
		more, err := ev.evaluate(arg, nil, priorities)
		if err != nil {
			return nil, err
		}
		return append(append([]gamedb.DBRef{}, prev...), more...), nil
	}
	prefixOps["!="] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, priorities string) ([]gamedb.DBRef, error) {
		drop, err := ev.evaluate(arg, nil, priorities)
		if err != nil {
			return nil, err
		}
		return unique(exclude(prev, drop)), nil
	}
	prefixOps["=="] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, priorities string) ([]gamedb.DBRef, error) {
		keep, err := ev.evaluate(arg, nil, priorities)
		if err != nil {
			return nil, err
		}
		return intersect(prev, keep), nil
	}

	// OrdLevel ranges
	prefixOps[">"] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		lvl, ok := ev.world().OrdLevel(arg)
		if !ok {
			return ev.fail(">", fmt.Errorf("unknown level %q", arg)), nil
		}
		return ev.levelRange(prev, lvl+1, maxOrdLevel), nil
	}
	prefixOps["<"] = func(ev *evaluation, prev []gamedb.DBRef, arg string, _ bool, _ string) ([]gamedb.DBRef, error) {
		lvl, ok := ev.world().OrdLevel(arg)
		if !ok {
			return ev.fail("<", fmt.Errorf("unknown level %q", arg)), nil
		}
		return ev.levelRange(prev, 0, lvl-1), nil
	}
}

func registerNormal() {
	// Room exits: x.north, or x.! for all of them.
	normalOps["x"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, first bool, _ string) ([]gamedb.DBRef, error) {
		w := ev.world()
		if first {
			prev = ev.mapOne([]gamedb.DBRef{ev.actor}, w.Environment)
		}
		var dests []string
		for _, room := range prev {
			if args[1] == "!" {
				dests = append(dests, w.Exits(room)...)
			} else if dest, ok := w.Exit(room, args[1]); ok {
				dests = append(dests, dest)
			}
		}
		return ev.forceLoad(dests), nil
	}
	normalOps["f"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.filterBy(prev, args[1:])
	}
	normalOps["sort"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.sortBy(prev, args[1:], true)
	}
	normalOps["sort-"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.sortBy(prev, args[1:], false)
	}
	normalOps["mapfile"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, first bool, priorities string) ([]gamedb.DBRef, error) {
		return ev.mapfile(prev, args, first, priorities)
	}

	// id.X is f.->id(X), prop.X is f.->test_prop(X).
	normalOps["id"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.filterMethod(prev, "id", args[1])
	}
	normalOps["prop"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		return ev.filterMethod(prev, "test_prop", args[1])
	}
	normalOps["prog"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, _ bool, _ string) ([]gamedb.DBRef, error) {
		w := ev.world()
		want := strings.TrimSuffix(path.Clean("/"+args[1]), w.SourceSuffix())
		return ev.filter(prev, func(ref gamedb.DBRef) bool {
			return w.ProgramName(ref) == want
		}), nil
	}

	// Hostname regexp; the pattern may itself contain dots.
	normalOps["ip"] = func(ev *evaluation, prev []gamedb.DBRef, args []string, first bool, _ string) ([]gamedb.DBRef, error) {
		w := ev.world()
		if first {
			prev = w.Users()
		}
		pattern := strings.Join(args[1:], InternalDelim)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return ev.fail("ip", err), nil
		}
		return ev.filter(prev, func(ref gamedb.DBRef) bool {
			return w.IsInteractive(ref) && re.MatchString(strings.ToLower(w.Hostname(ref)))
		}), nil
	}

	// Users, or the current set, within an OrdLevel range.
	level := func(ev *evaluation, prev []gamedb.DBRef, args []string, first bool, _ string) ([]gamedb.DBRef, error) {
		w := ev.world()
		if first {
			prev = w.Users()
		}
		lo, ok := w.OrdLevel(args[1])
		if !ok {
			return ev.fail(args[0], fmt.Errorf("unknown level %q", args[1])), nil
		}
		hi := lo
		if len(args) > 2 {
			if hi, ok = w.OrdLevel(args[2]); !ok {
				return ev.fail(args[0], fmt.Errorf("unknown level %q", args[2])), nil
			}
		}
		return ev.levelRange(prev, lo, hi), nil
	}
	normalOps["u"] = level
	normalOps["level"] = level
}

func (ev *evaluation) levelRange(prev []gamedb.DBRef, lo, hi int) []gamedb.DBRef {
	w := ev.world()
	return ev.filter(prev, func(ref gamedb.DBRef) bool {
		l := w.Level(ref)
		return l >= lo && l <= hi
	})
}

// forceLoad loads each program, dropping those that fail.
func (ev *evaluation) forceLoad(programs []string) []gamedb.DBRef {
	out := []gamedb.DBRef{}
	for _, p := range programs {
		ref, err := ev.world().LoadFromFile(p)
		if err != nil {
			ev.fail("load "+p, err)
			continue
		}
		out = append(out, ref)
	}
	return out
}

func (ev *evaluation) filterMethod(prev []gamedb.DBRef, method, arg string) ([]gamedb.DBRef, error) {
	w := ev.world()
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		v, err := w.Call(ref, method, []any{arg})
		if err != nil {
			if ev.gone(ref) {
				continue
			}
			return ev.fail(method, err), nil
		}
		if truthy(v) {
			out = append(out, ref)
		}
	}
	return out, nil
}

func checkedItem(list []gamedb.DBRef, i int) gamedb.DBRef {
	if i < 0 || i >= len(list) {
		return gamedb.Nothing
	}
	return list[i]
}

func single(ref gamedb.DBRef) []gamedb.DBRef {
	if ref == gamedb.Nothing {
		return []gamedb.DBRef{}
	}
	return []gamedb.DBRef{ref}
}

// unique drops repeats, keeping the first occurrence.
func unique(refs []gamedb.DBRef) []gamedb.DBRef {
	seen := make(map[gamedb.DBRef]bool, len(refs))
	out := make([]gamedb.DBRef, 0, len(refs))
	for _, ref := range refs {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

func exclude(refs, drop []gamedb.DBRef) []gamedb.DBRef {
	gone := make(map[gamedb.DBRef]bool, len(drop))
	for _, ref := range drop {
		gone[ref] = true
	}
	out := make([]gamedb.DBRef, 0, len(refs))
	for _, ref := range refs {
		if !gone[ref] {
			out = append(out, ref)
		}
	}
	return out
}

// intersect keeps the members of refs that appear in keep, in refs order.
func intersect(refs, keep []gamedb.DBRef) []gamedb.DBRef {
	in := make(map[gamedb.DBRef]bool, len(keep))
	for _, ref := range keep {
		in[ref] = true
	}
	out := make([]gamedb.DBRef, 0, len(refs))
	for _, ref := range refs {
		if in[ref] {
			out = append(out, ref)
		}
	}
	return out
}
