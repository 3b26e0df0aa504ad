package ospec

import (
	"log"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// evaluation is the state of one top-level Evaluate call.
type evaluation struct {
	r     *Resolver
	actor gamedb.DBRef
	depth int
}

func (ev *evaluation) world() World {
	return ev.r.world
}

// evaluate resolves a whole spec. Nested sub-specs come back through here
// and count against the depth limit.
func (ev *evaluation) evaluate(spec string, prev []gamedb.DBRef, priorities string) ([]gamedb.DBRef, error) {
	if spec == "" {
		return nil, nil
	}
	ev.depth++
	defer func() { ev.depth-- }()
	if ev.depth > ev.r.opts.MaxDepth {
		return nil, ErrRecursionLimit
	}
	if priorities == "" {
		priorities = ev.r.opts.Priorities
	}

	spec, err := unnest(spec)
	if err != nil {
		return nil, err
	}
	groups, err := SplitNested(spec, GroupDelim, DefaultOpen, DefaultClose)
	if err != nil {
		return nil, err
	}

	var list []gamedb.DBRef
	for _, g := range groups {
		sub, err := ev.subspec(g, prev, priorities)
		if err != nil {
			return nil, err
		}
		list = append(list, sub...)
	}
	return ev.valid(list), nil
}

// subspec folds the colon-separated terms of one group left to right.
func (ev *evaluation) subspec(group string, prev []gamedb.DBRef, priorities string) ([]gamedb.DBRef, error) {
	terms, err := SplitNested(group, TermDelim, DefaultOpen, DefaultClose)
	if err != nil {
		return nil, err
	}
	if len(terms) == 1 {
		inner, err := unnest(group)
		if err != nil {
			return nil, err
		}
		if inner != group {
			return ev.evaluate(inner, nil, priorities)
		}
	}

	first := false
	if prev == nil {
		first = true
		prev = ev.self()
	}
	for _, term := range terms {
		if term == "" {
			continue
		}
		prev, err = ev.single(term, ev.valid(prev), first, priorities)
		if err != nil {
			return nil, err
		}
		first = false
	}
	return prev, nil
}

// single resolves one term against prev.
func (ev *evaluation) single(term string, prev []gamedb.DBRef, first bool, priorities string) ([]gamedb.DBRef, error) {
	if term == "" {
		return prev, nil
	}
	pieces, err := SplitNested(term, InternalDelim, DefaultOpen, DefaultClose)
	if err != nil {
		return nil, err
	}

	if len(pieces) == 1 {
		inner, err := unnest(term)
		if err != nil {
			return nil, err
		}
		if inner != term {
			return ev.evaluate(inner, nil, priorities)
		}

		if op, ok := exactOps[term]; ok {
			return op(ev, prev, term, first)
		}

		// Numeric prefixes win over string prefixes: "#3" is never "#" + "3".
		if i := strings.IndexAny(term, "0123456789"); i >= 0 {
			if op, ok := numberOps[term[:i]]; ok {
				return op(ev, prev, leadingInt(term[i:])), nil
			}
		}

		for n := min(len(term), maxPrefixLen); n > 0; n-- {
			if op, ok := prefixOps[term[:n]]; ok {
				return op(ev, prev, term[n:], first, priorities)
			}
		}

		if refs, ok := slice(term, prev); ok {
			return refs, nil
		}
	} else if op, ok := normalOps[pieces[0]]; ok {
		return op(ev, prev, pieces, first, priorities)
	}

	if strings.Contains(term, "/") || strings.HasSuffix(term, ev.world().SourceSuffix()) {
		return ev.resolveFilespec(term, true)
	}

	if !first {
		w := ev.world()
		return ev.mapOne(prev, func(ref gamedb.DBRef) gamedb.DBRef {
			return w.Present(term, ref)
		}), nil
	}

	return ev.findTargets(term, priorities, ev.r.opts.Quiet)
}

// slice handles index literals: [n], [a..b], [a..<b] and [a..]. Indexes
// out of range are clamped; a single index out of range is empty.
func slice(term string, prev []gamedb.DBRef) ([]gamedb.DBRef, bool) {
	if len(term) < 3 || term[0] != '[' || term[len(term)-1] != ']' {
		return nil, false
	}
	body := term[1 : len(term)-1]
	lo, hi, isRange := strings.Cut(body, "..")
	a, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return nil, false
	}
	if !isRange {
		if a < 0 || a >= len(prev) {
			return []gamedb.DBRef{}, true
		}
		return []gamedb.DBRef{prev[a]}, true
	}

	end := len(prev)
	hi = strings.TrimSpace(hi)
	switch {
	case hi == "":
	case strings.HasPrefix(hi, "<"):
		b, err := strconv.Atoi(strings.TrimSpace(hi[1:]))
		if err != nil {
			return nil, false
		}
		end = b
	default:
		b, err := strconv.Atoi(hi)
		if err != nil {
			return nil, false
		}
		end = b + 1
	}
	a = max(a, 0)
	end = min(end, len(prev))
	if a >= end {
		return []gamedb.DBRef{}, true
	}
	return append([]gamedb.DBRef(nil), prev[a:end]...), true
}

// leadingInt parses the decimal digits at the start of s.
func leadingInt(s string) int {
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// self is the default context: the actor alone, if it is still live.
func (ev *evaluation) self() []gamedb.DBRef {
	if ev.world().Valid(ev.actor) {
		return []gamedb.DBRef{ev.actor}
	}
	return []gamedb.DBRef{}
}

// valid drops refs that are no longer live. It always returns a new slice.
func (ev *evaluation) valid(refs []gamedb.DBRef) []gamedb.DBRef {
	return validRefs(ev.world(), refs)
}

func (ev *evaluation) flatMap(prev []gamedb.DBRef, f func(gamedb.DBRef) []gamedb.DBRef) []gamedb.DBRef {
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		out = append(out, f(ref)...)
	}
	return out
}

func (ev *evaluation) mapOne(prev []gamedb.DBRef, f func(gamedb.DBRef) gamedb.DBRef) []gamedb.DBRef {
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		if r := f(ref); r != gamedb.Nothing {
			out = append(out, r)
		}
	}
	return out
}

func (ev *evaluation) filter(prev []gamedb.DBRef, keep func(gamedb.DBRef) bool) []gamedb.DBRef {
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		if keep(ref) {
			out = append(out, ref)
		}
	}
	return out
}

// gone reports whether ref was destroyed after the operator started.
// Per-candidate failures on such refs drop the ref, not the whole set.
func (ev *evaluation) gone(ref gamedb.DBRef) bool {
	return !ev.world().Valid(ref)
}

// fail records an operator that degraded to an empty set.
func (ev *evaluation) fail(op string, err error) []gamedb.DBRef {
	log.Printf("ospec: %s: %v", op, err)
	ev.r.emit(events.Event{
		Type:  events.EvOpFailure,
		Actor: ev.actor,
		Op:    op,
		Err:   err.Error(),
	})
	return []gamedb.DBRef{}
}
