package ospec

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// errBadFilter marks a filter expression that could not be compiled.
// It degrades the operator to an empty set; it never aborts a spec.
var errBadFilter = errors.New("bad filter expression")

var callSyntax = regexp.MustCompile(`(?s)^[A-Za-z_][A-Za-z0-9_]*\(.*\)$`)

// candidate is what a compiled filter sees: one object and the list it
// was drawn from.
type candidate struct {
	ref  gamedb.DBRef
	list []gamedb.DBRef
}

// value produces one operand of a filter expression.
type value func(c candidate) (any, error)

func constant(v any) value {
	return func(candidate) (any, error) { return v, nil }
}

// compileValue parses one operand:
//
//	THISO, LIST         the candidate, the candidate list
//	->name(args), ->name, name(args)
//	                    method call on the candidate
//	#'name              symbol function applied to the candidate
//	"text"              string
//	(spec)              resolved now, as a list
//	[spec]              resolved now, first element
//	123                 integer
//
// Anything else is a literal string.
func (ev *evaluation) compileValue(arg string) (value, error) {
	arg = strings.TrimSpace(arg)
	last := len(arg) - 1
	switch {
	case arg == "":
		return constant(""), nil
	case arg == "THISO":
		return func(c candidate) (any, error) { return c.ref, nil }, nil
	case arg == "LIST":
		return func(c candidate) (any, error) {
			return append([]gamedb.DBRef(nil), c.list...), nil
		}, nil
	case last > 0 && arg[0] == '"' && arg[last] == '"':
		return constant(arg[1:last]), nil
	case strings.HasPrefix(arg, "->"):
		return ev.compileCall(arg[2:])
	case strings.HasPrefix(arg, "#'"):
		name := strings.TrimSuffix(arg[2:], "()")
		fn, ok := symbols[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown symbol %q", errBadFilter, name)
		}
		w := ev.world()
		return func(c candidate) (any, error) { return fn(w, c.ref), nil }, nil
	case arg[0] == '(' && arg[last] == ')':
		refs, err := ev.evaluate(arg[1:last], nil, "")
		if err != nil {
			return nil, err
		}
		return constant(refs), nil
	case arg[0] == '[' && arg[last] == ']':
		refs, err := ev.evaluate(arg[1:last], nil, "")
		if err != nil {
			return nil, err
		}
		return constant(checkedItem(refs, 0)), nil
	case callSyntax.MatchString(arg):
		return ev.compileCall(arg)
	}
	if n, err := strconv.Atoi(arg); err == nil {
		return constant(n), nil
	}
	return constant(arg), nil
}

// compileCall parses "name", "name()" or "name(a, b)" into a method call
// on the candidate.
func (ev *evaluation) compileCall(s string) (value, error) {
	name, argspec, hasArgs := strings.Cut(s, "(")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: missing method name in %q", errBadFilter, s)
	}
	if hasArgs {
		if !strings.HasSuffix(argspec, ")") {
			return nil, fmt.Errorf("%w: malformed call %q", errBadFilter, s)
		}
		argspec = strings.TrimSpace(argspec[:len(argspec)-1])
	}

	var args []value
	if argspec != "" {
		parts, err := SplitNested(argspec, ",", DefaultOpen, DefaultClose)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			v, err := ev.compileValue(p)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
	}

	w := ev.world()
	return func(c candidate) (any, error) {
		vals := make([]any, len(args))
		for i, a := range args {
			v, err := a(c)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return w.Call(c.ref, name, vals)
	}, nil
}

// compileFilter builds an expression from 1-4 tokens. One token is a
// bare value; otherwise the first token is the operator and the rest its
// operands, any of which may be left off.
func (ev *evaluation) compileFilter(args []string) (value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty expression", errBadFilter)
	}
	if len(args) == 1 {
		return ev.compileValue(args[0])
	}

	op := args[0]
	var m [3]value
	for i, a := range args[1:min(len(args), 4)] {
		v, err := ev.compileValue(a)
		if err != nil {
			return nil, err
		}
		m[i] = v
	}
	// Missing operands are 0, so "f.>.->query_level" keeps levels above 0.
	for i := range m {
		if m[i] == nil {
			m[i] = constant(0)
		}
	}

	switch op {
	case "!":
		return func(c candidate) (any, error) {
			v, err := m[0](c)
			return !truthy(v), err
		}, nil
	case "<", ">", "<=", ">=":
		return func(c candidate) (any, error) {
			a, b, err := operands(c, m[0], m[1])
			if err != nil {
				return nil, err
			}
			n, err := compare(a, b)
			if err != nil {
				return nil, err
			}
			switch op {
			case "<":
				return n < 0, nil
			case ">":
				return n > 0, nil
			case "<=":
				return n <= 0, nil
			}
			return n >= 0, nil
		}, nil
	case "?", "?:":
		return func(c candidate) (any, error) {
			v, err := m[0](c)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return m[1](c)
			}
			return m[2](c)
		}, nil
	case "==", "!=":
		return func(c candidate) (any, error) {
			a, b, err := operands(c, m[0], m[1])
			if err != nil {
				return nil, err
			}
			return equal(a, b) == (op == "=="), nil
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", errBadFilter, op)
}

func operands(c candidate, m1, m2 value) (any, any, error) {
	a, err := m1(c)
	if err != nil {
		return nil, nil, err
	}
	b, err := m2(c)
	return a, b, err
}

// filterBy keeps the members of prev for which the expression is true.
func (ev *evaluation) filterBy(prev []gamedb.DBRef, args []string) ([]gamedb.DBRef, error) {
	expr, err := ev.compileFilter(args)
	if err != nil {
		if isFatal(err) {
			return nil, err
		}
		return ev.fail("f", err), nil
	}
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		v, err := expr(candidate{ref: ref, list: prev})
		if err != nil {
			if ev.gone(ref) {
				continue
			}
			return ev.fail("f", err), nil
		}
		if truthy(v) {
			out = append(out, ref)
		}
	}
	return out, nil
}

// sortBy orders prev by the expression's value, highest first when desc.
func (ev *evaluation) sortBy(prev []gamedb.DBRef, args []string, desc bool) ([]gamedb.DBRef, error) {
	op := "sort-"
	if desc {
		op = "sort"
	}
	expr, err := ev.compileFilter(args)
	if err != nil {
		if isFatal(err) {
			return nil, err
		}
		return ev.fail(op, err), nil
	}

	type keyed struct {
		ref gamedb.DBRef
		key any
	}
	items := make([]keyed, 0, len(prev))
	for _, ref := range prev {
		k, err := expr(candidate{ref: ref, list: prev})
		if err != nil {
			if ev.gone(ref) {
				continue
			}
			return ev.fail(op, err), nil
		}
		items = append(items, keyed{ref, k})
	}

	var cmpErr error
	sort.SliceStable(items, func(i, j int) bool {
		n, err := compare(items[i].key, items[j].key)
		if err != nil {
			cmpErr = err
			return false
		}
		if desc {
			return n > 0
		}
		return n < 0
	})
	if cmpErr != nil {
		return ev.fail(op, cmpErr), nil
	}

	out := make([]gamedb.DBRef, len(items))
	for i, it := range items {
		out[i] = it.ref
	}
	return out, nil
}

// funcall maps each member of prev through a method call and flattens
// the object results one level.
func (ev *evaluation) funcall(prev []gamedb.DBRef, arg string) ([]gamedb.DBRef, error) {
	call, err := ev.compileCall(arg)
	if err != nil {
		if isFatal(err) {
			return nil, err
		}
		return ev.fail("->"+arg, err), nil
	}
	out := []gamedb.DBRef{}
	for _, ref := range prev {
		v, err := call(candidate{ref: ref, list: prev})
		if err != nil {
			if ev.gone(ref) {
				continue
			}
			return ev.fail("->"+arg, err), nil
		}
		out = append(out, refsOf(v)...)
	}
	return out, nil
}

func isFatal(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se) || errors.Is(err, ErrRecursionLimit)
}

// normalize folds the scalar kinds a filter can produce onto int, string
// and []DBRef. A missing value counts as 0.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case gamedb.DBRef:
		return int(x)
	case []gamedb.DBRef:
		if len(x) == 0 {
			return []gamedb.DBRef(nil)
		}
	}
	return v
}

func compare(a, b any) (int, error) {
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int:
		if y, ok := b.(int); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case gamedb.DBRef:
		return x != gamedb.Nothing
	case string:
		return x != ""
	case []gamedb.DBRef:
		return len(x) > 0
	}
	return true
}

// refsOf extracts object refs from a method or symbol result.
func refsOf(v any) []gamedb.DBRef {
	switch x := v.(type) {
	case gamedb.DBRef:
		return single(x)
	case []gamedb.DBRef:
		return append([]gamedb.DBRef(nil), x...)
	case []any:
		var out []gamedb.DBRef
		for _, e := range x {
			if r, ok := e.(gamedb.DBRef); ok && r != gamedb.Nothing {
				out = append(out, r)
			}
		}
		return out
	}
	return nil
}
