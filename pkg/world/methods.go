package world

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// MethodHandler implements one method callable on a game object with
// ->name(args). Handlers run with the world read-locked and must only use
// unlocked helpers.
type MethodHandler func(w *World, obj *gamedb.Object, args []any) (any, error)

// Method is a registered object method.
type Method struct {
	Name    string
	Handler MethodHandler
	NArgs   int // required argument count
}

var methods = make(map[string]*Method)

func registerMethod(name string, nargs int, h MethodHandler) {
	methods[name] = &Method{Name: name, Handler: h, NArgs: nargs}
}

func aliasMethod(alias, target string) {
	if m, ok := methods[target]; ok {
		methods[alias] = m
	}
}

func init() {
	registerMethod("query_name", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return o.Name, nil
	})
	registerMethod("query_real_name", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return strings.ToLower(o.Name), nil
	})
	registerMethod("short", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		if o.Short != "" {
			return o.Short, nil
		}
		return o.Name, nil
	})
	aliasMethod("query_short", "short")
	registerMethod("query_gender", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return o.Gender.String(), nil
	})
	registerMethod("query_level", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return o.Level, nil
	})
	registerMethod("query_ip_name", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		if !o.Interactive {
			return nil, nil
		}
		return o.Hostname, nil
	})
	aliasMethod("query_hostname", "query_ip_name")
	registerMethod("id", 1, func(_ *World, o *gamedb.Object, args []any) (any, error) {
		return boolInt(o.ID(fmt.Sprint(args[0]))), nil
	})
	registerMethod("test_prop", 1, func(_ *World, o *gamedb.Object, args []any) (any, error) {
		v, ok := o.Prop(fmt.Sprint(args[0]))
		return boolInt(ok && v != "" && v != "0"), nil
	})
	registerMethod("query", 1, func(_ *World, o *gamedb.Object, args []any) (any, error) {
		v, ok := o.Prop(fmt.Sprint(args[0]))
		if !ok {
			return nil, nil
		}
		return propValue(v), nil
	})
	aliasMethod("query_prop", "query")
	registerMethod("query_program", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return o.Program, nil
	})
	aliasMethod("program_name", "query_program")
	registerMethod("living", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return boolInt(o.IsLiving()), nil
	})
	registerMethod("interactive", 0, func(_ *World, o *gamedb.Object, _ []any) (any, error) {
		return boolInt(o.Interactive), nil
	})
	registerMethod("query_environment", 0, func(w *World, o *gamedb.Object, _ []any) (any, error) {
		return w.environment(o.DBRef), nil
	})
	registerMethod("query_inventory", 0, func(w *World, o *gamedb.Object, _ []any) (any, error) {
		return w.inventory(o.DBRef), nil
	})
}

// Call invokes method name on ref. Unregistered query_<prop> names read
// the property prop, yielding nil when it is unset; any other unknown
// name is ErrNoMethod.
func (w *World) Call(ref gamedb.DBRef, name string, args []any) (any, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(ref)
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrNotFound, ref)
	}
	m, ok := methods[name]
	if !ok {
		if prop, isQuery := strings.CutPrefix(name, "query_"); isQuery && prop != "" {
			if v, set := obj.Prop(prop); set {
				return propValue(v), nil
			}
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoMethod, name)
	}
	if len(args) < m.NArgs {
		return nil, fmt.Errorf("world: %s wants %d argument(s), got %d", name, m.NArgs, len(args))
	}
	return m.Handler(w, obj, args)
}

// HasMethod reports whether name is a registered method.
func HasMethod(name string) bool {
	_, ok := methods[name]
	return ok
}

func propValue(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
