package ospec

import (
	"fmt"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// symbolFn is a named function of one object, usable as #'name.
type symbolFn func(w World, ref gamedb.DBRef) any

var symbols = map[string]symbolFn{
	"environment": func(w World, ref gamedb.DBRef) any { return w.Environment(ref) },
	"all_environment": func(w World, ref gamedb.DBRef) any {
		return w.AllEnvironments(ref)
	},
	"all_inventory":  func(w World, ref gamedb.DBRef) any { return w.Inventory(ref) },
	"deep_inventory": func(w World, ref gamedb.DBRef) any { return w.DeepInventory(ref) },
	"all_shadows":    func(w World, ref gamedb.DBRef) any { return w.Shadows(ref) },
	"first_inventory": func(w World, ref gamedb.DBRef) any {
		return checkedItem(w.Inventory(ref), 0)
	},
	"living":        func(w World, ref gamedb.DBRef) any { return w.IsLiving(ref) },
	"interactive":   func(w World, ref gamedb.DBRef) any { return w.IsInteractive(ref) },
	"load_name":     func(w World, ref gamedb.DBRef) any { return w.ProgramName(ref) },
	"program_name":  func(w World, ref gamedb.DBRef) any { return w.ProgramName(ref) },
	"query_ip_name": func(w World, ref gamedb.DBRef) any { return w.Hostname(ref) },
	"object_name": func(w World, ref gamedb.DBRef) any {
		return fmt.Sprintf("%s#%d", w.ProgramName(ref), ref)
	},
}

// lineFn turns one line of a map file into objects.
type lineFn func(ev *evaluation, line string) []gamedb.DBRef

var lineConverters = map[string]lineFn{
	"find_player": func(ev *evaluation, line string) []gamedb.DBRef {
		return single(ev.world().FindPlayer(line))
	},
	"find_living": func(ev *evaluation, line string) []gamedb.DBRef {
		return single(ev.world().FindLiving(line))
	},
	"find_object": func(ev *evaluation, line string) []gamedb.DBRef {
		return single(ev.world().FindObject(ev.world().ExpandPath(ev.actor, line)))
	},
	"load_object": func(ev *evaluation, line string) []gamedb.DBRef {
		return ev.forceLoad([]string{ev.world().ExpandPath(ev.actor, line)})
	},
}

// mapfile reads a file and maps each line to objects:
//
//	mapfile.<path>.<converter>
//
// The converter is OSPEC (each line is a spec), FILTER (each line is a
// spec resolved against the current set) or one of lineConverters. The
// path may contain dots; the converter is always the last piece. When
// this is not the first term the result is intersected with prev.
func (ev *evaluation) mapfile(prev []gamedb.DBRef, args []string, first bool, priorities string) ([]gamedb.DBRef, error) {
	if len(args) < 3 {
		return ev.fail("mapfile", fmt.Errorf("usage: mapfile.<file>.<converter>")), nil
	}
	w := ev.world()
	conv := args[len(args)-1]
	file := w.ExpandPath(ev.actor, strings.Join(args[1:len(args)-1], InternalDelim))
	if !w.FileExists(file) {
		return ev.fail("mapfile", fmt.Errorf("map file %s not found", file)), nil
	}
	lines, err := w.ReadLines(file)
	if err != nil {
		return ev.fail("mapfile", err), nil
	}

	var mapped []gamedb.DBRef
	switch {
	case conv == "FILTER" && !first:
		for _, line := range lines {
			refs, err := ev.evaluate(line, prev, priorities)
			if err != nil {
				return nil, err
			}
			mapped = append(mapped, refs...)
		}
	case conv == "FILTER" || conv == "OSPEC":
		for _, line := range lines {
			refs, err := ev.evaluate(line, nil, priorities)
			if err != nil {
				return nil, err
			}
			mapped = append(mapped, refs...)
		}
	default:
		fn, ok := lineConverters[conv]
		if !ok {
			return ev.fail("mapfile", fmt.Errorf("unknown converter %q", conv)), nil
		}
		for _, line := range lines {
			mapped = append(mapped, fn(ev, line)...)
		}
	}

	if first {
		return mapped, nil
	}
	return intersect(prev, mapped), nil
}
