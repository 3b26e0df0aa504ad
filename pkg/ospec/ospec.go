// Package ospec resolves object specifications: short textual queries such
// as "i,x.north,*zamboni" that name a set of objects in a live world.
//
// A spec is a comma-separated list of groups. Each group is a
// colon-separated chain of terms folded left to right, every term seeing
// the result of the one before it. Groups are resolved independently
// against the same starting context and concatenated.
package ospec

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/crystal-mush/ospec/pkg/gamedb"
	"github.com/crystal-mush/ospec/pkg/varspace"
)

// Delimiters. Groups and terms nest on DefaultOpen/DefaultClose.
const (
	GroupDelim    = ","
	TermDelim     = ":"
	InternalDelim = "."
)

// DefaultPriorities is the heuristic lookup order: actor inventory,
// actor environment, generic object, player, file, living.
const DefaultPriorities = "ieopfl"

// DefaultMaxDepth bounds nested sub-spec evaluations.
const DefaultMaxDepth = 50

var (
	ErrRecursionLimit = errors.New("ospec: sub-spec nesting too deep")
	ErrBadPriority    = errors.New("ospec: invalid priority string")
	ErrNoFile         = errors.New("ospec: no file matches")
)

// World is the object population a Resolver queries. Implementations must
// tolerate refs that have gone stale and be safe for concurrent use.
type World interface {
	// Valid reports whether ref names a live object.
	Valid(ref gamedb.DBRef) bool
	// Users returns every connected player.
	Users() []gamedb.DBRef
	// Livings returns every living object.
	Livings() []gamedb.DBRef
	// Inventory returns the direct contents of ref in order.
	Inventory(ref gamedb.DBRef) []gamedb.DBRef
	// DeepInventory returns everything nested inside ref.
	DeepInventory(ref gamedb.DBRef) []gamedb.DBRef
	// Environment returns the container of ref, or Nothing.
	Environment(ref gamedb.DBRef) gamedb.DBRef
	// AllEnvironments returns the chain of containers from ref outwards.
	AllEnvironments(ref gamedb.DBRef) []gamedb.DBRef
	// Shadows returns the shadow chain of ref, bottom first.
	Shadows(ref gamedb.DBRef) []gamedb.DBRef
	IsLiving(ref gamedb.DBRef) bool
	IsInteractive(ref gamedb.DBRef) bool
	Gender(ref gamedb.DBRef) gamedb.Gender
	// Level returns the OrdLevel of ref.
	Level(ref gamedb.DBRef) int
	Hostname(ref gamedb.DBRef) string
	// ProgramName returns the load name of ref without the source suffix.
	ProgramName(ref gamedb.DBRef) string
	// Exit returns the destination program of one exit of a room.
	Exit(room gamedb.DBRef, dir string) (string, bool)
	// Exits returns the destination programs of every exit of a room.
	Exits(room gamedb.DBRef) []string
	FindPlayer(name string) gamedb.DBRef
	FindLiving(name string) gamedb.DBRef
	FindGeneric(name string) gamedb.DBRef
	// FindObject returns the loaded master for a program path, or Nothing.
	FindObject(path string) gamedb.DBRef
	// FindObjects returns every loaded object whose program starts with prefix.
	FindObjects(prefix string) []gamedb.DBRef
	// LoadFromFile returns the master for a program, loading it if needed.
	LoadFromFile(path string) (gamedb.DBRef, error)
	FileExists(path string) bool
	// ExpandGlob expands a pattern within the permitted library tree.
	ExpandGlob(pattern string) []string
	// ExpandPath makes p absolute relative to actor.
	ExpandPath(actor gamedb.DBRef, p string) string
	ReadLines(path string) ([]string, error)
	// Present returns the item called name inside container, or Nothing.
	Present(name string, container gamedb.DBRef) gamedb.DBRef
	// Call invokes a named method on ref.
	Call(ref gamedb.DBRef, name string, args []any) (any, error)
	// OrdLevel converts a level name or number to an OrdLevel.
	OrdLevel(name string) (int, bool)
	SourceSuffix() string
}

// Options tune a Resolver.
type Options struct {
	Priorities string // default heuristic order, DefaultPriorities if empty
	MaxDepth   int    // DefaultMaxDepth if zero
	Quiet      bool   // syntax errors yield an empty result instead of an error

	// OrdLevel range of the "w" operator; "m" is always 0..0.
	WizardMin int
	WizardMax int

	Bus *events.Bus // optional; receives resolution events
}

// Resolver evaluates ospecs against a World. It keeps no state of its own
// between calls beyond what it writes to the variable store, so one
// Resolver may serve every actor.
type Resolver struct {
	world World
	vars  varspace.Store
	opts  Options
}

// New creates a Resolver. vars receives the "$" and pronoun bindings.
func New(w World, vars varspace.Store, opts Options) *Resolver {
	if opts.Priorities == "" {
		opts.Priorities = DefaultPriorities
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.WizardMin == 0 && opts.WizardMax == 0 {
		opts.WizardMin, opts.WizardMax = 1, 99
	}
	if vars == nil {
		vars = varspace.NewMemory()
	}
	return &Resolver{world: w, vars: vars, opts: opts}
}

// World returns the world the resolver queries.
func (r *Resolver) World() World {
	return r.world
}

// Vars returns the variable store.
func (r *Resolver) Vars() varspace.Store {
	return r.vars
}

// Evaluate resolves spec for actor. A nil prev means "no context": each
// group starts from the actor alone and its first term is treated as
// first. An empty priorities string selects the resolver's default.
//
// On success the result is bound to "$" in the actor's variables, along
// with "it", "him", "her" or "them" when the result is non-empty.
func (r *Resolver) Evaluate(actor gamedb.DBRef, spec string, prev []gamedb.DBRef, priorities string) ([]gamedb.DBRef, error) {
	if spec == "" {
		return nil, nil
	}
	start := time.Now()
	ev := &evaluation{r: r, actor: actor}
	refs, err := ev.evaluate(spec, prev, priorities)
	if err != nil {
		var se *SyntaxError
		isSyntax := errors.As(err, &se)
		typ := events.EvResolveError
		if isSyntax {
			typ = events.EvSyntaxError
		}
		r.emit(events.Event{
			Type:     typ,
			Actor:    actor,
			Spec:     spec,
			Err:      err.Error(),
			Duration: time.Since(start),
		})
		if r.opts.Quiet && isSyntax {
			return nil, nil
		}
		return nil, err
	}
	r.publish(actor, refs)
	r.emit(events.Event{
		Type:     events.EvResolve,
		Actor:    actor,
		Spec:     spec,
		Refs:     refs,
		Duration: time.Since(start),
	})
	return refs, nil
}

// EvaluateOne returns the first object spec names, or Nothing.
func (r *Resolver) EvaluateOne(actor gamedb.DBRef, spec string) (gamedb.DBRef, error) {
	refs, err := r.Evaluate(actor, spec, nil, "")
	if err != nil || len(refs) == 0 {
		return gamedb.Nothing, err
	}
	return refs[0], nil
}

// SetVariable binds name for actor, dropping refs that are not live.
func (r *Resolver) SetVariable(actor gamedb.DBRef, name string, refs []gamedb.DBRef) error {
	refs = validRefs(r.world, refs)
	if err := r.vars.Set(actor, name, refs); err != nil {
		return fmt.Errorf("ospec: set %s: %w", name, err)
	}
	r.emit(events.Event{Type: events.EvBind, Actor: actor, Op: name, Refs: refs})
	return nil
}

// publish writes the convenience bindings after a top-level evaluation.
func (r *Resolver) publish(actor gamedb.DBRef, refs []gamedb.DBRef) {
	r.bind(actor, "$", refs)
	switch len(refs) {
	case 0:
	case 1:
		r.bind(actor, pronoun(r.world, refs[0]), refs)
	default:
		r.bind(actor, "them", refs)
	}
}

func (r *Resolver) bind(actor gamedb.DBRef, name string, refs []gamedb.DBRef) {
	if err := r.vars.Set(actor, name, refs); err != nil {
		log.Printf("ospec: bind %s for #%d: %v", name, actor, err)
	}
}

func (r *Resolver) emit(ev events.Event) {
	if r.opts.Bus == nil {
		return
	}
	ev.Time = time.Now()
	r.opts.Bus.Emit(ev)
}

// pronoun picks the singular binding for one result.
func pronoun(w World, ref gamedb.DBRef) string {
	if !w.IsLiving(ref) {
		return "it"
	}
	switch w.Gender(ref) {
	case gamedb.GenderMale:
		return "him"
	case gamedb.GenderFemale:
		return "her"
	}
	return "it"
}

func validRefs(w World, refs []gamedb.DBRef) []gamedb.DBRef {
	out := make([]gamedb.DBRef, 0, len(refs))
	for _, ref := range refs {
		if w.Valid(ref) {
			out = append(out, ref)
		}
	}
	return out
}
