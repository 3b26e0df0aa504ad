package world

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

var (
	ErrNotFound = errors.New("world: no such object")
	ErrNoFile   = errors.New("world: no such file")
	ErrNoMethod = errors.New("world: no such method")
)

// Options configure a World.
type Options struct {
	LibDir       string         // root of the object library on disk
	SourceSuffix string         // blueprint file suffix, default ".yaml"
	Levels       map[string]int // OrdLevel names (lowercase) -> level
	Persist      Persister      // optional write-through store
}

// Persister receives every object a mutation touches. boltstore.Store
// implements it.
type Persister interface {
	PutObject(obj *gamedb.Object) error
	DeleteObject(ref gamedb.DBRef) error
}

// World is the live object population. It wraps a gamedb.Database behind
// a RWMutex: any goroutine may destroy or move objects while a resolver
// is reading.
type World struct {
	mu     sync.RWMutex
	db     *gamedb.Database
	libDir string
	suffix string
	levels map[string]int
	store  Persister

	bpMu       sync.Mutex
	blueprints map[string]*ObjectSpec
}

// New creates a World over db.
func New(db *gamedb.Database, opts Options) *World {
	if db == nil {
		db = gamedb.NewDatabase()
	}
	suffix := opts.SourceSuffix
	if suffix == "" {
		suffix = ".yaml"
	}
	levels := make(map[string]int, len(opts.Levels))
	for k, v := range opts.Levels {
		levels[strings.ToLower(k)] = v
	}
	return &World{
		db:         db,
		libDir:     opts.LibDir,
		suffix:     suffix,
		levels:     levels,
		store:      opts.Persist,
		blueprints: make(map[string]*ObjectSpec),
	}
}

// DB returns the underlying database. Callers must not mutate it while
// the world is in use; it is exposed for persistence.
func (w *World) DB() *gamedb.Database {
	return w.db
}

// Len returns the number of live objects.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.db.Refs())
}

// LibDir returns the root of the object library.
func (w *World) LibDir() string {
	return w.libDir
}

// SourceSuffix returns the suffix blueprint files carry.
func (w *World) SourceSuffix() string {
	return w.suffix
}

// Valid reports whether ref names a live object.
func (w *World) Valid(ref gamedb.DBRef) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.db.Live(ref)
	return ok
}

// Name returns an object's primary name.
func (w *World) Name(ref gamedb.DBRef) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if obj, ok := w.db.Live(ref); ok {
		return obj.Name
	}
	return ""
}

// Users returns every interactive player, in ref order.
func (w *World) Users() []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []gamedb.DBRef
	for _, ref := range w.db.Refs() {
		obj := w.db.Objects[ref]
		if obj.Type == gamedb.TypePlayer && obj.Interactive {
			out = append(out, ref)
		}
	}
	return out
}

// Livings returns every living object, players included, in ref order.
func (w *World) Livings() []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []gamedb.DBRef
	for _, ref := range w.db.Refs() {
		if w.db.Objects[ref].IsLiving() {
			out = append(out, ref)
		}
	}
	return out
}

// Inventory returns the direct contents of ref.
func (w *World) Inventory(ref gamedb.DBRef) []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.inventory(ref)
}

func (w *World) inventory(ref gamedb.DBRef) []gamedb.DBRef {
	obj, ok := w.db.Live(ref)
	if !ok {
		return nil
	}
	out := make([]gamedb.DBRef, 0, len(obj.Contents))
	for _, c := range obj.Contents {
		if _, ok := w.db.Live(c); ok {
			out = append(out, c)
		}
	}
	return out
}

// DeepInventory returns everything nested inside ref, depth first.
func (w *World) DeepInventory(ref gamedb.DBRef) []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []gamedb.DBRef
	seen := map[gamedb.DBRef]bool{ref: true}
	var walk func(gamedb.DBRef)
	walk = func(r gamedb.DBRef) {
		for _, c := range w.inventory(r) {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(ref)
	return out
}

// Environment returns the object containing ref, or Nothing.
func (w *World) Environment(ref gamedb.DBRef) gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.environment(ref)
}

func (w *World) environment(ref gamedb.DBRef) gamedb.DBRef {
	obj, ok := w.db.Live(ref)
	if !ok {
		return gamedb.Nothing
	}
	if _, ok := w.db.Live(obj.Location); !ok {
		return gamedb.Nothing
	}
	return obj.Location
}

// AllEnvironments returns the chain of containers from ref outwards.
func (w *World) AllEnvironments(ref gamedb.DBRef) []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []gamedb.DBRef
	seen := map[gamedb.DBRef]bool{ref: true}
	for env := w.environment(ref); env != gamedb.Nothing && !seen[env]; env = w.environment(env) {
		seen[env] = true
		out = append(out, env)
	}
	return out
}

// Shadows returns the shadow chain of ref, bottom first.
func (w *World) Shadows(ref gamedb.DBRef) []gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(ref)
	if !ok {
		return nil
	}
	var out []gamedb.DBRef
	for _, s := range obj.Shadows {
		if _, ok := w.db.Live(s); ok {
			out = append(out, s)
		}
	}
	return out
}

// IsLiving reports whether ref is a live living object.
func (w *World) IsLiving(ref gamedb.DBRef) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(ref)
	return ok && obj.IsLiving()
}

// IsInteractive reports whether ref is a connected player.
func (w *World) IsInteractive(ref gamedb.DBRef) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(ref)
	return ok && obj.Interactive
}

// Gender returns the gender attribute of ref.
func (w *World) Gender(ref gamedb.DBRef) gamedb.Gender {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if obj, ok := w.db.Live(ref); ok {
		return obj.Gender
	}
	return gamedb.GenderOther
}

// Level returns the OrdLevel of ref (0 for non-players).
func (w *World) Level(ref gamedb.DBRef) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if obj, ok := w.db.Live(ref); ok {
		return obj.Level
	}
	return 0
}

// Hostname returns the connection hostname of an interactive object.
func (w *World) Hostname(ref gamedb.DBRef) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if obj, ok := w.db.Live(ref); ok && obj.Interactive {
		return obj.Hostname
	}
	return ""
}

// ProgramName returns the load name of ref (e.g. "/obj/torch").
func (w *World) ProgramName(ref gamedb.DBRef) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if obj, ok := w.db.Live(ref); ok {
		return obj.Program
	}
	return ""
}

// Exit returns the destination program of direction dir in room.
func (w *World) Exit(room gamedb.DBRef, dir string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(room)
	if !ok {
		return "", false
	}
	return obj.GetExit(dir)
}

// Exits returns the destinations of all visible and invisible exits.
func (w *World) Exits(room gamedb.DBRef) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj, ok := w.db.Live(room)
	if !ok {
		return nil
	}
	return obj.AllExits()
}

// FindPlayer returns the player named name, or Nothing.
func (w *World) FindPlayer(name string) gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	name = strings.ToLower(strings.TrimSpace(name))
	for _, ref := range w.db.Refs() {
		obj := w.db.Objects[ref]
		if obj.Type == gamedb.TypePlayer && strings.ToLower(obj.Name) == name {
			return ref
		}
	}
	return gamedb.Nothing
}

// FindLiving returns the first living object answering to name.
func (w *World) FindLiving(name string) gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ref := range w.db.Refs() {
		obj := w.db.Objects[ref]
		if obj.IsLiving() && obj.ID(name) {
			return ref
		}
	}
	return gamedb.Nothing
}

// FindGeneric matches a loaded master by program name, then any object
// answering to name.
func (w *World) FindGeneric(name string) gamedb.DBRef {
	if ref := w.FindObject(name); ref != gamedb.Nothing {
		return ref
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ref := range w.db.Refs() {
		if w.db.Objects[ref].ID(name) {
			return ref
		}
	}
	return gamedb.Nothing
}

// FindObject returns the loaded master object for a program path.
func (w *World) FindObject(path string) gamedb.DBRef {
	prog := w.programOf(path)
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.findObject(prog)
}

func (w *World) findObject(prog string) gamedb.DBRef {
	for _, ref := range w.db.Refs() {
		obj := w.db.Objects[ref]
		if !obj.Clone && obj.Program == prog {
			return ref
		}
	}
	return gamedb.Nothing
}

// FindObjects returns every loaded object whose program starts with prefix.
func (w *World) FindObjects(prefix string) []gamedb.DBRef {
	prefix = "/" + strings.TrimPrefix(prefix, "/")
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []gamedb.DBRef
	for _, ref := range w.db.Refs() {
		if p := w.db.Objects[ref].Program; p != "" && strings.HasPrefix(p, prefix) {
			out = append(out, ref)
		}
	}
	return out
}

// Present finds an item called name inside container. "torch 2" selects
// the second matching item.
func (w *World) Present(name string, container gamedb.DBRef) gamedb.DBRef {
	w.mu.RLock()
	defer w.mu.RUnlock()
	nth := 1
	if i := strings.LastIndexByte(name, ' '); i > 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil && n > 0 {
			nth = n
			name = name[:i]
		}
	}
	for _, c := range w.inventory(container) {
		if w.db.Objects[c].ID(name) {
			nth--
			if nth == 0 {
				return c
			}
		}
	}
	return gamedb.Nothing
}

// OrdLevel converts a level name or number to an OrdLevel.
func (w *World) OrdLevel(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if n, err := strconv.Atoi(name); err == nil {
		return n, true
	}
	lvl, ok := w.levels[strings.ToLower(name)]
	return lvl, ok
}
