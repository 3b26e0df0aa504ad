package world

import (
	"fmt"
	"log"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// Create adds obj to the world, placing it in obj.Location if that is
// live. The assigned ref is returned.
func (w *World) Create(obj *gamedb.Object) gamedb.DBRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc := obj.Location
	obj.Location = gamedb.Nothing
	obj.Contents = nil
	ref := w.db.Add(obj)
	if loc != gamedb.Nothing {
		w.move(obj, loc)
	}
	w.persist(obj, w.db.Objects[obj.Location])
	return ref
}

// Clone loads the master for a program and creates a copy of it in dest.
func (w *World) Clone(program string, dest gamedb.DBRef) (gamedb.DBRef, error) {
	master, err := w.LoadFromFile(program)
	if err != nil {
		return gamedb.Nothing, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.db.Live(master)
	if !ok {
		return gamedb.Nothing, fmt.Errorf("%w: #%d", ErrNotFound, master)
	}
	obj := *m
	obj.DBRef = gamedb.Nothing
	obj.Clone = true
	obj.Location = gamedb.Nothing
	obj.Contents = nil
	obj.Shadows = nil
	obj.Shadowing = gamedb.Nothing
	obj.Aliases = append([]string(nil), m.Aliases...)
	obj.Exits = copyMap(m.Exits)
	obj.InvisExits = copyMap(m.InvisExits)
	obj.Props = copyMap(m.Props)
	ref := w.db.Add(&obj)
	if dest != gamedb.Nothing {
		w.move(&obj, dest)
	}
	w.persist(&obj, w.db.Objects[obj.Location])
	return ref, nil
}

// Move puts ref inside dest.
func (w *World) Move(ref, dest gamedb.DBRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.db.Live(ref)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, ref)
	}
	if _, ok := w.db.Live(dest); !ok && dest != gamedb.Nothing {
		return fmt.Errorf("%w: #%d", ErrNotFound, dest)
	}
	old := w.db.Objects[obj.Location]
	w.move(obj, dest)
	w.persist(obj, old, w.db.Objects[dest])
	return nil
}

func (w *World) move(obj *gamedb.Object, dest gamedb.DBRef) {
	if old, ok := w.db.Objects[obj.Location]; ok {
		old.Contents = removeRef(old.Contents, obj.DBRef)
	}
	obj.Location = dest
	if env, ok := w.db.Objects[dest]; ok {
		env.Contents = append(env.Contents, obj.DBRef)
	}
}

// Destroy destructs ref. Its contents stay valid but end up nowhere, and
// every ref held elsewhere to it goes stale.
func (w *World) Destroy(ref gamedb.DBRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.db.Live(ref)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, ref)
	}
	touched := []*gamedb.Object{obj}
	if env, ok := w.db.Objects[obj.Location]; ok {
		env.Contents = removeRef(env.Contents, ref)
		touched = append(touched, env)
	}
	for _, c := range obj.Contents {
		if child, ok := w.db.Objects[c]; ok {
			child.Location = gamedb.Nothing
			touched = append(touched, child)
		}
	}
	obj.Contents = nil
	if host, ok := w.db.Objects[obj.Shadowing]; ok {
		host.Shadows = removeRef(host.Shadows, ref)
		touched = append(touched, host)
	}
	obj.Destructed = true
	obj.Type = gamedb.TypeGarbage
	w.persist(touched...)
	return nil
}

// AddShadow puts shadow on top of target's shadow chain.
func (w *World) AddShadow(target, shadow gamedb.DBRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.db.Live(target)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, target)
	}
	s, ok := w.db.Live(shadow)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, shadow)
	}
	t.Shadows = append(t.Shadows, shadow)
	s.Shadowing = target
	w.persist(t, s)
	return nil
}

// SetInteractive marks a player as connected (with hostname) or not.
func (w *World) SetInteractive(ref gamedb.DBRef, on bool, hostname string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj, ok := w.db.Live(ref)
	if !ok {
		return fmt.Errorf("%w: #%d", ErrNotFound, ref)
	}
	obj.Interactive = on
	obj.Hostname = hostname
	w.persist(obj)
	return nil
}

// persist writes the given objects through to the store, deleting
// destructed ones. Callers hold w.mu. Failures are logged; the in-memory
// world stays authoritative until the next full save.
func (w *World) persist(objs ...*gamedb.Object) {
	if w.store == nil {
		return
	}
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		var err error
		if obj.IsGoing() {
			err = w.store.DeleteObject(obj.DBRef)
		} else {
			err = w.store.PutObject(obj)
		}
		if err != nil {
			log.Printf("world: persist #%d: %v", obj.DBRef, err)
		}
	}
}

func removeRef(list []gamedb.DBRef, ref gamedb.DBRef) []gamedb.DBRef {
	out := list[:0]
	for _, r := range list {
		if r != ref {
			out = append(out, r)
		}
	}
	return out
}
