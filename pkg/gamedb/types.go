package gamedb

import (
	"sort"
	"strings"
)

// DBRef is the fundamental object reference type. It identifies one live
// game object (room, item, player, monster, shadow) in a Database.
type DBRef int

const (
	Nothing DBRef = -1
)

// ObjectType classifies an object for heuristic lookups.
type ObjectType int

const (
	TypeThing   ObjectType = 0
	TypeRoom    ObjectType = 1
	TypeLiving  ObjectType = 2
	TypePlayer  ObjectType = 3
	TypeShadow  ObjectType = 4
	TypeGarbage ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeThing:
		return "THING"
	case TypeRoom:
		return "ROOM"
	case TypeLiving:
		return "LIVING"
	case TypePlayer:
		return "PLAYER"
	case TypeShadow:
		return "SHADOW"
	case TypeGarbage:
		return "GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// ParseObjectType maps a type name from a world file to an ObjectType.
func ParseObjectType(s string) ObjectType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "room":
		return TypeRoom
	case "living", "monster", "npc":
		return TypeLiving
	case "player", "user":
		return TypePlayer
	case "shadow":
		return TypeShadow
	default:
		return TypeThing
	}
}

// Gender is the gender attribute used for pronoun bindings.
type Gender int

const (
	GenderOther Gender = iota
	GenderMale
	GenderFemale
)

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	default:
		return "neuter"
	}
}

// ParseGender accepts "male"/"female" (any case); anything else is GenderOther.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return GenderMale
	case "female", "f":
		return GenderFemale
	default:
		return GenderOther
	}
}

// Object is a single game object.
type Object struct {
	DBRef DBRef
	Type  ObjectType

	Name    string   // primary id, also what find_player/find_living match
	Aliases []string // extra ids answered by id()
	Short   string   // short description

	// Program is the load name of the file the object was compiled from,
	// without the source suffix (e.g. "/obj/torch"). Clones share it.
	Program string
	Clone   bool

	Location DBRef
	Contents []DBRef // ordered inventory

	// Exits map a direction to the program name of the destination room.
	Exits      map[string]string
	InvisExits map[string]string

	// Shadows lists the shadow chain from the bottom (closest to the
	// object) up.
	Shadows []DBRef
	Shadowing DBRef

	Gender      Gender
	Level       int // OrdLevel: 0 mortal, >0 wizard ranks
	Interactive bool
	Hostname    string

	Props map[string]string

	Destructed bool
}

// IsLiving reports whether the object counts as alive.
func (o *Object) IsLiving() bool {
	return o.Type == TypeLiving || o.Type == TypePlayer
}

// IsGoing returns true if the object has been destructed.
func (o *Object) IsGoing() bool {
	return o.Destructed || o.Type == TypeGarbage
}

// ID reports whether name identifies this object (case-insensitive match
// against the name and aliases), the way LPC id() does.
func (o *Object) ID(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.ToLower(o.Name) == name {
		return true
	}
	for _, a := range o.Aliases {
		if strings.ToLower(a) == name {
			return true
		}
	}
	return false
}

// Prop returns a property value and whether it is set.
func (o *Object) Prop(key string) (string, bool) {
	if o.Props == nil {
		return "", false
	}
	v, ok := o.Props[key]
	return v, ok
}

// AllExits returns visible then invisible exit destinations, each group
// in direction order.
func (o *Object) AllExits() []string {
	var out []string
	for _, m := range []map[string]string{o.Exits, o.InvisExits} {
		dirs := make([]string, 0, len(m))
		for d := range m {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		for _, d := range dirs {
			out = append(out, m[d])
		}
	}
	return out
}

// GetExit returns the destination for dir, checking visible exits first.
func (o *Object) GetExit(dir string) (string, bool) {
	if dest, ok := o.Exits[dir]; ok && dest != "" {
		return dest, true
	}
	dest, ok := o.InvisExits[dir]
	return dest, ok && dest != ""
}

// Database holds the complete in-memory game state.
type Database struct {
	Objects map[DBRef]*Object
	NextRef DBRef
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{
		Objects: make(map[DBRef]*Object),
	}
}

// Add inserts obj, assigning the next free DBRef when obj.DBRef is Nothing.
func (db *Database) Add(obj *Object) DBRef {
	if obj.DBRef == Nothing {
		obj.DBRef = db.NextRef
	}
	if obj.DBRef >= db.NextRef {
		db.NextRef = obj.DBRef + 1
	}
	db.Objects[obj.DBRef] = obj
	return obj.DBRef
}

// Live returns the object for ref if it exists and is not destructed.
func (db *Database) Live(ref DBRef) (*Object, bool) {
	obj, ok := db.Objects[ref]
	if !ok || obj.IsGoing() {
		return nil, false
	}
	return obj, true
}

// Refs returns all live object refs in ascending order.
func (db *Database) Refs() []DBRef {
	refs := make([]DBRef, 0, len(db.Objects))
	for ref, obj := range db.Objects {
		if !obj.IsGoing() {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}
