package world

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/crystal-mush/ospec/pkg/gamedb"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// ObjectSpec is the on-disk form of one object, used both in world files
// and in library blueprints.
type ObjectSpec struct {
	Ref         *int              `yaml:"ref,omitempty"`
	Type        string            `yaml:"type,omitempty"`
	Name        string            `yaml:"name"`
	Aliases     []string          `yaml:"aliases,omitempty"`
	Short       string            `yaml:"short,omitempty"`
	Program     string            `yaml:"program,omitempty"`
	Clone       bool              `yaml:"clone,omitempty"`
	Location    *int              `yaml:"location,omitempty"`
	Exits       map[string]string `yaml:"exits,omitempty"`
	InvisExits  map[string]string `yaml:"invis_exits,omitempty"`
	Shadows     []int             `yaml:"shadows,omitempty"`
	Gender      string            `yaml:"gender,omitempty"`
	Level       int               `yaml:"level,omitempty"`
	Interactive bool              `yaml:"interactive,omitempty"`
	Hostname    string            `yaml:"hostname,omitempty"`
	Props       map[string]string `yaml:"props,omitempty"`
}

// WorldFile is the top-level document of a world file or snapshot.
type WorldFile struct {
	Objects []ObjectSpec `yaml:"objects"`
}

func (s *ObjectSpec) toObject() *gamedb.Object {
	obj := &gamedb.Object{
		DBRef:       gamedb.Nothing,
		Type:        gamedb.ParseObjectType(s.Type),
		Name:        s.Name,
		Aliases:     append([]string(nil), s.Aliases...),
		Short:       s.Short,
		Program:     s.Program,
		Clone:       s.Clone,
		Location:    gamedb.Nothing,
		Exits:       copyMap(s.Exits),
		InvisExits:  copyMap(s.InvisExits),
		Shadowing:   gamedb.Nothing,
		Gender:      gamedb.ParseGender(s.Gender),
		Level:       s.Level,
		Interactive: s.Interactive,
		Hostname:    s.Hostname,
		Props:       copyMap(s.Props),
	}
	if s.Ref != nil {
		obj.DBRef = gamedb.DBRef(*s.Ref)
	}
	if s.Location != nil {
		obj.Location = gamedb.DBRef(*s.Location)
	}
	for _, sh := range s.Shadows {
		obj.Shadows = append(obj.Shadows, gamedb.DBRef(sh))
	}
	return obj
}

func specOf(obj *gamedb.Object) ObjectSpec {
	ref := int(obj.DBRef)
	s := ObjectSpec{
		Ref:         &ref,
		Type:        strings.ToLower(obj.Type.String()),
		Name:        obj.Name,
		Aliases:     obj.Aliases,
		Short:       obj.Short,
		Program:     obj.Program,
		Clone:       obj.Clone,
		Exits:       obj.Exits,
		InvisExits:  obj.InvisExits,
		Level:       obj.Level,
		Interactive: obj.Interactive,
		Hostname:    obj.Hostname,
		Props:       obj.Props,
	}
	if obj.Gender != gamedb.GenderOther {
		s.Gender = obj.Gender.String()
	}
	if obj.Location != gamedb.Nothing {
		loc := int(obj.Location)
		s.Location = &loc
	}
	for _, sh := range obj.Shadows {
		s.Shadows = append(s.Shadows, int(sh))
	}
	return s
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func decodeBlueprint(data []byte) (*ObjectSpec, error) {
	if err := validateYAML(blueprintSchema, data); err != nil {
		return nil, err
	}
	var bp ObjectSpec
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Decode builds a Database from a YAML world document. Contents lists are
// rebuilt from each object's location, in document order.
func Decode(data []byte) (*gamedb.Database, error) {
	if err := validateYAML(worldSchema, data); err != nil {
		return nil, err
	}
	var wf WorldFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("world: parse: %w", err)
	}

	db := gamedb.NewDatabase()
	objs := make([]*gamedb.Object, 0, len(wf.Objects))
	for i := range wf.Objects {
		obj := wf.Objects[i].toObject()
		if obj.DBRef != gamedb.Nothing {
			if _, dup := db.Objects[obj.DBRef]; dup {
				return nil, fmt.Errorf("world: duplicate ref #%d", obj.DBRef)
			}
			db.Add(obj)
		}
		objs = append(objs, obj)
	}
	// Objects without an explicit ref are numbered after the explicit ones.
	for _, obj := range objs {
		if obj.DBRef == gamedb.Nothing {
			db.Add(obj)
		}
	}
	for _, obj := range objs {
		if obj.Location == gamedb.Nothing {
			continue
		}
		env, ok := db.Objects[obj.Location]
		if !ok {
			return nil, fmt.Errorf("world: #%d located in missing #%d", obj.DBRef, obj.Location)
		}
		env.Contents = append(env.Contents, obj.DBRef)
	}
	for _, obj := range objs {
		for _, sh := range obj.Shadows {
			if s, ok := db.Objects[sh]; ok {
				s.Shadowing = obj.DBRef
			}
		}
	}
	return db, nil
}

// LoadFile reads a world file. Files ending in ".zst" are zstd-compressed.
func LoadFile(path string) (*gamedb.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("world: open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("world: zstd %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("world: read %s: %w", path, err)
	}
	db, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("world: %s: %w", path, err)
	}
	log.Printf("world: loaded %d objects from %s", len(db.Objects), path)
	return db, nil
}

// Snapshot returns a deep copy of every live object, for persistence
// layers that must not hold the world lock while writing.
func (w *World) Snapshot() *gamedb.Database {
	w.mu.RLock()
	defer w.mu.RUnlock()
	db := gamedb.NewDatabase()
	for _, ref := range w.db.Refs() {
		obj := *w.db.Objects[ref]
		obj.Aliases = append([]string(nil), obj.Aliases...)
		obj.Contents = append([]gamedb.DBRef(nil), obj.Contents...)
		obj.Shadows = append([]gamedb.DBRef(nil), obj.Shadows...)
		obj.Exits = copyMap(obj.Exits)
		obj.InvisExits = copyMap(obj.InvisExits)
		obj.Props = copyMap(obj.Props)
		db.Add(&obj)
	}
	if w.db.NextRef > db.NextRef {
		db.NextRef = w.db.NextRef
	}
	return db
}

// Encode renders the live objects of the world as a YAML world document.
func (w *World) Encode() ([]byte, error) {
	w.mu.RLock()
	wf := WorldFile{}
	for _, ref := range w.db.Refs() {
		wf.Objects = append(wf.Objects, specOf(w.db.Objects[ref]))
	}
	w.mu.RUnlock()

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&wf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes the world to path, zstd-compressed for ".zst".
func (w *World) SaveSnapshot(path string) error {
	data, err := w.Encode()
	if err != nil {
		return fmt.Errorf("world: encode: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("world: create %s: %w", tmp, err)
	}
	var werr error
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return fmt.Errorf("world: zstd: %w", err)
		}
		_, werr = enc.Write(data)
		if cerr := enc.Close(); werr == nil {
			werr = cerr
		}
	} else {
		_, werr = f.Write(data)
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("world: write %s: %w", path, werr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("world: rename %s: %w", path, err)
	}
	log.Printf("world: snapshot written to %s", path)
	return nil
}
