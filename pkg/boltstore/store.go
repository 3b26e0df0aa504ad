// Package boltstore persists the world and per-actor variable bindings in
// a bbolt file, so a restarted resolver keeps its objects and every
// actor's "$", pronoun and named variables.
package boltstore

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/crystal-mush/ospec/pkg/gamedb"
	bbolt "go.etcd.io/bbolt"
)

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketPlayers, bucketBindings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	log.Printf("boltstore: opened %s", path)
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// PutObject persists a single object (write-through).
func (s *Store) PutObject(obj *gamedb.Object) error {
	data, err := encodeObject(obj)
	if err != nil {
		return fmt.Errorf("boltstore: encode object #%d: %w", obj.DBRef, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketObjects).Put(refToKey(obj.DBRef), data); err != nil {
			return err
		}
		return indexPlayer(tx.Bucket(bucketPlayers), obj)
	})
}

// DeleteObject removes an object and its player index entry.
func (s *Store) DeleteObject(ref gamedb.DBRef) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if v := b.Get(refToKey(ref)); v != nil {
			if obj, err := decodeObject(v); err == nil && obj.Type == gamedb.TypePlayer {
				tx.Bucket(bucketPlayers).Delete([]byte(strings.ToLower(obj.Name)))
			}
		}
		return b.Delete(refToKey(ref))
	})
}

func indexPlayer(b *bbolt.Bucket, obj *gamedb.Object) error {
	if obj.Type == gamedb.TypePlayer && !obj.IsGoing() {
		return b.Put([]byte(strings.ToLower(obj.Name)), refToKey(obj.DBRef))
	}
	return nil
}

// SaveDatabase replaces the stored world with db, batching 1000 objects
// per transaction. Destructed objects are not written.
func (s *Store) SaveDatabase(db *gamedb.Database) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketPlayers} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyNextRef, intToKey(int(db.NextRef))); err != nil {
			return err
		}
		return meta.Put(keySavedAt, intToKey(int(time.Now().Unix())))
	})
	if err != nil {
		return fmt.Errorf("boltstore: reset objects: %w", err)
	}

	batch := make([]*gamedb.Object, 0, 1000)
	count := 0
	for _, ref := range db.Refs() {
		batch = append(batch, db.Objects[ref])
		if len(batch) >= 1000 {
			if err := s.writeBatch(batch); err != nil {
				return err
			}
			count += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.writeBatch(batch); err != nil {
			return err
		}
		count += len(batch)
	}

	log.Printf("boltstore: saved %d objects", count)
	return nil
}

// writeBatch writes a batch of objects in a single transaction.
func (s *Store) writeBatch(objs []*gamedb.Object) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		players := tx.Bucket(bucketPlayers)
		for _, obj := range objs {
			data, err := encodeObject(obj)
			if err != nil {
				return fmt.Errorf("boltstore: encode #%d: %w", obj.DBRef, err)
			}
			if err := b.Put(refToKey(obj.DBRef), data); err != nil {
				return err
			}
			if err := indexPlayer(players, obj); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadDatabase reads the stored world into a fresh Database.
func (s *Store) LoadDatabase() (*gamedb.Database, error) {
	db := gamedb.NewDatabase()
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			obj, err := decodeObject(v)
			if err != nil {
				return fmt.Errorf("decode object #%d: %w", keyToRef(k), err)
			}
			db.Add(obj)
			return nil
		}); err != nil {
			return err
		}
		if v := tx.Bucket(bucketMeta).Get(keyNextRef); v != nil {
			if next := gamedb.DBRef(keyToInt(v)); next > db.NextRef {
				db.NextRef = next
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load objects: %w", err)
	}

	log.Printf("boltstore: loaded %d objects from bolt", len(db.Objects))
	return db, nil
}

// PlayerRef looks a player up in the name index.
func (s *Store) PlayerRef(name string) (gamedb.DBRef, bool) {
	ref, found := gamedb.Nothing, false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get([]byte(strings.ToLower(name))); v != nil {
			ref, found = keyToRef(v), true
		}
		return nil
	})
	return ref, found
}

// HasData returns true if the bbolt database contains any objects.
func (s *Store) HasData() bool {
	hasData := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket(bucketObjects).Cursor().First()
		hasData = k != nil
		return nil
	})
	return hasData
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}

// --- Variable bindings ---

// Get implements varspace.Store.
func (s *Store) Get(actor gamedb.DBRef, name string) ([]gamedb.DBRef, bool) {
	var refs []gamedb.DBRef
	found := false
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBindings).Get(bindingKey(actor, name))
		if v == nil {
			return nil
		}
		var err error
		refs, err = decodeRefs(v)
		found = err == nil
		return err
	})
	if err != nil {
		log.Printf("boltstore: binding %s for #%d: %v", name, actor, err)
	}
	return refs, found
}

// Set implements varspace.Store.
func (s *Store) Set(actor gamedb.DBRef, name string, refs []gamedb.DBRef) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBindings).Put(bindingKey(actor, name), encodeRefs(refs))
	})
}

// Names lists the variables bound for actor, in key order.
func (s *Store) Names(actor gamedb.DBRef) []string {
	prefix := refToKey(actor)
	var names []string
	s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBindings).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			names = append(names, string(k[len(prefix):]))
		}
		return nil
	})
	return names
}

// ClearActor removes every binding held by actor.
func (s *Store) ClearActor(actor gamedb.DBRef) error {
	prefix := refToKey(actor)
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBindings)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
