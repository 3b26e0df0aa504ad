package boltstore

import (
	"encoding/binary"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketObjects  = []byte("objects")
	bucketPlayers  = []byte("players")
	bucketBindings = []byte("bindings")
)

// Meta key constants.
var (
	keyNextRef = []byte("nextref")
	keySavedAt = []byte("savedat")
)

// refToKey converts a DBRef to an 8-byte big-endian key.
// We offset by a large constant so negative DBRefs (Nothing=-1, etc.) sort correctly.
func refToKey(ref gamedb.DBRef) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(ref)+1<<32))
	return buf
}

// keyToRef converts an 8-byte big-endian key back to a DBRef.
func keyToRef(b []byte) gamedb.DBRef {
	v := binary.BigEndian.Uint64(b)
	return gamedb.DBRef(int64(v) - 1<<32)
}

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// bindingKey is the actor's ref key followed by the variable name, so one
// actor's bindings are contiguous and can be scanned with a prefix seek.
func bindingKey(actor gamedb.DBRef, name string) []byte {
	return append(refToKey(actor), []byte(name)...)
}
