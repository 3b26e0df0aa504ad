package boltstore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

func init() {
	gob.Register(gamedb.Object{})
}

// encodeObject serializes an Object to bytes using gob.
func encodeObject(obj *gamedb.Object) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeObject deserializes bytes back into an Object.
func decodeObject(data []byte) (*gamedb.Object, error) {
	var obj gamedb.Object
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// refsVersion leads every binding value, so a bound-but-empty variable
// still has a non-empty value in bolt.
const refsVersion = 1

// encodeRefs serializes a binding value as a run of 8-byte ref keys.
func encodeRefs(refs []gamedb.DBRef) []byte {
	buf := make([]byte, 1, 1+8*len(refs))
	buf[0] = refsVersion
	for _, r := range refs {
		buf = append(buf, refToKey(r)...)
	}
	return buf
}

// decodeRefs is the inverse of encodeRefs.
func decodeRefs(data []byte) ([]gamedb.DBRef, error) {
	if len(data) == 0 || data[0] != refsVersion || (len(data)-1)%8 != 0 {
		return nil, fmt.Errorf("boltstore: bad binding value (%d bytes)", len(data))
	}
	refs := make([]gamedb.DBRef, 0, (len(data)-1)/8)
	for i := 1; i < len(data); i += 8 {
		refs = append(refs, keyToRef(data[i:i+8]))
	}
	return refs, nil
}
