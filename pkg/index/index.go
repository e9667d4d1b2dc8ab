// ABOUTME: Secondary index entries: indexed_value_bytes -> doc_id, via the
// ABOUTME: same copy-on-write B-tree used for primary collections

package index

import (
	"bytes"
	"fmt"

	"github.com/nainya/docbase/pkg/btree"
	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/keyenc"
)

// Definition describes one secondary index on a single field, per
// CollectionHandle.create_index(name, field, unique).
type Definition struct {
	Name   string
	Field  string
	Unique bool
	Prefix uint32
}

// Put inserts (or, for a non-unique index, adds another) index entry
// mapping fieldVal to docID. For a unique index, any existing entry for
// fieldVal belonging to a different doc_id is rejected with UniqueViolation
// before the new entry is written.
func Put(tree *btree.BTree, def Definition, fieldVal keyenc.Value, docID string) error {
	if def.Unique {
		if err := checkUnique(tree, def, fieldVal, docID); err != nil {
			return err
		}
	}
	tree.Insert(entryKey(def, fieldVal, docID), []byte{})
	return nil
}

// Delete removes the index entry for fieldVal/docID, e.g. when a document
// is deleted or the indexed field's value changes.
func Delete(tree *btree.BTree, def Definition, fieldVal keyenc.Value, docID string) {
	tree.Delete(entryKey(def, fieldVal, docID))
}

// Lookup returns every doc_id indexed under fieldVal (more than one only
// for a non-unique index).
func Lookup(tree *btree.BTree, def Definition, fieldVal keyenc.Value) []string {
	var ids []string
	prefix := keyenc.EncodeKeyPartial(def.Prefix, []keyenc.Value{fieldVal}, keyenc.CmpGE)
	tree.Scan(prefix, func(k, _ []byte) bool {
		vals, err := keyenc.ExtractValues(k)
		if err != nil || len(vals) != 2 || !valueEqual(vals[0], fieldVal) {
			return false
		}
		ids = append(ids, string(vals[1].Str))
		return true
	})
	return ids
}

func checkUnique(tree *btree.BTree, def Definition, fieldVal keyenc.Value, docID string) error {
	conflict := false
	prefix := keyenc.EncodeKeyPartial(def.Prefix, []keyenc.Value{fieldVal}, keyenc.CmpGE)
	tree.Scan(prefix, func(k, _ []byte) bool {
		vals, err := keyenc.ExtractValues(k)
		if err != nil || len(vals) != 2 || !valueEqual(vals[0], fieldVal) {
			return false
		}
		if string(vals[1].Str) != docID {
			conflict = true
		}
		return false
	})
	if conflict {
		return dberr.Conflict(dberr.ReasonUniqueViolation, fmt.Sprintf("unique index %q violated", def.Name))
	}
	return nil
}

func entryKey(def Definition, fieldVal keyenc.Value, docID string) []byte {
	return keyenc.EncodeKey(def.Prefix, []keyenc.Value{fieldVal, keyenc.Bytes([]byte(docID))})
}

func valueEqual(a, b keyenc.Value) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == keyenc.TypeInt64 {
		return a.I64 == b.I64
	}
	return bytes.Equal(a.Str, b.Str)
}
