package index

import (
	"errors"
	"testing"

	"github.com/nainya/docbase/pkg/btree"
	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/keyenc"
)

// memTree wires a btree.BTree to a trivial in-memory page store, enough to
// exercise index logic without a pager/WAL.
func memTree(t *testing.T) *btree.BTree {
	t.Helper()
	pages := make(map[uint64][]byte)
	var next uint64 = 1
	tree := &btree.BTree{}
	tree.SetCallbacks(
		func(ptr uint64) []byte { return pages[ptr] },
		func(data []byte) uint64 {
			ptr := next
			next++
			cp := make([]byte, len(data))
			copy(cp, data)
			pages[ptr] = cp
			return ptr
		},
		func(ptr uint64) { delete(pages, ptr) },
	)
	return tree
}

func TestUniqueIndexRejectsDuplicateValueDifferentDoc(t *testing.T) {
	tree := memTree(t)
	def := Definition{Name: "by_email", Field: "email", Unique: true, Prefix: 1}

	if err := Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc2")
	if err == nil {
		t.Fatal("expected UniqueViolation for duplicate indexed value")
	}
	var dbErr *dberr.Error
	if !errors.As(err, &dbErr) || dbErr.Reason != dberr.ReasonUniqueViolation {
		t.Fatalf("expected UniqueViolation, got %v", err)
	}
}

func TestUniqueIndexAllowsReinsertingSameDoc(t *testing.T) {
	tree := memTree(t)
	def := Definition{Name: "by_email", Field: "email", Unique: true, Prefix: 1}

	if err := Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc1"); err != nil {
		t.Fatalf("expected re-insert by the same doc to succeed, got %v", err)
	}
}

func TestNonUniqueIndexAllowsMultipleDocs(t *testing.T) {
	tree := memTree(t)
	def := Definition{Name: "by_status", Field: "status", Unique: false, Prefix: 2}

	if err := Put(tree, def, keyenc.Bytes([]byte("active")), "doc1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := Put(tree, def, keyenc.Bytes([]byte("active")), "doc2"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ids := Lookup(tree, def, keyenc.Bytes([]byte("active")))
	if len(ids) != 2 {
		t.Fatalf("expected 2 doc ids, got %v", ids)
	}
}

func TestDeleteRemovesIndexEntry(t *testing.T) {
	tree := memTree(t)
	def := Definition{Name: "by_email", Field: "email", Unique: true, Prefix: 1}

	_ = Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc1")
	Delete(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc1")

	ids := Lookup(tree, def, keyenc.Bytes([]byte("a@b.com")))
	if len(ids) != 0 {
		t.Fatalf("expected no entries after delete, got %v", ids)
	}
	// The value is free again for a different doc.
	if err := Put(tree, def, keyenc.Bytes([]byte("a@b.com")), "doc2"); err != nil {
		t.Fatalf("expected reuse after delete to succeed, got %v", err)
	}
}
