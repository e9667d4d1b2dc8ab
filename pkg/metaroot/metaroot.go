// ABOUTME: Metadata root: the single page describing collections, their
// ABOUTME: primary/index root pages, and schemas -- updated copy-on-write

package metaroot

import (
	"encoding/binary"
	"math"

	"github.com/nainya/docbase/pkg/dberr"
)

const (
	pageSize = 4096
	magic    = uint32(0x4d455441) // "META"
)

// IndexMeta describes one secondary index: its own B-tree, rooted
// independently of the collection's primary tree.
type IndexMeta struct {
	Name     string
	Field    string
	Unique   bool
	RootPage uint64
}

// FTSField weights one field's contribution to a full-text search match.
type FTSField struct {
	Field  string
	Weight float64
}

// SearchMeta is a collection's full-text postings tree, present only once
// a caller has enabled search on that collection.
type SearchMeta struct {
	RootPage uint64
	Fields   []FTSField
}

// CollectionMeta is one collection's entry in the registry: its primary
// tree's root page, its secondary indexes, and an optional JSON-schema
// blob (stored, never validated against -- see DESIGN.md). Dropped is
// always false today; the API exposes no collection-drop operation, but
// the field exists so a future one could be metadata-only, per spec.md's
// "collections cannot be dropped" design note.
type CollectionMeta struct {
	Name        string
	PrimaryRoot uint64
	Indexes     []IndexMeta
	Schema      []byte
	Search      *SearchMeta
	Dropped     bool
}

// Root is the metadata root's in-memory form: {collections, next_doc_id_seed}.
type Root struct {
	Collections   []CollectionMeta
	NextDocIDSeed uint64
}

func New() *Root { return &Root{} }

func (r *Root) Collection(name string) (*CollectionMeta, bool) {
	for i := range r.Collections {
		if r.Collections[i].Name == name && !r.Collections[i].Dropped {
			return &r.Collections[i], true
		}
	}
	return nil, false
}

// EnsureCollection implicitly creates the named collection (with an empty
// primary tree, root page 0) on first reference, per spec.md's collection
// lifecycle.
func (r *Root) EnsureCollection(name string) *CollectionMeta {
	if c, ok := r.Collection(name); ok {
		return c
	}
	r.Collections = append(r.Collections, CollectionMeta{Name: name})
	return &r.Collections[len(r.Collections)-1]
}

func (c *CollectionMeta) Index(name string) (*IndexMeta, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Name == name {
			return &c.Indexes[i], true
		}
	}
	return nil, false
}

func (c *CollectionMeta) DropIndex(name string) bool {
	for i := range c.Indexes {
		if c.Indexes[i].Name == name {
			c.Indexes = append(c.Indexes[:i], c.Indexes[i+1:]...)
			return true
		}
	}
	return false
}

// NextDocID hands out the next seed value for documents inserted without
// a caller-supplied _id. The actual _id string is a UUID (see the root
// package); this counter is kept purely because spec.md's metadata root
// format names it explicitly.
func (r *Root) NextDocID() uint64 {
	r.NextDocIDSeed++
	return r.NextDocIDSeed
}

func (r *Root) Clone() *Root {
	out := &Root{NextDocIDSeed: r.NextDocIDSeed, Collections: make([]CollectionMeta, len(r.Collections))}
	for i, c := range r.Collections {
		out.Collections[i] = c
		out.Collections[i].Indexes = append([]IndexMeta(nil), c.Indexes...)
		out.Collections[i].Schema = append([]byte(nil), c.Schema...)
		if c.Search != nil {
			s := &SearchMeta{RootPage: c.Search.RootPage, Fields: append([]FTSField(nil), c.Search.Fields...)}
			out.Collections[i].Search = s
		}
	}
	return out
}

// Encode serializes the registry into a single page. Exceeding the page's
// capacity is rejected rather than spilling into an overflow chain -- the
// same accepted limitation as the pager's header free list (see DESIGN.md).
func (r *Root) Encode() ([]byte, error) {
	buf := make([]byte, 0, pageSize)
	buf = appendUint32(buf, magic)
	buf = appendUint64(buf, r.NextDocIDSeed)
	buf = appendUint32(buf, uint32(len(r.Collections)))
	for _, c := range r.Collections {
		buf = appendString(buf, c.Name)
		buf = appendUint64(buf, c.PrimaryRoot)
		buf = appendBool(buf, c.Dropped)
		buf = appendBytes(buf, c.Schema)
		buf = appendUint32(buf, uint32(len(c.Indexes)))
		for _, idx := range c.Indexes {
			buf = appendString(buf, idx.Name)
			buf = appendString(buf, idx.Field)
			buf = appendBool(buf, idx.Unique)
			buf = appendUint64(buf, idx.RootPage)
		}
		buf = appendBool(buf, c.Search != nil)
		if c.Search != nil {
			buf = appendUint64(buf, c.Search.RootPage)
			buf = appendUint32(buf, uint32(len(c.Search.Fields)))
			for _, f := range c.Search.Fields {
				buf = appendString(buf, f.Field)
				buf = appendUint64(buf, math.Float64bits(f.Weight))
			}
		}
	}
	if len(buf) > pageSize {
		return nil, dberr.New(dberr.KindInvalidArgument, "metadata root exceeds one page")
	}
	out := make([]byte, pageSize)
	copy(out, buf)
	return out, nil
}

// Decode parses a metadata root page, bounds-checking every length-prefixed
// field before trusting it.
func Decode(buf []byte) (*Root, error) {
	if len(buf) < 4 || binary.BigEndian.Uint32(buf) != magic {
		return nil, dberr.Corrupt("bad metadata root magic")
	}
	d := &decoder{buf: buf, pos: 4}
	r := &Root{}
	r.NextDocIDSeed = d.uint64()
	nColls := d.uint32()
	if d.err != nil {
		return nil, d.err
	}
	r.Collections = make([]CollectionMeta, 0, nColls)
	for i := uint32(0); i < nColls; i++ {
		var c CollectionMeta
		c.Name = d.string()
		c.PrimaryRoot = d.uint64()
		c.Dropped = d.bool()
		c.Schema = d.bytes()
		nIdx := d.uint32()
		if d.err != nil {
			return nil, d.err
		}
		c.Indexes = make([]IndexMeta, 0, nIdx)
		for j := uint32(0); j < nIdx; j++ {
			var idx IndexMeta
			idx.Name = d.string()
			idx.Field = d.string()
			idx.Unique = d.bool()
			idx.RootPage = d.uint64()
			if d.err != nil {
				return nil, d.err
			}
			c.Indexes = append(c.Indexes, idx)
		}
		if d.bool() {
			var s SearchMeta
			s.RootPage = d.uint64()
			nFields := d.uint32()
			if d.err != nil {
				return nil, d.err
			}
			s.Fields = make([]FTSField, 0, nFields)
			for k := uint32(0); k < nFields; k++ {
				var f FTSField
				f.Field = d.string()
				f.Weight = math.Float64frombits(d.uint64())
				if d.err != nil {
					return nil, d.err
				}
				s.Fields = append(s.Fields, f)
			}
			c.Search = &s
		}
		if d.err != nil {
			return nil, d.err
		}
		r.Collections = append(r.Collections, c)
	}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

func appendString(buf []byte, v string) []byte {
	return appendBytes(buf, []byte(v))
}

type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.buf) {
		d.err = dberr.Corrupt("metadata root truncated")
		return false
	}
	return true
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v
}

func (d *decoder) bool() bool {
	if !d.need(1) {
		return false
	}
	v := d.buf[d.pos] != 0
	d.pos++
	return v
}

func (d *decoder) bytes() []byte {
	n := d.uint32()
	if !d.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return v
}

func (d *decoder) string() string {
	return string(d.bytes())
}
