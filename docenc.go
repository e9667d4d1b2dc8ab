// ABOUTME: Document value encoding: inline JSON or an overflow page chain
// ABOUTME: when a document exceeds the B-tree's per-value size limit

package docbase

import (
	"encoding/binary"
	"encoding/json"

	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/keyenc"
	"github.com/nainya/docbase/pkg/pager"
	"github.com/nainya/docbase/pkg/txn"
)

const (
	tagInline   byte = 0
	tagOverflow byte = 1
)

// inlineMaxJSON leaves headroom under the B-tree's BTREE_MAX_VAL_SIZE (3000
// bytes) for the 1-byte tag and any future per-value framing.
const inlineMaxJSON = 2900

// Overflow pages are plain pager pages, not B-tree nodes: [4-byte chunk
// length][8-byte next-page pointer][up to overflowChunkCapacity bytes].
const overflowChunkHeaderSize = 4 + 8
const overflowChunkCapacity = pager.PageSize - overflowChunkHeaderSize

// marshalDocument encodes doc as canonical JSON, inlining it into the
// B-tree value when it fits and otherwise spilling it into a chain of
// overflow pages referenced by a head pointer and total length.
func marshalDocument(ttx *txn.Transaction, doc map[string]any) ([]byte, error) {
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, dberr.InvalidArgument("document is not JSON-encodable: " + err.Error())
	}
	if len(js) <= inlineMaxJSON {
		out := make([]byte, 1+len(js))
		out[0] = tagInline
		copy(out[1:], js)
		return out, nil
	}

	head := writeOverflowChain(ttx, js)
	out := make([]byte, 1+8+8)
	out[0] = tagOverflow
	binary.BigEndian.PutUint64(out[1:9], head)
	binary.BigEndian.PutUint64(out[9:17], uint64(len(js)))
	return out, nil
}

// writeOverflowChain allocates the chain back-to-front, so each page's
// next-pointer is known before the page ahead of it is built, and returns
// the head page's pointer.
func writeOverflowChain(ttx *txn.Transaction, data []byte) uint64 {
	var chunks [][]byte
	for off := 0; off < len(data); off += overflowChunkCapacity {
		end := off + overflowChunkCapacity
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}

	var next uint64
	for i := len(chunks) - 1; i >= 0; i-- {
		page := make([]byte, pager.PageSize)
		binary.BigEndian.PutUint32(page[0:4], uint32(len(chunks[i])))
		binary.BigEndian.PutUint64(page[4:12], next)
		copy(page[overflowChunkHeaderSize:], chunks[i])
		next = ttx.New(page)
	}
	return next
}

// unmarshalDocument reverses marshalDocument, following the overflow chain
// if the value's tag calls for it.
func unmarshalDocument(ttx *txn.Transaction, value []byte) (map[string]any, error) {
	if len(value) == 0 {
		return nil, dberr.Corrupt("empty document value")
	}

	var js []byte
	switch value[0] {
	case tagInline:
		js = value[1:]
	case tagOverflow:
		if len(value) < 17 {
			return nil, dberr.Corrupt("truncated overflow document header")
		}
		head := binary.BigEndian.Uint64(value[1:9])
		total := binary.BigEndian.Uint64(value[9:17])
		data, err := readOverflowChain(ttx, head, total)
		if err != nil {
			return nil, err
		}
		js = data
	default:
		return nil, dberr.Corrupt("unknown document value tag")
	}

	var doc map[string]any
	if err := json.Unmarshal(js, &doc); err != nil {
		return nil, dberr.Corrupt("document JSON is invalid: " + err.Error())
	}
	return doc, nil
}

func readOverflowChain(ttx *txn.Transaction, head uint64, total uint64) ([]byte, error) {
	data := make([]byte, 0, total)
	ptr := head
	for ptr != 0 {
		page := ttx.Get(ptr)
		if len(page) < overflowChunkHeaderSize {
			return nil, dberr.Corrupt("truncated overflow page")
		}
		chunkLen := binary.BigEndian.Uint32(page[0:4])
		next := binary.BigEndian.Uint64(page[4:12])
		if overflowChunkHeaderSize+int(chunkLen) > len(page) {
			return nil, dberr.Corrupt("overflow chunk length out of bounds")
		}
		data = append(data, page[overflowChunkHeaderSize:overflowChunkHeaderSize+int(chunkLen)]...)
		ptr = next
	}
	if uint64(len(data)) != total {
		return nil, dberr.Corrupt("overflow chain length mismatch")
	}
	return data, nil
}

// freeOverflowChain releases every page in value's overflow chain, if it
// has one. Called whenever a document that might be overflow-encoded is
// replaced or deleted.
func freeOverflowChain(ttx *txn.Transaction, value []byte) {
	if len(value) < 17 || value[0] != tagOverflow {
		return
	}
	ptr := binary.BigEndian.Uint64(value[1:9])
	for ptr != 0 {
		page := ttx.Get(ptr)
		if len(page) < overflowChunkHeaderSize {
			return
		}
		next := binary.BigEndian.Uint64(page[4:12])
		ttx.Del(ptr)
		ptr = next
	}
}

// fieldToIndexValue bridges an arbitrary JSON-decoded field value into the
// ordered key encoding secondary indexes and full-text postings share.
// encoding/json always decodes numbers as float64; indexing truncates to
// int64 rather than rejecting non-integral values (see DESIGN.md).
func fieldToIndexValue(v any) (keyenc.Value, bool) {
	switch x := v.(type) {
	case string:
		return keyenc.Bytes([]byte(x)), true
	case float64:
		return keyenc.Int64(int64(x)), true
	case bool:
		if x {
			return keyenc.Int64(1), true
		}
		return keyenc.Int64(0), true
	default:
		return keyenc.Value{}, false
	}
}
