// ABOUTME: Page-0 header layout: magic, version, page size, free list
// ABOUTME: validate_on_open bounds-checks every field before trusting it

package pager

import (
	"encoding/binary"

	"github.com/nainya/docbase/pkg/dberr"
)

const (
	// PageSize is compile-time fixed; a header claiming otherwise is rejected.
	PageSize = 4096

	magic   = uint32(0x44434253) // "DCBS"
	version = uint32(1)

	// Fixed-field layout: magic(4) version(4) page_size(4) num_pages(8)
	// free_count(4) metadata_page(8) next_tx_id(8).
	headerFixedSize = 4 + 4 + 4 + 8 + 4 + 8 + 8

	// freeListCapacity bounds how many free page numbers fit after the
	// fixed fields within a single 4096-byte header page.
	freeListCapacity = (PageSize - headerFixedSize) / 8
)

type header struct {
	numPages     uint64
	metadataPage uint64
	nextTxID     uint64
	free         []uint64
}

func (h *header) encode() []byte {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], version)
	binary.LittleEndian.PutUint32(buf[8:], PageSize)
	binary.LittleEndian.PutUint64(buf[12:], h.numPages)
	binary.LittleEndian.PutUint32(buf[20:], uint32(len(h.free)))
	binary.LittleEndian.PutUint64(buf[24:], h.metadataPage)
	binary.LittleEndian.PutUint64(buf[32:], h.nextTxID)
	pos := headerFixedSize
	for _, p := range h.free {
		binary.LittleEndian.PutUint64(buf[pos:], p)
		pos += 8
	}
	return buf
}

// decodeHeader implements validate_on_open: magic/version/page_size are
// checked, metadata_page is bounds-checked against num_pages, and free_count
// is rejected if it would read past the page before any of its entries are
// trusted.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerFixedSize {
		return nil, dberr.Corrupt("header shorter than fixed fields")
	}
	if got := binary.LittleEndian.Uint32(buf[0:]); got != magic {
		return nil, dberr.Corrupt("bad magic")
	}
	if got := binary.LittleEndian.Uint32(buf[4:]); got != version {
		return nil, dberr.Corrupt("unsupported version")
	}
	if got := binary.LittleEndian.Uint32(buf[8:]); got != PageSize {
		return nil, dberr.Corrupt("page_size mismatch")
	}

	h := &header{}
	h.numPages = binary.LittleEndian.Uint64(buf[12:])
	freeCount := binary.LittleEndian.Uint32(buf[20:])
	h.metadataPage = binary.LittleEndian.Uint64(buf[24:])
	h.nextTxID = binary.LittleEndian.Uint64(buf[32:])

	if h.metadataPage != 0 && h.metadataPage >= h.numPages {
		return nil, dberr.Corrupt("MetadataOutOfRange")
	}

	end := headerFixedSize + int(freeCount)*8
	if freeCount > freeListCapacity || end > PageSize {
		return nil, dberr.Corrupt("FreeListOutOfBounds")
	}

	h.free = make([]uint64, freeCount)
	pos := headerFixedSize
	for i := range h.free {
		p := binary.LittleEndian.Uint64(buf[pos:])
		if p >= h.numPages {
			return nil, dberr.Corrupt("FreeListOutOfBounds")
		}
		h.free[i] = p
		pos += 8
	}
	return h, nil
}
