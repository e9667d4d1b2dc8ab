// ABOUTME: WAL record encoding: page-image frames plus a trailing commit marker
// ABOUTME: CRC32-checksummed and LSN-sequenced, reshaped from a KV-op log

package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/pager"
)

type recKind byte

const (
	recFrame  recKind = 1
	recCommit recKind = 2
)

// frameHeaderSize covers Kind(1) + LSN(8) + TxID(8) + PageNum(8); the
// page image (fixed PageSize bytes) follows for recFrame only, and every
// record ends with a CRC32(4) over everything preceding it.
const frameHeaderSize = 1 + 8 + 8 + 8

// Frame is one page image written by a transaction, per spec:
// (tx_id, page_num, page_image, checksum).
type Frame struct {
	LSN     uint64
	TxID    uint64
	PageNum uint64
	Image   []byte
}

func encodeFrame(lsn, txID, pageNum uint64, image []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(image)+4)
	buf[0] = byte(recFrame)
	binary.LittleEndian.PutUint64(buf[1:], lsn)
	binary.LittleEndian.PutUint64(buf[9:], txID)
	binary.LittleEndian.PutUint64(buf[17:], pageNum)
	copy(buf[frameHeaderSize:], image)
	crc := crc32.ChecksumIEEE(buf[:frameHeaderSize+len(image)])
	binary.LittleEndian.PutUint32(buf[frameHeaderSize+len(image):], crc)
	return buf
}

func encodeCommit(lsn, txID uint64) []byte {
	buf := make([]byte, frameHeaderSize+4)
	buf[0] = byte(recCommit)
	binary.LittleEndian.PutUint64(buf[1:], lsn)
	binary.LittleEndian.PutUint64(buf[9:], txID)
	// PageNum field unused for commit records, left zero.
	crc := crc32.ChecksumIEEE(buf[:frameHeaderSize])
	binary.LittleEndian.PutUint32(buf[frameHeaderSize:], crc)
	return buf
}

// record is a decoded frame or commit marker read back during recovery or
// lookup-index rebuilding.
type record struct {
	kind    recKind
	lsn     uint64
	txID    uint64
	pageNum uint64
	image   []byte
	size    int // total encoded size, for advancing the read cursor
}

// decodeRecordAt decodes one record starting at buf[0:], returning nil,
// ErrTruncated if buf doesn't hold a complete, checksum-valid record --
// the caller treats that as "end of committed log" during recovery.
func decodeRecordAt(buf []byte) (*record, error) {
	if len(buf) < frameHeaderSize+4 {
		return nil, ErrTruncated
	}
	kind := recKind(buf[0])
	lsn := binary.LittleEndian.Uint64(buf[1:])
	txID := binary.LittleEndian.Uint64(buf[9:])
	pageNum := binary.LittleEndian.Uint64(buf[17:])

	switch kind {
	case recCommit:
		total := frameHeaderSize + 4
		if len(buf) < total {
			return nil, ErrTruncated
		}
		stored := binary.LittleEndian.Uint32(buf[frameHeaderSize:])
		if crc32.ChecksumIEEE(buf[:frameHeaderSize]) != stored {
			return nil, ErrCorrupted
		}
		return &record{kind: kind, lsn: lsn, txID: txID, size: total}, nil
	case recFrame:
		total := frameHeaderSize + pager.PageSize + 4
		if len(buf) < total {
			return nil, ErrTruncated
		}
		stored := binary.LittleEndian.Uint32(buf[frameHeaderSize+pager.PageSize:])
		if crc32.ChecksumIEEE(buf[:frameHeaderSize+pager.PageSize]) != stored {
			return nil, ErrCorrupted
		}
		image := make([]byte, pager.PageSize)
		copy(image, buf[frameHeaderSize:frameHeaderSize+pager.PageSize])
		return &record{kind: kind, lsn: lsn, txID: txID, pageNum: pageNum, image: image, size: total}, nil
	default:
		return nil, dberr.Corrupt("unknown WAL record kind")
	}
}
