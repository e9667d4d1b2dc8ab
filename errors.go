// ABOUTME: docbase's error type is dberr.Error re-exported at the root so
// ABOUTME: callers never need to import the internal error package directly

package docbase

import "github.com/nainya/docbase/pkg/dberr"

// Error is the single error type every docbase operation returns, wrapping
// a closed set of Kinds so callers can branch with errors.Is or a type
// assertion instead of matching on message text.
type Error = dberr.Error

// ErrorKind enumerates the failure classes an Error can carry.
type ErrorKind = dberr.Kind

const (
	KindCorrupt         = dberr.KindCorrupt
	KindIoError         = dberr.KindIoError
	KindNotFound        = dberr.KindNotFound
	KindConflict        = dberr.KindConflict
	KindSchemaViolation = dberr.KindSchemaViolation
	KindInvalidArgument = dberr.KindInvalidArgument
	KindClosed          = dberr.KindClosed
)

// Sentinel errors usable with errors.Is.
var (
	ErrUniqueViolation  = dberr.ErrUniqueViolation
	ErrConflictTooLarge = dberr.ErrConflictTooLarge
	ErrClosed           = dberr.Closed
)
