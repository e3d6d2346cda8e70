package bucketheap

import "errors"

// Error kinds returned by the public operations of a HeapFile and its
// streams. CorruptedPage errors wrap ErrCorruptedPage with errors.Is
// support; the rest are returned as sentinel values directly.
var (
	// ErrAlreadyLocked is returned when the advisory lock on the backing
	// file could not be acquired because another process holds it.
	ErrAlreadyLocked = errors.New("bucketheap: file is already locked")

	// ErrUnsupportedVersion is returned when a file's header carries a
	// version string that is neither current nor the accepted legacy one.
	ErrUnsupportedVersion = errors.New("bucketheap: unsupported file version")

	// ErrCorruptedPage is returned (wrapped with the offending address)
	// when a page's magic word doesn't match on load.
	ErrCorruptedPage = errors.New("bucketheap: page magic word mismatch")

	// ErrIllegalState is returned when a caller violates the reader/writer
	// exclusivity rules, operates on a closed stream, or mutates a
	// read-only file.
	ErrIllegalState = errors.New("bucketheap: illegal state")

	// ErrStreamsOpenAtClose is returned by HeapFile.Close when readers or
	// a writer were still live at the time Close was called. Close still
	// performs the shutdown; this is a diagnostic, not a failure to close.
	ErrStreamsOpenAtClose = errors.New("bucketheap: streams were still open at close")
)
