package bucketheap

import (
	"io"

	"github.com/NebulousLabs/Sia/build"
)

// RecordReader yields the bytes of one record, following its page chain
// in order. Obtain one from HeapFile.GetRecordReader; it must be closed
// when no longer needed.
type RecordReader struct {
	heap        *HeapFile
	internalKey int64
	isIndex     bool

	available int64
	current   *page
	closed    bool
}

// newRecordReader constructs a reader for internalKey. For the reserved
// directory key (isIndex), no byte count is tracked: reads follow the
// chain until it's exhausted. Callers holding heap.mu may invoke this
// directly; it performs no locking itself.
func (h *HeapFile) newRecordReader(internalKey int64, isIndex bool) (*RecordReader, error) {
	var start int64
	var available int64

	if isIndex {
		start = h.directoryStartAddress
	} else {
		entry, ok := h.directory.get(internalKey)
		if !ok {
			return nil, nil
		}
		start = entry.startPageAddress
		available = int64(entry.numberOfBytes)
	}

	first, err := loadPage(h.file, start, h.pageDataSize)
	if err != nil {
		return nil, build.ExtendErr("failed to load record's start page", err)
	}

	return &RecordReader{
		heap:        h,
		internalKey: internalKey,
		isIndex:     isIndex,
		available:   available,
		current:     first,
	}, nil
}

// Read implements io.Reader. It accumulates bytes across continuation
// transitions; for non-directory records the returned length is clipped
// to the directory-recorded byte count.
func (r *RecordReader) Read(p []byte) (int, error) {
	r.heap.mu.Lock()
	defer r.heap.mu.Unlock()
	return r.readLocked(p)
}

func (r *RecordReader) readLocked(p []byte) (int, error) {
	if r.closed {
		return 0, ErrIllegalState
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		if !r.current.hasMore() {
			if !r.current.hasContinuation() {
				break
			}
			next, err := loadPage(r.heap.file, r.current.getContinuation(), r.heap.pageDataSize)
			if err != nil {
				return total, build.ExtendErr("failed to follow record's continuation", err)
			}
			r.current = next
			continue
		}
		n := r.current.readBytes(p[total:])
		total += n
	}

	if !r.isIndex {
		if int64(total) > r.available {
			total = int(r.available)
		}
		r.available -= int64(total)
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// ReadByte implements io.ByteReader. It reproduces a subtle quirk of the
// original format: once available reaches zero for a non-directory
// record, it reports EOF even if the current page still has buffered
// bytes, rather than checking the page first.
func (r *RecordReader) ReadByte() (byte, error) {
	r.heap.mu.Lock()
	defer r.heap.mu.Unlock()
	return r.readByteLocked()
}

func (r *RecordReader) readByteLocked() (byte, error) {
	if r.closed {
		return 0, ErrIllegalState
	}
	if !r.isIndex && r.available <= 0 {
		return 0, io.EOF
	}

	if !r.current.hasMore() {
		if !r.current.hasContinuation() {
			return 0, io.EOF
		}
		next, err := loadPage(r.heap.file, r.current.getContinuation(), r.heap.pageDataSize)
		if err != nil {
			return 0, build.ExtendErr("failed to follow record's continuation", err)
		}
		r.current = next
		if !r.current.hasMore() {
			return 0, io.EOF
		}
	}

	b := r.current.readNextByte()
	if !r.isIndex {
		r.available--
	}
	return b, nil
}

// Available reports the record's remaining byte count: the
// directory-recorded size minus bytes already returned, counted over the
// whole page chain. For the directory record it reports 0.
func (r *RecordReader) Available() int64 {
	r.heap.mu.Lock()
	defer r.heap.mu.Unlock()
	if r.isIndex {
		return 0
	}
	return r.available
}

// Close releases the reader. Closing is idempotent; reading after close
// fails with ErrIllegalState.
func (r *RecordReader) Close() error {
	r.heap.mu.Lock()
	defer r.heap.mu.Unlock()
	return r.closeLocked()
}

func (r *RecordReader) closeLocked() error {
	if r.closed {
		return nil
	}
	r.closed = true
	delete(r.heap.readers, r)
	return nil
}
