package bucketheap

import (
	"github.com/NebulousLabs/Sia/build"
)

// RecordWriter appends bytes across a linked page chain for one record,
// allocating pages on demand. Obtain one from HeapFile.GetRecordWriter;
// nothing is committed to the directory until Close.
type RecordWriter struct {
	heap        *HeapFile
	internalKey int64
	isIndex     bool

	startAddress int64
	current      *page
	count        int64
	closed       bool
}

// newRecordWriter constructs a writer for internalKey, reusing the
// existing start page if one is recorded for this key (or fixed, for the
// directory's own key) and allocating a fresh page otherwise. Callers
// holding heap.mu may invoke this directly; it performs no locking itself.
func (h *HeapFile) newRecordWriter(internalKey int64, isIndex bool) (*RecordWriter, error) {
	var start int64
	var existing bool

	if isIndex {
		start = h.directoryStartAddress
		existing = true
	} else if entry, ok := h.directory.get(internalKey); ok {
		start = entry.startPageAddress
		existing = true
	}

	var first *page
	var err error
	if existing {
		first, err = loadPage(h.file, start, h.pageDataSize)
		if err != nil {
			return nil, build.ExtendErr("failed to load record's existing start page", err)
		}
	} else {
		start, err = h.directory.allocate()
		if err != nil {
			return nil, build.ExtendErr("failed to allocate record's start page", err)
		}
		first = newPage(h.file, start, h.pageDataSize)
	}

	return &RecordWriter{
		heap:         h,
		internalKey:  internalKey,
		isIndex:      isIndex,
		startAddress: start,
		current:      first,
	}, nil
}

// advance moves to the next page in the chain, reusing an existing
// continuation if present or allocating and linking a new page otherwise.
// Either way the current page is flushed before moving on.
func (w *RecordWriter) advance() error {
	if w.current.hasContinuation() {
		next, err := loadPage(w.heap.file, w.current.getContinuation(), w.heap.pageDataSize)
		if err != nil {
			return build.ExtendErr("failed to follow record's continuation while writing", err)
		}
		if err := w.current.flush(); err != nil {
			return err
		}
		w.current = next
		return nil
	}

	address, err := w.heap.directory.allocate()
	if err != nil {
		return build.ExtendErr("failed to allocate page while writing", err)
	}
	w.current.setContinuation(address)
	if err := w.current.flush(); err != nil {
		return err
	}
	w.current = newPage(w.heap.file, address, w.heap.pageDataSize)
	return nil
}

// Write implements io.Writer, copying as many bytes as fit into the
// current page, transitioning to further pages as needed.
func (w *RecordWriter) Write(p []byte) (int, error) {
	w.heap.mu.Lock()
	defer w.heap.mu.Unlock()
	return w.writeLocked(p)
}

func (w *RecordWriter) writeLocked(p []byte) (int, error) {
	if w.closed {
		return 0, ErrIllegalState
	}

	total := 0
	for total < len(p) {
		if !w.current.hasMore() {
			if err := w.advance(); err != nil {
				return total, err
			}
		}
		n := w.current.writeBytes(p[total:])
		total += n
	}
	w.count += int64(total)
	return total, nil
}

// WriteByte implements io.ByteWriter.
func (w *RecordWriter) WriteByte(b byte) error {
	w.heap.mu.Lock()
	defer w.heap.mu.Unlock()
	return w.writeByteLocked(b)
}

func (w *RecordWriter) writeByteLocked(b byte) error {
	if w.closed {
		return ErrIllegalState
	}
	if !w.current.hasMore() {
		if err := w.advance(); err != nil {
			return err
		}
	}
	w.current.writeByte(b)
	w.count++
	return nil
}

// Flush is a no-op: the writer's last page may remain buffered until
// Close. Only Close commits it.
func (w *RecordWriter) Flush() error {
	return nil
}

// Close deallocates any surplus continuation pages left over from a
// shorter overwrite, flushes the final page, and records the record's
// start page and byte count in the directory. Closing is idempotent.
func (w *RecordWriter) Close() error {
	w.heap.mu.Lock()
	defer w.heap.mu.Unlock()
	return w.closeLocked()
}

func (w *RecordWriter) closeLocked() error {
	if w.closed {
		return nil
	}

	if w.current.hasContinuation() {
		if err := w.heap.directory.deallocatePages(w.current.getContinuation()); err != nil {
			return build.ExtendErr("failed to deallocate surplus pages on close", err)
		}
		w.current.setContinuation(0)
	}

	if err := w.current.flush(); err != nil {
		return err
	}

	if !w.isIndex {
		entry, ok := w.heap.directory.get(w.internalKey)
		if !ok {
			entry = directoryEntry{startPageAddress: w.startAddress}
		}
		entry.numberOfBytes = int32(w.count)
		w.heap.directory.put(w.internalKey, entry)
	}

	w.closed = true
	if w.heap.writer == w {
		w.heap.writer = nil
	}
	return nil
}
