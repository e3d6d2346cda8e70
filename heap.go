package bucketheap

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/NebulousLabs/Sia/build"
	"golang.org/x/sys/unix"
)

// Config controls how a HeapFile is opened or created.
type Config struct {
	// Path is the backing file's path. Required.
	Path string

	// PageDataSize is the payload size used when creating a new file. It
	// is ignored when opening an existing file, whose own header governs
	// it. Zero selects defaultPageDataSize.
	PageDataSize int

	// ReadOnly opens the file without write access. GetRecordWriter and
	// RemoveRecord fail with ErrIllegalState; Flush writes nothing.
	ReadOnly bool

	// Lock acquires a non-blocking advisory exclusive lock on the file
	// for the lifetime of the HeapFile, failing with ErrAlreadyLocked if
	// another process already holds it.
	Lock bool

	// DebugMode causes internal invariant violations to panic instead of
	// returning an error, for use under tests and fuzzing.
	DebugMode bool
}

// DefaultConfig returns the Config used by Open: a writable file locked
// against concurrent processes, created with defaultPageDataSize if it
// doesn't already exist.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		PageDataSize: defaultPageDataSize,
		Lock:         true,
	}
}

// HeapFile is a paged, random-access container of byte records keyed by
// signed 64-bit integers. The zero value is not usable; construct one
// with Open or OpenConfig.
type HeapFile struct {
	file *os.File
	cfg  Config

	pageDataSize         int
	pageSize             int64
	allocationDataOffset int64
	directoryStartAddress int64
	indexByteCount       int64

	directory *directory

	mu      sync.Mutex
	readers map[*RecordReader]struct{}
	writer  *RecordWriter

	locked bool
	closed bool
}

// Open opens or creates path with DefaultConfig.
func Open(path string) (*HeapFile, error) {
	return OpenConfig(DefaultConfig(path))
}

// OpenConfig opens or creates the file described by cfg.
func OpenConfig(cfg Config) (*HeapFile, error) {
	if cfg.PageDataSize <= 0 {
		cfg.PageDataSize = defaultPageDataSize
	}

	flag := os.O_RDWR | os.O_CREATE
	if cfg.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(cfg.Path, flag, 0644)
	if err != nil {
		return nil, build.ExtendErr("failed to open backing file", err)
	}

	h := &HeapFile{
		file:    file,
		cfg:     cfg,
		readers: make(map[*RecordReader]struct{}),
	}

	if cfg.Lock {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			file.Close()
			if err == unix.EWOULDBLOCK {
				return nil, ErrAlreadyLocked
			}
			return nil, build.ExtendErr("failed to lock backing file", err)
		}
		h.locked = true
	}

	info, err := file.Stat()
	if err != nil {
		h.unlockAndClose()
		return nil, build.ExtendErr("failed to stat backing file", err)
	}

	if info.Size() == 0 {
		if cfg.ReadOnly {
			h.unlockAndClose()
			return nil, ErrIllegalState
		}
		if err := h.initializeNewFile(); err != nil {
			h.unlockAndClose()
			return nil, err
		}
	} else {
		if err := h.loadExistingFile(); err != nil {
			h.unlockAndClose()
			return nil, err
		}
	}

	return h, nil
}

func (h *HeapFile) unlockAndClose() {
	if h.locked {
		unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	}
	h.file.Close()
}

// initializeNewFile writes a fresh header, directory start page, and an
// empty directory record to an empty backing file.
func (h *HeapFile) initializeNewFile() error {
	h.pageDataSize = h.cfg.PageDataSize
	h.pageSize = int64(h.pageDataSize) + pageHeaderSize

	if err := writeUTF(h.file, currentVersionString); err != nil {
		return build.ExtendErr("failed to write version string", err)
	}

	offset, err := h.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return build.ExtendErr("failed to determine header offset", err)
	}
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(h.pageDataSize))
	if _, err := h.file.WriteAt(sizeBuf[:], offset); err != nil {
		return build.ExtendErr("failed to write page data size", err)
	}

	h.allocationDataOffset = offset + 4
	h.directoryStartAddress = h.allocationDataOffset + allocationDataSize

	h.directory = newDirectory(h.file, h.pageDataSize)
	h.directory.nextFreePageAddress = h.directoryStartAddress + h.pageSize

	dirPage := newPage(h.file, h.directoryStartAddress, h.pageDataSize)
	if err := dirPage.flush(); err != nil {
		return build.ExtendErr("failed to establish directory start page", err)
	}

	h.directory.dirty = true
	return h.flushLocked()
}

// loadExistingFile reads the header and directory record from a
// previously initialized backing file.
func (h *HeapFile) loadExistingFile() error {
	version, err := readUTF(h.file)
	if err != nil {
		return build.ExtendErr("failed to read version string", err)
	}
	if version != currentVersionString && version != legacyVersionString {
		return ErrUnsupportedVersion
	}

	offset, err := h.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return build.ExtendErr("failed to determine header offset", err)
	}
	var sizeBuf [4]byte
	if _, err := h.file.ReadAt(sizeBuf[:], offset); err != nil {
		return build.ExtendErr("failed to read page data size", err)
	}
	h.pageDataSize = int(binary.BigEndian.Uint32(sizeBuf[:]))
	h.pageSize = int64(h.pageDataSize) + pageHeaderSize

	h.allocationDataOffset = offset + 4
	h.directoryStartAddress = h.allocationDataOffset + allocationDataSize

	var allocBuf [allocationDataSize]byte
	if _, err := h.file.ReadAt(allocBuf[:], h.allocationDataOffset); err != nil {
		return build.ExtendErr("failed to read allocation header", err)
	}
	h.indexByteCount = int64(binary.BigEndian.Uint64(allocBuf[0:8]))

	h.directory = newDirectory(h.file, h.pageDataSize)
	h.directory.nextFreePageAddress = int64(binary.BigEndian.Uint64(allocBuf[8:16]))
	h.directory.firstDeallocatedPage = int64(binary.BigEndian.Uint64(allocBuf[16:24]))
	h.directory.lastDeallocatedPage = int64(binary.BigEndian.Uint64(allocBuf[24:32]))

	reader, err := h.newRecordReader(indexRecordID, true)
	if err != nil {
		return build.ExtendErr("failed to open directory record", err)
	}
	data, err := readAllFromReader(reader)
	if err != nil {
		return build.ExtendErr("failed to read directory record", err)
	}
	if err := reader.closeLocked(); err != nil {
		return err
	}

	entries, err := deserializeDirectoryEntries(data)
	if err != nil {
		return build.ExtendErr("failed to decode directory record", err)
	}
	h.directory.entries = entries

	return nil
}

// readAllFromReader drains r using its locked read path directly; callers
// must already hold h.mu.
func readAllFromReader(r *RecordReader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.readLocked(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		if n == 0 {
			return out, nil
		}
	}
}

// flushLocked persists the directory record, if dirty, and the header's
// allocation fields. Callers must hold h.mu.
func (h *HeapFile) flushLocked() error {
	if h.cfg.ReadOnly {
		return nil
	}

	if h.directory.isDirty() {
		data := h.directory.serialize()
		w, err := h.newRecordWriter(indexRecordID, true)
		if err != nil {
			return build.ExtendErr("failed to open directory record for flush", err)
		}
		if _, err := w.writeLocked(data); err != nil {
			return build.ExtendErr("failed to write directory record", err)
		}
		if err := w.closeLocked(); err != nil {
			return build.ExtendErr("failed to close directory record writer", err)
		}
		h.indexByteCount = int64(len(data))
		h.directory.dirty = false
	}

	var allocBuf [allocationDataSize]byte
	binary.BigEndian.PutUint64(allocBuf[0:8], uint64(h.indexByteCount))
	binary.BigEndian.PutUint64(allocBuf[8:16], uint64(h.directory.nextFreePageAddress))
	binary.BigEndian.PutUint64(allocBuf[16:24], uint64(h.directory.firstDeallocatedPage))
	binary.BigEndian.PutUint64(allocBuf[24:32], uint64(h.directory.lastDeallocatedPage))
	if _, err := h.file.WriteAt(allocBuf[:], h.allocationDataOffset); err != nil {
		return build.ExtendErr("failed to write allocation header", err)
	}
	return nil
}

// Flush persists the directory and allocator state to disk. It does not
// commit any writer's in-flight record; only RecordWriter.Close does
// that.
func (h *HeapFile) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

// GetRecordWriter opens a writer for key, creating the record if absent.
// It fails with ErrIllegalState if the file is read-only, already closed,
// or any reader or writer is currently open, per the format's
// single-writer exclusivity rule.
func (h *HeapFile) GetRecordWriter(key int64) (*RecordWriter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.cfg.ReadOnly {
		return nil, ErrIllegalState
	}
	if h.writer != nil || len(h.readers) > 0 {
		return nil, ErrIllegalState
	}

	w, err := h.newRecordWriter(remapKey(key), false)
	if err != nil {
		return nil, err
	}
	h.writer = w
	return w, nil
}

// GetRecordReader opens a reader for key. It returns (nil, nil) if no
// record exists under key. It fails with ErrIllegalState if the file is
// closed or a writer is currently open.
func (h *HeapFile) GetRecordReader(key int64) (*RecordReader, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrIllegalState
	}
	if h.writer != nil {
		return nil, ErrIllegalState
	}

	r, err := h.newRecordReader(remapKey(key), false)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	h.readers[r] = struct{}{}
	return r, nil
}

// RemoveRecord deletes key's record and reclaims its pages. It fails with
// ErrIllegalState under the same conditions as GetRecordWriter.
func (h *HeapFile) RemoveRecord(key int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.cfg.ReadOnly {
		return ErrIllegalState
	}
	if h.writer != nil || len(h.readers) > 0 {
		return ErrIllegalState
	}

	return h.directory.remove(remapKey(key))
}

// ForEach calls fn once for every live caller-visible key, in unspecified
// order, stopping early if fn returns false. fn must not call back into
// the HeapFile it was handed. It fails with ErrIllegalState if a writer
// is currently open.
func (h *HeapFile) ForEach(fn func(key int64) bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrIllegalState
	}
	if h.writer != nil {
		return ErrIllegalState
	}

	for internalKey := range h.directory.entries {
		if internalKey == indexRecordID {
			continue
		}
		if !fn(unmapKey(internalKey)) {
			break
		}
	}
	return nil
}

// Stats reports diagnostic counters about the file's current state. It is
// not a pretty-printer (spec §1(v) explicitly excludes those); it's a
// small snapshot a caller can inspect or log.
type Stats struct {
	RecordCount    int
	PageDataSize   int
	FileSize       int64
	AllocatedPages int64
	FreeChainLen   int
}

// Stats returns a snapshot of the file's current diagnostic counters.
func (h *HeapFile) Stats() (Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info, err := h.file.Stat()
	if err != nil {
		return Stats{}, build.ExtendErr("failed to stat backing file", err)
	}

	count := len(h.directory.entries)
	if _, ok := h.directory.entries[indexRecordID]; ok {
		count--
	}

	allocated := (h.directory.nextFreePageAddress - h.directoryStartAddress) / h.pageSize

	freeLen := 0
	for addr := h.directory.firstDeallocatedPage; addr != 0; freeLen++ {
		var header [8]byte
		if _, err := h.file.ReadAt(header[:], addr); err != nil {
			return Stats{}, build.ExtendErr("failed to walk free chain for stats", err)
		}
		addr = int64(binary.BigEndian.Uint64(header[:]))
	}

	return Stats{
		RecordCount:    count,
		PageDataSize:   h.pageDataSize,
		FileSize:       info.Size(),
		AllocatedPages: allocated,
		FreeChainLen:   freeLen,
	}, nil
}

// Close flushes pending directory and allocator state and releases the
// file. It is idempotent. If any reader or writer was still open at the
// time of the call, Close still performs the shutdown but returns
// ErrStreamsOpenAtClose (or, under DebugMode, panics instead).
func (h *HeapFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	var diag error
	if h.writer != nil || len(h.readers) > 0 {
		diag = ErrStreamsOpenAtClose
		if h.cfg.DebugMode {
			panic(diag)
		}
	}

	flushErr := h.flushLocked()

	if h.locked {
		unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	}
	closeErr := h.file.Close()
	h.closed = true

	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return build.ExtendErr("failed to close backing file", closeErr)
	}
	return diag
}
