package bucketheap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NebulousLabs/Sia/build"
)

// page mediates between in-memory byte operations and one on-disk page.
// A page buffers its payload in memory, tracks a write cursor, and knows
// whether it has ever been flushed to disk.
type page struct {
	file         *os.File
	address      int64
	pageDataSize int

	data         []byte
	dataIndex    int
	continuation int64

	hasBeenFlushed bool
}

// newPage initializes a page that does not yet exist on disk: a zeroed
// buffer, cursor at 0, no continuation.
func newPage(file *os.File, address int64, pageDataSize int) *page {
	return &page{
		file:         file,
		address:      address,
		pageDataSize: pageDataSize,
		data:         make([]byte, pageDataSize),
	}
}

// loadPage reads an existing page from disk. It fails with ErrCorruptedPage
// if the page's magic word doesn't match.
func loadPage(file *os.File, address int64, pageDataSize int) (*page, error) {
	header := make([]byte, pageHeaderSize)
	if _, err := file.ReadAt(header, address); err != nil {
		return nil, build.ExtendErr(fmt.Sprintf("failed to read page header at %d", address), err)
	}

	continuation := int64(binary.BigEndian.Uint64(header[0:8]))
	magic := int64(binary.BigEndian.Uint64(header[8:16]))
	if magic != magicWord {
		return nil, fmt.Errorf("%w: at address %d", ErrCorruptedPage, address)
	}

	// flush writes only dataIndex payload bytes, so a page at or near the
	// physical end of the file has fewer than pageDataSize bytes on disk.
	// ReadAt reports io.EOF whenever it can't fill data; tolerate that and
	// leave the unwritten tail at its zero value rather than treating it
	// as a failure.
	data := make([]byte, pageDataSize)
	if pageDataSize > 0 {
		if _, err := file.ReadAt(data, address+pageHeaderSize); err != nil && !errors.Is(err, io.EOF) {
			return nil, build.ExtendErr(fmt.Sprintf("failed to read page payload at %d", address), err)
		}
	}

	return &page{
		file:         file,
		address:      address,
		pageDataSize: pageDataSize,
		data:         data,
		continuation: continuation,
	}, nil
}

// hasMore reports whether the cursor has room left in the payload.
func (p *page) hasMore() bool {
	return p.dataIndex < p.pageDataSize
}

func (p *page) hasContinuation() bool {
	return p.continuation != 0
}

func (p *page) getContinuation() int64 {
	return p.continuation
}

func (p *page) setContinuation(address int64) {
	p.continuation = address
}

// readNextByte consumes and returns one buffered byte. The caller must
// check hasMore first; the page itself cannot tell a record's payload end
// from stale padding.
func (p *page) readNextByte() byte {
	b := p.data[p.dataIndex]
	p.dataIndex++
	return b
}

// readBytes copies from the buffer at the cursor into buf, returning the
// number of bytes copied.
func (p *page) readBytes(buf []byte) int {
	n := copy(buf, p.data[p.dataIndex:])
	p.dataIndex += n
	return n
}

// writeByte writes one byte at the cursor if there's room.
func (p *page) writeByte(b byte) bool {
	if !p.hasMore() {
		return false
	}
	p.data[p.dataIndex] = b
	p.dataIndex++
	return true
}

// writeBytes copies buf into the buffer at the cursor, bounded by the
// remaining capacity, returning the number of bytes actually written.
func (p *page) writeBytes(buf []byte) int {
	n := copy(p.data[p.dataIndex:], buf)
	p.dataIndex += n
	return n
}

// flush persists the continuation address, magic word, and the cursor's
// worth of payload bytes (not the full buffer) to disk. It is a no-op if
// the page has already been flushed once.
func (p *page) flush() error {
	if p.hasBeenFlushed {
		return nil
	}

	header := make([]byte, pageHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], uint64(p.continuation))
	binary.BigEndian.PutUint64(header[8:16], uint64(magicWord))
	if _, err := p.file.WriteAt(header, p.address); err != nil {
		return build.ExtendErr(fmt.Sprintf("failed to write page header at %d", p.address), err)
	}

	if p.dataIndex > 0 {
		if _, err := p.file.WriteAt(p.data[:p.dataIndex], p.address+pageHeaderSize); err != nil {
			return build.ExtendErr(fmt.Sprintf("failed to write page payload at %d", p.address), err)
		}
	}

	p.hasBeenFlushed = true
	return nil
}
