package bucketheap

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/NebulousLabs/Sia/build"
)

// directoryEntry records where a record's page chain starts and how many
// payload bytes it holds.
type directoryEntry struct {
	startPageAddress int64
	numberOfBytes    int32
}

// directory is the in-memory record directory: a map from internal key to
// directoryEntry, plus the allocator/free-list state the spec keeps
// alongside it. It also knows how to serialize and deserialize itself for
// persistence as the record under the reserved key.
type directory struct {
	file         *os.File
	pageDataSize int
	pageSize     int64

	entries map[int64]directoryEntry

	nextFreePageAddress  int64
	firstDeallocatedPage int64
	lastDeallocatedPage  int64

	dirty bool
}

// newDirectory creates an empty directory bound to file.
func newDirectory(file *os.File, pageDataSize int) *directory {
	return &directory{
		file:         file,
		pageDataSize: pageDataSize,
		pageSize:     int64(pageDataSize) + pageHeaderSize,
		entries:      make(map[int64]directoryEntry),
	}
}

func (d *directory) get(key int64) (directoryEntry, bool) {
	e, ok := d.entries[key]
	return e, ok
}

func (d *directory) put(key int64, e directoryEntry) {
	d.entries[key] = e
	d.dirty = true
}

// remove deallocates the chain rooted at key's start page and drops the
// entry. It is a no-op if the key isn't present.
func (d *directory) remove(key int64) error {
	e, ok := d.entries[key]
	if !ok {
		return nil
	}
	if err := d.deallocatePages(e.startPageAddress); err != nil {
		return build.ExtendErr("failed to deallocate removed record's pages", err)
	}
	delete(d.entries, key)
	d.dirty = true
	return nil
}

func (d *directory) isDirty() bool {
	return d.dirty
}

// allocate returns a page address for a new write, preferring the free
// chain over extending the file. The caller must treat the result as an
// uninitialized page.
func (d *directory) allocate() (int64, error) {
	if d.firstDeallocatedPage != 0 {
		address := d.firstDeallocatedPage

		var header [8]byte
		if _, err := d.file.ReadAt(header[:], address); err != nil {
			return 0, build.ExtendErr("failed to read free page's continuation", err)
		}
		next := int64(binary.BigEndian.Uint64(header[:]))

		d.firstDeallocatedPage = next
		if d.firstDeallocatedPage == 0 {
			d.lastDeallocatedPage = 0
		}

		var zero [8]byte
		if _, err := d.file.WriteAt(zero[:], address); err != nil {
			return 0, build.ExtendErr("failed to detach free page", err)
		}

		d.dirty = true
		return address, nil
	}

	address := d.nextFreePageAddress
	d.nextFreePageAddress += d.pageSize
	d.dirty = true
	return address, nil
}

// deallocatePages appends the entire chain rooted at startAddress to the
// free list, walking the chain on disk to find its terminal page. No
// payload data is rewritten; only the continuation field of the previous
// tail (if any) is touched.
func (d *directory) deallocatePages(startAddress int64) error {
	if d.lastDeallocatedPage != 0 {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(startAddress))
		if _, err := d.file.WriteAt(buf[:], d.lastDeallocatedPage); err != nil {
			return build.ExtendErr("failed to link previous free chain tail", err)
		}
	}

	if d.firstDeallocatedPage == 0 {
		d.firstDeallocatedPage = startAddress
	}

	address := startAddress
	for {
		var header [8]byte
		if _, err := d.file.ReadAt(header[:], address); err != nil {
			return build.ExtendErr("failed to walk freed page chain", err)
		}
		next := int64(binary.BigEndian.Uint64(header[:]))
		if next == 0 {
			break
		}
		address = next
	}
	d.lastDeallocatedPage = address

	d.dirty = true
	return nil
}

// serialize encodes the directory as size:int32 followed by size triples
// of {key:int64, startPageAddress:int64, numberOfBytes:int32}. Iteration
// order over the map is unspecified; readers must accept any order.
func (d *directory) serialize() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(4 + len(d.entries)*20)

	binary.Write(buf, binary.BigEndian, int32(len(d.entries)))
	for key, e := range d.entries {
		binary.Write(buf, binary.BigEndian, key)
		binary.Write(buf, binary.BigEndian, e.startPageAddress)
		binary.Write(buf, binary.BigEndian, e.numberOfBytes)
	}
	return buf.Bytes()
}

// deserializeDirectoryEntries parses the wire form produced by serialize.
func deserializeDirectoryEntries(data []byte) (map[int64]directoryEntry, error) {
	buf := bytes.NewReader(data)

	var size int32
	if err := binary.Read(buf, binary.BigEndian, &size); err != nil {
		return nil, build.ExtendErr("failed to read directory entry count", err)
	}

	entries := make(map[int64]directoryEntry, size)
	for i := int32(0); i < size; i++ {
		var key, start int64
		var count int32
		if err := binary.Read(buf, binary.BigEndian, &key); err != nil {
			return nil, build.ExtendErr("failed to read directory entry key", err)
		}
		if err := binary.Read(buf, binary.BigEndian, &start); err != nil {
			return nil, build.ExtendErr("failed to read directory entry start page", err)
		}
		if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
			return nil, build.ExtendErr("failed to read directory entry byte count", err)
		}
		entries[key] = directoryEntry{startPageAddress: start, numberOfBytes: count}
	}
	return entries, nil
}
