package bucketheap

const (
	// defaultPageDataSize is the payload size used when creating a new
	// file without an explicit pageDataSize.
	defaultPageDataSize = 2048

	// pageHeaderSize is the size in bytes of a page's on-disk header: an
	// 8 byte continuation address followed by an 8 byte magic word.
	pageHeaderSize = 16

	// magicWord is written at the start of every page's header (after
	// the continuation address) and validated on load.
	magicWord = 0xABFAFCFD

	// allocationDataSize is the size in bytes of the header's trailing
	// allocation fields: indexByteCount, nextFreePageAddress,
	// firstDeallocatedPage, lastDeallocatedPage, 8 bytes each.
	allocationDataSize = 32

	// indexRecordID is the reserved internal key under which the
	// directory persists itself. The key-remapping scheme guarantees no
	// caller key ever maps to this value.
	indexRecordID = 0

	// currentVersionString is written into the header of newly created
	// files and accepted when opening existing ones.
	currentVersionString = "bucketheap.HeapFile Version 1"

	// legacyVersionString is accepted for backward compatibility with
	// files written by the file format's prior implementation.
	legacyVersionString = "class se.marell.bucketfile.BucketFile Version 1"
)
