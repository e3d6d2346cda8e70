package bucketheap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeUTF encodes s the way the header's version string is encoded: a
// 16-bit unsigned length prefix followed by the UTF-8 bytes. This is the
// modified-UTF wire form without null-escaping, which is sufficient for
// the ASCII version strings this file format uses.
func writeUTF(w io.Writer, s string) error {
	b := []byte(s)
	if len(b) > 0xFFFF {
		return fmt.Errorf("bucketheap: version string of %d bytes exceeds 16-bit length prefix", len(b))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readUTF decodes a string written by writeUTF.
func readUTF(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// remapKey maps a caller-visible record key into the internal key space,
// which reserves 0 for the directory's own record. Non-negative caller
// keys are incremented by one; negative keys pass through unchanged. This
// mapping must be preserved bit-exactly for compatibility with existing
// files.
func remapKey(callerKey int64) int64 {
	if callerKey >= 0 {
		return callerKey + 1
	}
	return callerKey
}

// unmapKey inverts remapKey for diagnostic/iteration purposes.
func unmapKey(internalKey int64) int64 {
	if internalKey > 0 {
		return internalKey - 1
	}
	return internalKey
}
