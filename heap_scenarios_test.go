package bucketheap

import (
	"errors"
	"path/filepath"
	"testing"
)

func sequenceOf(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

func repeatedByte(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// S1
func TestScenarioReopenPreservesLargeSequentialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s1.heap")
	h, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	want := sequenceOf(111111)
	putRecord(t, h, 0, want)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h2, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()

	got := readRecord(t, h2, 0)
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

// S2
func TestScenarioOverwritesAcrossMultipleKeysSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s2.heap")
	h, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	putRecord(t, h, 0, sequenceOf(111111))
	putRecord(t, h, 2, sequenceOf(222222))
	putRecord(t, h, 0, sequenceOf(333333))
	putRecord(t, h, 2, sequenceOf(444444))
	putRecord(t, h, -1, sequenceOf(555555))
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h2, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()

	for key, size := range map[int64]int{0: 333333, 2: 444444, -1: 555555} {
		got := readRecord(t, h2, key)
		want := sequenceOf(size)
		if len(got) != len(want) {
			t.Fatalf("key %d: got %d bytes, want %d", key, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("key %d byte %d: got %d want %d", key, i, got[i], want[i])
			}
		}
	}
}

// S3
func TestScenarioMixedWritesAndRemovesSurviveSmallPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s3.heap")
	h, err := OpenConfig(Config{Path: path, PageDataSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	putRecord(t, h, 0, sequenceOf(12))
	putRecord(t, h, 1, sequenceOf(23))
	putRecord(t, h, 2, sequenceOf(34))
	putRecord(t, h, 3, sequenceOf(45))

	if err := h.RemoveRecord(1); err != nil {
		t.Fatal(err)
	}
	putRecord(t, h, 4, sequenceOf(56))
	if err := h.RemoveRecord(2); err != nil {
		t.Fatal(err)
	}
	putRecord(t, h, 5, sequenceOf(1000))
	if err := h.RemoveRecord(3); err != nil {
		t.Fatal(err)
	}

	got := readRecord(t, h, 5)
	want := sequenceOf(1000)
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

// S4
func TestScenarioManyRecordsReopenAndOverwrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large scenario in -short mode")
	}
	path := filepath.Join(t.TempDir(), "s4.heap")
	h, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	const n = 3000
	for i := 0; i < n; i++ {
		putRecord(t, h, int64(i), []byte{0x01})
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h2, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		got := readRecord(t, h2, int64(i))
		if len(got) != 1 || got[0] != 0x01 {
			t.Fatalf("key %d: got %v, want [0x01]", i, got)
		}
	}

	for i := 0; i < n; i++ {
		size := (i % 5000) + 1
		putRecord(t, h2, int64(i), repeatedByte(size, byte(size)))
	}
	if err := h2.Close(); err != nil {
		t.Fatal(err)
	}

	h3, err := OpenConfig(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer h3.Close()

	for i := 0; i < n; i++ {
		size := (i % 5000) + 1
		got := readRecord(t, h3, int64(i))
		want := repeatedByte(size, byte(size))
		if len(got) != len(want) {
			t.Fatalf("key %d: got %d bytes, want %d", i, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("key %d byte %d: got %d want %d", i, j, got[j], want[j])
			}
		}
	}
}

// S5
func TestScenarioSecondLockedOpenFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s5.heap")
	h, err := OpenConfig(Config{Path: path, Lock: true})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = OpenConfig(Config{Path: path, Lock: true})
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("got %v, want ErrAlreadyLocked", err)
	}
}

// S6
func TestScenarioWriterExcludesReaderUntilClosed(t *testing.T) {
	h, _ := newScratchHeap(t)

	w, err := h.GetRecordWriter(7)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}

	if _, err := h.GetRecordReader(0); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("got %v, want ErrIllegalState while writer 7 is open", err)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := h.GetRecordReader(7)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("expected a reader to open successfully once the writer closed")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
