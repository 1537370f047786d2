package media

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// buildWebM assembles a minimal WebM layout: EBML header, unknown-length
// Segment, Info (TimecodeScale and optionally Duration), one dummy cluster.
func buildWebM(withDuration bool) []byte {
	var out []byte

	// EBML header with empty content.
	out = append(out, 0x1A, 0x45, 0xDF, 0xA3, 0x80)

	// Segment, unknown size (recorder-style streaming output).
	out = append(out, 0x18, 0x53, 0x80, 0x67, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)

	// Info content: TimecodeScale = 1_000_000 (1 ms units).
	info := []byte{0x2A, 0xD7, 0xB1, 0x83, 0x0F, 0x42, 0x40}
	if withDuration {
		dur := make([]byte, 11)
		dur[0], dur[1], dur[2] = 0x44, 0x89, 0x88
		binary.BigEndian.PutUint64(dur[3:], math.Float64bits(0))
		info = append(info, dur...)
	}
	out = append(out, 0x15, 0x49, 0xA9, 0x66, byte(0x80|len(info)))
	out = append(out, info...)

	// Dummy cluster so the Info is not the last element.
	out = append(out, 0x1F, 0x43, 0xB6, 0x75, 0x82, 0xAA, 0xBB)

	return out
}

// readDuration walks the patched blob and returns the Duration value.
func readDuration(t *testing.T, data []byte) float64 {
	t.Helper()
	pos := 0
	for pos < len(data) {
		id, idLen, err := readElementID(data, pos)
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		size, szLen, unknown, err := readElementSize(data, pos+idLen)
		if err != nil {
			t.Fatalf("walk: %v", err)
		}
		content := pos + idLen + szLen
		switch id {
		case idSegment, idInfo:
			pos = content
			continue
		case idDuration:
			if size == 8 {
				return math.Float64frombits(binary.BigEndian.Uint64(data[content:]))
			}
			return float64(math.Float32frombits(binary.BigEndian.Uint32(data[content:])))
		}
		if unknown {
			t.Fatalf("unexpected unknown-size element %#x", id)
		}
		pos = content + int(size)
	}
	t.Fatal("no duration element found")
	return 0
}

func TestPatchExistingDuration(t *testing.T) {
	blob := &Blob{Data: buildWebM(true), MIME: "video/webm;codecs=vp8"}
	if err := PatchDuration(blob, 8*time.Second); err != nil {
		t.Fatalf("PatchDuration: %v", err)
	}
	got := readDuration(t, blob.Data)
	if got != 8000 {
		t.Errorf("patched duration = %v ms, want 8000", got)
	}
}

func TestInsertMissingDuration(t *testing.T) {
	original := buildWebM(false)
	blob := &Blob{Data: append([]byte(nil), original...), MIME: "video/webm"}
	if err := PatchDuration(blob, 2500*time.Millisecond); err != nil {
		t.Fatalf("PatchDuration: %v", err)
	}
	if len(blob.Data) != len(original)+11 {
		t.Errorf("blob grew by %d bytes, want 11", len(blob.Data)-len(original))
	}
	got := readDuration(t, blob.Data)
	if got != 2500 {
		t.Errorf("inserted duration = %v ms, want 2500", got)
	}
	// The trailing cluster must survive the splice intact.
	tail := blob.Data[len(blob.Data)-2:]
	if tail[0] != 0xAA || tail[1] != 0xBB {
		t.Errorf("cluster payload corrupted: % x", tail)
	}
}

func TestNonWebMBlobUntouched(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	blob := &Blob{Data: append([]byte(nil), data...), MIME: MIMEMotionJPEG}
	if err := PatchDuration(blob, time.Second); err != nil {
		t.Fatalf("PatchDuration on non-webm: %v", err)
	}
	if len(blob.Data) != len(data) {
		t.Error("non-webm blob was modified")
	}
}

func TestMalformedBlobReturnsError(t *testing.T) {
	blob := &Blob{Data: []byte{0x00, 0x00}, MIME: "video/webm"}
	if err := PatchDuration(blob, time.Second); err == nil {
		t.Error("expected an error for malformed data")
	}
}
