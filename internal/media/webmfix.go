package media

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// WebM blobs coming out of a live media recorder carry no readable duration
// header: the recorder streams clusters into an unknown-length Segment and
// never returns to write Segment>Info>Duration, which breaks seeking in the
// produced file. PatchDuration performs the mandatory post-stop repair: it
// locates the Info element and overwrites the Duration value, inserting one
// when the recorder omitted it entirely.

const (
	idEBMLHeader    = 0x1A45DFA3
	idSegment       = 0x18538067
	idInfo          = 0x1549A966
	idTimecodeScale = 0x2AD7B1
	idDuration      = 0x4489

	// Matroska default: one timecode unit equals 1 ms.
	defaultTimecodeScale = 1000000
)

// PatchDuration writes the session duration into a WebM blob's Segment Info.
// Non-WebM blobs are left untouched.
func PatchDuration(blob *Blob, duration time.Duration) error {
	if blob == nil || !strings.HasPrefix(blob.MIME, "video/webm") {
		return nil
	}
	data := blob.Data

	// Locate the Segment at the top level.
	pos := 0
	segSizeOffset, segSizeLen := 0, 0
	segUnknown := false
	segStart, segEnd := -1, -1
	for pos < len(data) {
		id, idLen, err := readElementID(data, pos)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		size, szLen, unknown, err := readElementSize(data, pos+idLen)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		content := pos + idLen + szLen
		if id == idSegment {
			segSizeOffset, segSizeLen = pos+idLen, szLen
			segUnknown = unknown
			segStart = content
			if unknown {
				segEnd = len(data)
			} else {
				segEnd = content + int(size)
			}
			break
		}
		if unknown {
			return fmt.Errorf("webm: unexpected unknown-size element %#x before segment", id)
		}
		pos = content + int(size)
	}
	if segStart < 0 {
		return fmt.Errorf("webm: no segment element")
	}

	// Locate Info inside the Segment. Info precedes the clusters, so an
	// unknown-size child before it means a malformed file.
	pos = segStart
	for pos < segEnd && pos < len(data) {
		id, idLen, err := readElementID(data, pos)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		size, szLen, unknown, err := readElementSize(data, pos+idLen)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		content := pos + idLen + szLen
		if id == idInfo {
			if unknown {
				return fmt.Errorf("webm: info element with unknown size")
			}
			return patchInfo(blob, pos+idLen, szLen, content, int(size),
				segSizeOffset, segSizeLen, segUnknown, duration)
		}
		if unknown {
			return fmt.Errorf("webm: no segment info before unknown-size element %#x", id)
		}
		pos = content + int(size)
	}
	return fmt.Errorf("webm: no segment info element")
}

// patchInfo overwrites an existing Duration or splices a new one into Info.
func patchInfo(blob *Blob, infoSizeOffset, infoSizeLen, content, infoSize int,
	segSizeOffset, segSizeLen int, segUnknown bool, duration time.Duration) error {

	data := blob.Data
	scale := uint64(defaultTimecodeScale)
	durOffset, durSize := -1, 0

	p := content
	for p < content+infoSize {
		id, idLen, err := readElementID(data, p)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		size, szLen, unknown, err := readElementSize(data, p+idLen)
		if err != nil || unknown {
			return fmt.Errorf("webm: malformed info child %#x", id)
		}
		c := p + idLen + szLen
		switch id {
		case idTimecodeScale:
			scale = readUint(data[c : c+int(size)])
			if scale == 0 {
				scale = defaultTimecodeScale
			}
		case idDuration:
			durOffset, durSize = c, int(size)
		}
		p = c + int(size)
	}

	val := float64(duration.Nanoseconds()) / float64(scale)

	if durOffset >= 0 {
		switch durSize {
		case 4:
			binary.BigEndian.PutUint32(data[durOffset:], math.Float32bits(float32(val)))
		case 8:
			binary.BigEndian.PutUint64(data[durOffset:], math.Float64bits(val))
		default:
			return fmt.Errorf("webm: duration element has unsupported size %d", durSize)
		}
		return nil
	}

	// No Duration element: append one to Info and rewrite the Info size.
	elem := make([]byte, 0, 11)
	elem = append(elem, 0x44, 0x89, 0x88)
	var f [8]byte
	binary.BigEndian.PutUint64(f[:], math.Float64bits(val))
	elem = append(elem, f[:]...)

	newSize := encodeVint(uint64(infoSize + len(elem)))
	out := make([]byte, 0, len(data)+len(elem)+len(newSize)-infoSizeLen)
	out = append(out, data[:infoSizeOffset]...)
	out = append(out, newSize...)
	out = append(out, data[content:content+infoSize]...)
	out = append(out, elem...)
	out = append(out, data[content+infoSize:]...)

	if !segUnknown {
		delta := len(out) - len(data)
		segSize, _, _, err := readElementSize(data, segSizeOffset)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		fixed, err := encodeVintWithLength(segSize+uint64(delta), segSizeLen)
		if err != nil {
			return fmt.Errorf("webm: %w", err)
		}
		copy(out[segSizeOffset:], fixed)
	}

	blob.Data = out
	return nil
}

// readElementID reads an EBML element ID, which keeps its length-marker bits.
func readElementID(data []byte, pos int) (id uint32, length int, err error) {
	if pos >= len(data) {
		return 0, 0, fmt.Errorf("truncated element id at %d", pos)
	}
	b := data[pos]
	switch {
	case b&0x80 != 0:
		length = 1
	case b&0x40 != 0:
		length = 2
	case b&0x20 != 0:
		length = 3
	case b&0x10 != 0:
		length = 4
	default:
		return 0, 0, fmt.Errorf("invalid element id byte %#x at %d", b, pos)
	}
	if pos+length > len(data) {
		return 0, 0, fmt.Errorf("truncated element id at %d", pos)
	}
	for i := 0; i < length; i++ {
		id = id<<8 | uint32(data[pos+i])
	}
	return id, length, nil
}

// readElementSize reads an EBML size vint, stripping the marker bit.
// unknown reports the reserved all-ones value.
func readElementSize(data []byte, pos int) (size uint64, length int, unknown bool, err error) {
	if pos >= len(data) {
		return 0, 0, false, fmt.Errorf("truncated element size at %d", pos)
	}
	b := data[pos]
	mask := byte(0x80)
	length = 1
	for mask != 0 && b&mask == 0 {
		mask >>= 1
		length++
	}
	if mask == 0 || length > 8 {
		return 0, 0, false, fmt.Errorf("invalid size byte %#x at %d", b, pos)
	}
	if pos+length > len(data) {
		return 0, 0, false, fmt.Errorf("truncated element size at %d", pos)
	}
	size = uint64(b &^ mask)
	allOnes := size == uint64(mask-1)
	for i := 1; i < length; i++ {
		size = size<<8 | uint64(data[pos+i])
		if data[pos+i] != 0xFF {
			allOnes = false
		}
	}
	return size, length, allOnes, nil
}

// encodeVint encodes a size in the minimal vint length
func encodeVint(v uint64) []byte {
	for length := 1; length <= 8; length++ {
		// The all-ones pattern is reserved for unknown size.
		max := uint64(1)<<(7*length) - 2
		if v <= max {
			out, _ := encodeVintWithLength(v, length)
			return out
		}
	}
	out, _ := encodeVintWithLength(v, 8)
	return out
}

// encodeVintWithLength encodes a size in exactly length bytes
func encodeVintWithLength(v uint64, length int) ([]byte, error) {
	if length < 1 || length > 8 {
		return nil, fmt.Errorf("invalid vint length %d", length)
	}
	max := uint64(1)<<(7*length) - 2
	if v > max {
		return nil, fmt.Errorf("size %d does not fit in a %d-byte vint", v, length)
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	out[0] |= byte(0x80 >> (length - 1))
	return out, nil
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
