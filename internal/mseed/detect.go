package mseed

import "encoding/binary"

// Detection results for Detect.
const (
	// DetectInvalid means the buffer does not start with a miniSEED record.
	DetectInvalid = -1

	// DetectIncomplete means a record may start here but more bytes are
	// needed for a verdict or a length.
	DetectIncomplete = 0
)

// Detect determines whether buf begins with a miniSEED record and, when it
// does, the exact record length in bytes.
//
// Returns DetectInvalid, DetectIncomplete, or a confirmed length together
// with the detected major format version (2 or 3, 0 if unknown).
//
// For 2.x records the length comes from a 1000 blockette when present.
// Without one the buffer is scanned at 64-byte offsets for the next valid
// fixed header, the gap implying the record length.
func Detect(buf []byte) (length int, version uint8) {
	if len(buf) < MinRecordSize {
		return DetectIncomplete, 0
	}

	if validHeader3(buf) {
		reclen := ms3Fixed +
			int(buf[33]) +
			int(binary.LittleEndian.Uint16(buf[34:36])) +
			int(binary.LittleEndian.Uint32(buf[36:40]))
		if reclen < MinRecordSize || reclen > MaxRecordSize {
			return DetectInvalid, 3
		}
		return reclen, 3
	}

	if !validHeader2(buf) {
		return DetectInvalid, 0
	}

	// Byte order from year/day plausibility, same test the header parser uses.
	order := byteOrder2(buf)

	offset := int(order.Uint16(buf[46:48]))

	// Walk the blockette chain looking for a 1000 blockette.
	for offset != 0 && offset > 47 {
		if offset > MaxRecordSize {
			return DetectInvalid, 2
		}
		if offset+4 > len(buf) {
			return DetectIncomplete, 2
		}

		blktType := order.Uint16(buf[offset : offset+2])
		next := int(order.Uint16(buf[offset+2 : offset+4]))

		if blktType == 1000 {
			if offset+8 > len(buf) {
				return DetectIncomplete, 2
			}
			reclen := 1 << buf[offset+6]
			if reclen < MinRecordSize || reclen > MaxRecordSize {
				return DetectInvalid, 2
			}
			return reclen, 2
		}

		if next != 0 && (next < 4 || next-4 <= offset) {
			return DetectInvalid, 2
		}
		offset = next
	}

	// No 1000 blockette: scan at 64-byte offsets for the next fixed header.
	// Past the maximum record length the record cannot be valid.
	for off := 64; off <= MaxRecordSize; off += 64 {
		if off+MinRecordSize > len(buf) {
			return DetectIncomplete, 2
		}
		if validHeader2(buf[off:]) {
			return off, 2
		}
	}

	return DetectInvalid, 2
}

// validHeader2 reports whether b starts with a plausible 2.x fixed header:
// ASCII digits or space padding in the sequence field, a known quality
// indicator, and a sane year/day in either byte order.
func validHeader2(b []byte) bool {
	if len(b) < fsdhSize {
		return false
	}
	for _, c := range b[0:6] {
		if (c < '0' || c > '9') && c != ' ' {
			return false
		}
	}
	switch b[6] {
	case 'D', 'R', 'Q', 'M':
	default:
		return false
	}

	year := int(binary.BigEndian.Uint16(b[20:22]))
	doy := int(binary.BigEndian.Uint16(b[22:24]))
	if validYearDay(year, doy) {
		return true
	}
	year = int(binary.LittleEndian.Uint16(b[20:22]))
	doy = int(binary.LittleEndian.Uint16(b[22:24]))
	return validYearDay(year, doy)
}

// validHeader3 reports whether b starts with a 3.x fixed header. All 3.x
// binary fields are little-endian by definition.
func validHeader3(b []byte) bool {
	if len(b) < ms3Fixed {
		return false
	}
	if b[0] != 'M' || b[1] != 'S' || b[2] != 3 {
		return false
	}
	year := binary.LittleEndian.Uint16(b[8:10])
	day := binary.LittleEndian.Uint16(b[10:12])
	hour, minute, sec := b[12], b[13], b[14]
	return year >= 1678 && year <= 2262 &&
		day >= 1 && day <= 366 &&
		hour < 24 && minute < 60 && sec <= 60
}

func byteOrder2(b []byte) binary.ByteOrder {
	year := int(binary.BigEndian.Uint16(b[20:22]))
	doy := int(binary.BigEndian.Uint16(b[22:24]))
	if validYearDay(year, doy) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
