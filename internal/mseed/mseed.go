// Package mseed identifies miniSEED records in raw byte buffers and gives
// access to the 2.x fixed header fields the streaming engine needs. Sample
// decompression is out of scope; records are passed through intact.
package mseed

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// MinRecordSize is the smallest record length accepted on the wire.
	MinRecordSize = 48

	// MaxRecordSize is the largest record length accepted on the wire.
	MaxRecordSize = 4096

	// maxHeaderSize bounds the 2.x blockette chain walk.
	maxHeaderSize = 128

	fsdhSize = 48
	ms3Fixed = 40
)

// RecordType classifies a 2.x record by its first marker blockette.
type RecordType int

const (
	TypeWaveform RecordType = iota
	TypeDetection
	TypeCalibration
	TypeTiming
	TypeMessage
	TypeOpaque
	TypeUnknown
	TypeInfo
	TypeInfoTerm
	TypeKeepalive
)

// Code returns the single-letter archive code for the record type.
func (t RecordType) Code() byte {
	switch t {
	case TypeWaveform:
		return 'D'
	case TypeDetection:
		return 'E'
	case TypeCalibration:
		return 'C'
	case TypeTiming:
		return 'T'
	case TypeMessage:
		return 'L'
	case TypeOpaque:
		return 'O'
	case TypeUnknown:
		return 'U'
	case TypeInfo, TypeInfoTerm, TypeKeepalive:
		return 'I'
	default:
		return '?'
	}
}

// Header2 holds the fields of a miniSEED 2.x fixed section of data header
// that matter to stream tracking and archiving. Code fields are stripped of
// padding whitespace.
type Header2 struct {
	Sequence string
	Quality  byte

	Station  string
	Location string
	Channel  string
	Network  string

	Year  int
	Doy   int
	Hour  int
	Min   int
	Sec   int
	Fract int

	NumSamples     int
	SampRateFactor int
	NumBlockettes  int

	DataOffset      int
	BlocketteOffset int

	// LittleEndian reports the byte order the binary header fields were
	// written in, decided from year/day plausibility.
	LittleEndian bool
}

// ParseHeader2 decodes the 48-byte fixed header of a 2.x record. The buffer
// must hold at least MinRecordSize bytes.
func ParseHeader2(rec []byte) (*Header2, error) {
	if len(rec) < fsdhSize {
		return nil, fmt.Errorf("buffer too short for fixed header: %d bytes", len(rec))
	}

	h := &Header2{
		Sequence: string(rec[0:6]),
		Quality:  rec[6],
		Station:  cleanCode(rec[8:13]),
		Location: cleanCode(rec[13:15]),
		Channel:  cleanCode(rec[15:18]),
		Network:  cleanCode(rec[18:20]),
	}

	year := binary.BigEndian.Uint16(rec[20:22])
	doy := binary.BigEndian.Uint16(rec[22:24])
	if !validYearDay(int(year), int(doy)) {
		h.LittleEndian = true
		year = binary.LittleEndian.Uint16(rec[20:22])
		doy = binary.LittleEndian.Uint16(rec[22:24])
		if !validYearDay(int(year), int(doy)) {
			return nil, fmt.Errorf("implausible record start time: year %d day %d", year, doy)
		}
	}

	h.Year = int(year)
	h.Doy = int(doy)
	h.Hour = int(rec[24])
	h.Min = int(rec[25])
	h.Sec = int(rec[26])
	h.Fract = int(h.u16(rec[28:30]))

	h.NumSamples = int(h.u16(rec[30:32]))
	h.SampRateFactor = int(int16(h.u16(rec[32:34])))
	h.NumBlockettes = int(rec[39])
	h.DataOffset = int(h.u16(rec[44:46]))
	h.BlocketteOffset = int(h.u16(rec[46:48]))

	return h, nil
}

func (h *Header2) u16(b []byte) uint16 {
	if h.LittleEndian {
		return binary.LittleEndian.Uint16(b)
	}
	return binary.BigEndian.Uint16(b)
}

// StartTime formats the record start time as the SeedLink calendar string
// YYYY,MM,DD,HH,MM,SS.
func (h *Header2) StartTime() string {
	month, mday := doy2md(h.Year, h.Doy)
	return fmt.Sprintf("%04d,%02d,%02d,%02d,%02d,%02d",
		h.Year, month, mday, h.Hour, h.Min, h.Sec)
}

// Payload returns the data payload slice of the record, bounded by the
// data-begin offset and the sample count. For log records the sample count
// is a byte count, which is how INFO responses carry their XML.
func (h *Header2) Payload(rec []byte) []byte {
	begin := h.DataOffset
	end := begin + h.NumSamples
	if begin < fsdhSize || begin > len(rec) {
		return nil
	}
	if end > len(rec) {
		end = len(rec)
	}
	return rec[begin:end]
}

// Classify walks the blockette chain of a 2.x record and reports the record
// type from the first marker blockette found, falling back to the sample
// rate and count heuristics for log and opaque records.
func Classify(rec []byte) RecordType {
	h, err := ParseHeader2(rec)
	if err != nil {
		return TypeUnknown
	}

	b2000 := false
	offset := h.BlocketteOffset

	for offset != 0 {
		if offset < fsdhSize || offset > maxHeaderSize || offset+4 > len(rec) {
			return TypeUnknown
		}

		blktType := h.u16(rec[offset : offset+2])
		next := int(h.u16(rec[offset+2 : offset+4]))

		switch {
		case blktType >= 200 && blktType <= 299:
			return TypeDetection
		case blktType >= 300 && blktType <= 399:
			return TypeCalibration
		case blktType >= 500 && blktType <= 599:
			return TypeTiming
		case blktType == 2000:
			b2000 = true
		}

		if next != 0 && next <= offset {
			return TypeUnknown
		}
		offset = next
	}

	if h.SampRateFactor == 0 {
		if h.NumSamples != 0 {
			return TypeMessage
		}
		if b2000 {
			return TypeOpaque
		}
	}

	return TypeWaveform
}

// cleanCode copies a fixed-width code field dropping spaces and NUL padding.
func cleanCode(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c != ' ' && c != 0 {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func validYearDay(year, doy int) bool {
	return year >= 1900 && year <= 2050 && doy >= 1 && doy <= 366
}

var daysInMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func leapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// doy2md converts a day-of-year to month and day-of-month.
func doy2md(year, doy int) (month, mday int) {
	days := doy
	for m := 0; m < 12; m++ {
		dim := daysInMonth[m]
		if m == 1 && leapYear(year) {
			dim++
		}
		if days <= dim {
			return m + 1, days
		}
		days -= dim
	}
	return 12, 31
}
