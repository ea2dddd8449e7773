package mseed

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Header3 holds the fields of a miniSEED 3.x fixed header the engine needs.
// The source identifier is decomposed into the familiar SEED codes when it
// follows the FDSN URN convention.
type Header3 struct {
	SourceID string

	Network  string
	Station  string
	Location string
	Channel  string

	Year       int
	Doy        int
	Hour       int
	Min        int
	Sec        int
	Nanosecond int

	NumSamples int
}

// ParseHeader3 decodes the fixed header and source identifier of a 3.x
// record. All 3.x binary fields are little-endian.
func ParseHeader3(rec []byte) (*Header3, error) {
	if !validHeader3(rec) {
		return nil, fmt.Errorf("not a miniSEED 3 record")
	}
	sidLen := int(rec[33])
	if ms3Fixed+sidLen > len(rec) {
		return nil, fmt.Errorf("source identifier truncated: need %d bytes", ms3Fixed+sidLen)
	}

	h := &Header3{
		SourceID:   string(rec[ms3Fixed : ms3Fixed+sidLen]),
		Nanosecond: int(binary.LittleEndian.Uint32(rec[4:8])),
		Year:       int(binary.LittleEndian.Uint16(rec[8:10])),
		Doy:        int(binary.LittleEndian.Uint16(rec[10:12])),
		Hour:       int(rec[12]),
		Min:        int(rec[13]),
		Sec:        int(rec[14]),
		NumSamples: int(binary.LittleEndian.Uint32(rec[24:28])),
	}

	// FDSN:NET_STA_LOC_BAND_SOURCE_SUBSOURCE
	if sid, ok := strings.CutPrefix(h.SourceID, "FDSN:"); ok {
		parts := strings.Split(sid, "_")
		if len(parts) == 6 {
			h.Network = parts[0]
			h.Station = parts[1]
			h.Location = parts[2]
			h.Channel = parts[3] + parts[4] + parts[5]
		}
	}

	return h, nil
}

// StartTime formats the record start time as the SeedLink calendar string
// YYYY,MM,DD,HH,MM,SS.
func (h *Header3) StartTime() string {
	month, mday := doy2md(h.Year, h.Doy)
	return fmt.Sprintf("%04d,%02d,%02d,%02d,%02d,%02d",
		h.Year, month, mday, h.Hour, h.Min, h.Sec)
}
