package mseed

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// rec2opts controls the synthetic 2.x records the tests build.
type rec2opts struct {
	seq          string
	quality      byte
	net, sta     string
	loc, chan_   string
	year, doy    int
	hour, min    int
	sec          int
	little       bool
	reclenByte   byte
	noB1000      bool
	blktOffset   int
	numSamples   int
	sampRateFact int
	size         int
}

func makeRecord2(t *testing.T, o rec2opts) []byte {
	t.Helper()

	if o.seq == "" {
		o.seq = "000001"
	}
	if o.quality == 0 {
		o.quality = 'D'
	}
	if o.net == "" {
		o.net = "NL"
	}
	if o.sta == "" {
		o.sta = "HGN"
	}
	if o.chan_ == "" {
		o.chan_ = "BHZ"
	}
	if o.year == 0 {
		o.year = 2024
	}
	if o.doy == 0 {
		o.doy = 100
	}
	if o.reclenByte == 0 {
		o.reclenByte = 9 // 512
	}
	if o.size == 0 {
		o.size = 512
	}
	if o.sampRateFact == 0 {
		o.sampRateFact = 20
	}

	order := binary.ByteOrder(binary.BigEndian)
	if o.little {
		order = binary.LittleEndian
	}

	rec := make([]byte, o.size)
	copy(rec[0:6], o.seq)
	rec[6] = o.quality
	copy(rec[8:13], pad(o.sta, 5))
	copy(rec[13:15], pad(o.loc, 2))
	copy(rec[15:18], pad(o.chan_, 3))
	copy(rec[18:20], pad(o.net, 2))
	order.PutUint16(rec[20:22], uint16(o.year))
	order.PutUint16(rec[22:24], uint16(o.doy))
	rec[24] = byte(o.hour)
	rec[25] = byte(o.min)
	rec[26] = byte(o.sec)
	order.PutUint16(rec[30:32], uint16(o.numSamples))
	order.PutUint16(rec[32:34], uint16(int16(o.sampRateFact)))
	order.PutUint16(rec[44:46], 64) // begin_data

	if !o.noB1000 {
		off := o.blktOffset
		if off == 0 {
			off = 48
		}
		order.PutUint16(rec[46:48], uint16(off))
		order.PutUint16(rec[off:off+2], 1000)
		order.PutUint16(rec[off+2:off+4], 0)
		rec[off+4] = 10 // Steim1 encoding
		rec[off+6] = o.reclenByte
	}

	return rec
}

func pad(s string, n int) []byte {
	b := bytes.Repeat([]byte{' '}, n)
	copy(b, s)
	return b
}

func TestParseHeader2(t *testing.T) {
	rec := makeRecord2(t, rec2opts{
		net: "NL", sta: "HGN", chan_: "BHZ",
		year: 2024, doy: 60, hour: 12, min: 34, sec: 56,
		numSamples: 100,
	})

	h, err := ParseHeader2(rec)
	if err != nil {
		t.Fatalf("ParseHeader2: %v", err)
	}

	if h.Network != "NL" || h.Station != "HGN" || h.Channel != "BHZ" || h.Location != "" {
		t.Errorf("unexpected codes: %q %q %q %q", h.Network, h.Station, h.Location, h.Channel)
	}
	if h.LittleEndian {
		t.Error("expected big-endian header")
	}
	// 2024 is a leap year, day 60 is February 29.
	if got := h.StartTime(); got != "2024,02,29,12,34,56" {
		t.Errorf("StartTime = %q", got)
	}
}

func TestParseHeader2LittleEndian(t *testing.T) {
	rec := makeRecord2(t, rec2opts{little: true, year: 2023, doy: 1})

	h, err := ParseHeader2(rec)
	if err != nil {
		t.Fatalf("ParseHeader2: %v", err)
	}
	if !h.LittleEndian {
		t.Error("expected little-endian header")
	}
	if h.Year != 2023 || h.Doy != 1 {
		t.Errorf("year/doy = %d/%d", h.Year, h.Doy)
	}
}

func TestParseHeader2Short(t *testing.T) {
	if _, err := ParseHeader2(make([]byte, 47)); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestPayload(t *testing.T) {
	rec := makeRecord2(t, rec2opts{numSamples: 16, sampRateFact: 20})
	copy(rec[64:], "0123456789abcdef")

	h, err := ParseHeader2(rec)
	if err != nil {
		t.Fatalf("ParseHeader2: %v", err)
	}
	if got := string(h.Payload(rec)); got != "0123456789abcdef" {
		t.Errorf("Payload = %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		rec  []byte
		want RecordType
	}{
		{"waveform", makeRecord2(t, rec2opts{numSamples: 100}), TypeWaveform},
		{"message", func() []byte {
			r := makeRecord2(t, rec2opts{noB1000: true, numSamples: 40})
			binary.BigEndian.PutUint16(r[32:34], 0) // no sample rate
			return r
		}(), TypeMessage},
		{"detection", func() []byte {
			r := makeRecord2(t, rec2opts{})
			binary.BigEndian.PutUint16(r[48:50], 201)
			return r
		}(), TypeDetection},
		{"calibration", func() []byte {
			r := makeRecord2(t, rec2opts{})
			binary.BigEndian.PutUint16(r[48:50], 300)
			return r
		}(), TypeCalibration},
		{"timing", func() []byte {
			r := makeRecord2(t, rec2opts{})
			binary.BigEndian.PutUint16(r[48:50], 500)
			return r
		}(), TypeTiming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.rec); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypeCodes(t *testing.T) {
	codes := map[RecordType]byte{
		TypeWaveform:    'D',
		TypeDetection:   'E',
		TypeCalibration: 'C',
		TypeTiming:      'T',
		TypeMessage:     'L',
		TypeOpaque:      'O',
		TypeUnknown:     'U',
		TypeInfo:        'I',
		TypeKeepalive:   'I',
	}
	for typ, want := range codes {
		if got := typ.Code(); got != want {
			t.Errorf("Code(%v) = %c, want %c", typ, got, want)
		}
	}
	if got := RecordType(99).Code(); got != '?' {
		t.Errorf("Code(99) = %c, want ?", got)
	}
}

func TestDoy2md(t *testing.T) {
	tests := []struct {
		year, doy    int
		month, mday  int
	}{
		{2023, 1, 1, 1},
		{2023, 31, 1, 31},
		{2023, 32, 2, 1},
		{2023, 365, 12, 31},
		{2024, 60, 2, 29},
		{2024, 61, 3, 1},
		{2024, 366, 12, 31},
	}
	for _, tt := range tests {
		m, d := doy2md(tt.year, tt.doy)
		if m != tt.month || d != tt.mday {
			t.Errorf("doy2md(%d, %d) = %d/%d, want %d/%d",
				tt.year, tt.doy, m, d, tt.month, tt.mday)
		}
	}
}
