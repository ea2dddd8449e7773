package archive

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EarthScope/slinktool/internal/mseed"
)

// testRecord builds a 512-byte big-endian 2.x record for NL HGN BHZ on
// 2024 day 60 at the given time.
func testRecord(hour, minute, sec int) []byte {
	rec := make([]byte, 512)
	copy(rec[0:6], "000001")
	rec[6] = 'D'
	copy(rec[8:13], "HGN  ")
	copy(rec[13:15], "  ")
	copy(rec[15:18], "BHZ")
	copy(rec[18:20], "NL")
	binary.BigEndian.PutUint16(rec[20:22], 2024)
	binary.BigEndian.PutUint16(rec[22:24], 60)
	rec[24], rec[25], rec[26] = byte(hour), byte(minute), byte(sec)
	binary.BigEndian.PutUint16(rec[30:32], 100)
	binary.BigEndian.PutUint16(rec[32:34], 20)
	binary.BigEndian.PutUint16(rec[44:46], 64)
	binary.BigEndian.PutUint16(rec[46:48], 48)
	binary.BigEndian.PutUint16(rec[48:50], 1000)
	rec[54] = 9
	return rec
}

// testLogRecord is a record classified as a log message (no sample rate).
func testLogRecord() []byte {
	rec := testRecord(0, 0, 0)
	binary.BigEndian.PutUint16(rec[32:34], 0)
	return rec
}

func TestDefiningVsNonDefining(t *testing.T) {
	root := t.TempDir()
	r := New(root+"/%n.%s.%Y.%j.%H:#M:#S", Options{})

	// Two records in the same hour, one in the next.
	recs := [][]byte{testRecord(11, 15, 30), testRecord(11, 45, 50), testRecord(12, 20, 40)}
	for _, rec := range recs {
		if err := r.Write(rec, 2); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// The hour-11 file carries the minute and second of its first record.
	first, err := os.ReadFile(filepath.Join(root, "NL.HGN.2024.060.11:15:30"))
	if err != nil {
		t.Fatalf("hour-11 file: %v", err)
	}
	if len(first) != 1024 {
		t.Errorf("hour-11 file holds %d bytes, want 1024 (two records)", len(first))
	}
	if !bytes.Equal(first[:512], recs[0]) || !bytes.Equal(first[512:], recs[1]) {
		t.Error("hour-11 file does not hold the records in order")
	}

	second, err := os.ReadFile(filepath.Join(root, "NL.HGN.2024.060.12:20:40"))
	if err != nil {
		t.Fatalf("hour-12 file: %v", err)
	}
	if len(second) != 512 {
		t.Errorf("hour-12 file holds %d bytes, want 512", len(second))
	}
}

func TestIdleCloseAndReopen(t *testing.T) {
	root := t.TempDir()
	r := New(root+"/%n.%s.%Y.%j.%H", Options{IdleTimeout: time.Minute})

	clock := time.Unix(1700000000, 0)
	r.now = func() time.Time { return clock }

	if err := r.Write(testRecord(11, 0, 0), 2); err != nil {
		t.Fatal(err)
	}

	// Past the idle timeout the entry is closed by the next append.
	clock = clock.Add(2 * time.Minute)
	if err := r.Write(testRecord(12, 0, 0), 2); err != nil {
		t.Fatal(err)
	}
	if len(r.entries) != 1 {
		t.Errorf("open entries = %d, want 1 after idle close", len(r.entries))
	}

	// A new record for the first hour reopens and appends to the same file.
	if err := r.Write(testRecord(11, 30, 0), 2); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "NL.HGN.2024.060.11"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1024 {
		t.Errorf("hour-11 file holds %d bytes, want 1024 after reopen", len(data))
	}
}

func TestLRUEviction(t *testing.T) {
	root := t.TempDir()
	r := New(root+"/%H", Options{MaxOpenFiles: 2})

	clock := time.Unix(1700000000, 0)
	r.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	for hour := 0; hour < 4; hour++ {
		if err := r.Write(testRecord(hour, 0, 0), 2); err != nil {
			t.Fatal(err)
		}
	}
	if len(r.entries) > 2 {
		t.Errorf("open entries = %d, want <= 2", len(r.entries))
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// Every record still landed in its file.
	for _, name := range []string{"00", "01", "02", "03"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("file %s: %v", name, err)
		}
	}
}

func TestSDSLayout(t *testing.T) {
	root := t.TempDir()
	r := New(SDS(root), Options{})
	if err := r.Write(testRecord(11, 0, 0), 2); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(root, "2024", "NL", "HGN", "BHZ.D", "NL.HGN..BHZ.D.2024.060")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("SDS file: %v", err)
	}
}

func TestBUDLayout(t *testing.T) {
	root := t.TempDir()
	r := New(BUD(root), Options{WaveformOnly: true})
	if err := r.Write(testRecord(11, 0, 0), 2); err != nil {
		t.Fatal(err)
	}
	// Log records are dropped in waveform-only mode.
	if err := r.Write(testLogRecord(), 2); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(root, "NL", "HGN", "HGN.NL..BHZ.2024.060")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("BUD file: %v", err)
	}
	if len(data) != 512 {
		t.Errorf("BUD file holds %d bytes, want 512 (log record dropped)", len(data))
	}
}

func TestExpandTokens(t *testing.T) {
	f := &fields{
		Net: "NL", Sta: "HGN", Loc: "02", Chan: "BHZ",
		Year: 2024, Doy: 60, Hour: 1, Min: 2, Sec: 3, Fract: 45,
		Type: mseed.TypeWaveform,
	}

	tests := []struct {
		format   string
		wantPath string
		wantKey  string
	}{
		{"%n/%s/%Y.%j", "NL/HGN/2024.060", "NLHGN2024060"},
		{"%n.%s.#H#M", "NL.HGN.0102", "NLHGN"},
		{"%y-%t-%F", "24-D-0045", "24D0045"},
		{"100%%-#l", "100%-02", ""},
		{"a%#b", "a#b", ""},
	}
	for _, tt := range tests {
		path, key, err := expand(tt.format, f)
		if err != nil {
			t.Errorf("expand(%q): %v", tt.format, err)
			continue
		}
		if path != tt.wantPath || key != tt.wantKey {
			t.Errorf("expand(%q) = (%q, %q), want (%q, %q)",
				tt.format, path, key, tt.wantPath, tt.wantKey)
		}
	}

	if _, _, err := expand("%q", f); err == nil {
		t.Error("expected error for unknown token")
	}
	if _, _, err := expand("trailing%", f); err == nil {
		t.Error("expected error for dangling token")
	}
}

func TestFailedKeyDisabled(t *testing.T) {
	root := t.TempDir()
	// Block directory creation by putting a file where a directory must go.
	if err := os.WriteFile(filepath.Join(root, "NL"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(root+"/%n/%s", Options{})
	if err := r.Write(testRecord(11, 0, 0), 2); err == nil {
		t.Fatal("expected error on first write")
	}
	// Subsequent writes for the same key are silently dropped.
	if err := r.Write(testRecord(12, 0, 0), 2); err != nil {
		t.Errorf("second write = %v, want nil (key disabled)", err)
	}
}
