package seedlink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseStreamList(t *testing.T) {
	c := New("example.org", Options{})
	n, err := c.ParseStreamList("GE_STU:BHZ BHN,IU_KONO:BH?.D,NL_HGN", "LHZ")
	if err != nil {
		t.Fatalf("ParseStreamList: %v", err)
	}
	if n != 3 {
		t.Fatalf("added %d entries, want 3", n)
	}

	want := []Stream{
		{Net: "GE", Sta: "STU", Selectors: "BHZ BHN"},
		{Net: "IU", Sta: "KONO", Selectors: "BH?.D"},
		{Net: "NL", Sta: "HGN", Selectors: "LHZ"}, // default selectors
	}
	for i, w := range want {
		e := c.Streams()[i]
		if e.Net != w.Net || e.Sta != w.Sta || e.Selectors != w.Selectors {
			t.Errorf("entry %d = %+v, want %+v", i, *e, w)
		}
		if e.SeqNum != -1 {
			t.Errorf("entry %d seqnum = %d, want -1", i, e.SeqNum)
		}
	}
}

func TestParseStreamListUni(t *testing.T) {
	c := New("example.org", Options{})
	if _, err := c.ParseStreamList("XX_UNI:BHZ", ""); err != nil {
		t.Fatalf("ParseStreamList: %v", err)
	}
	entries := c.Streams()
	if len(entries) != 1 || entries[0].Net != UniNetwork || entries[0].Sta != UniStation {
		t.Fatalf("expected single uni entry, got %+v", entries)
	}
}

func TestParseStreamListMalformed(t *testing.T) {
	c := New("example.org", Options{})
	if _, err := c.ParseStreamList("GESTU", ""); err == nil {
		t.Error("expected error for entry without NET_STA separator")
	}
}

func TestReadStreamList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.txt")
	content := `# comment line
* another comment

GE STU BHZ BHN
NL HGN
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New("example.org", Options{})
	n, err := c.ReadStreamList(path, "LHZ")
	if err != nil {
		t.Fatalf("ReadStreamList: %v", err)
	}
	if n != 2 {
		t.Fatalf("added %d entries, want 2", n)
	}

	if e := c.Streams()[0]; e.Selectors != "BHZ BHN" {
		t.Errorf("selectors = %q, want inline selectors", e.Selectors)
	}
	if e := c.Streams()[1]; e.Selectors != "LHZ" {
		t.Errorf("selectors = %q, want default selectors", e.Selectors)
	}
}
