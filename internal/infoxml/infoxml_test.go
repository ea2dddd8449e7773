package infoxml

import (
	"bytes"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0"?>
<seedlink software="SeedLink v3.1 (2020.075)" organization="GEOFON" started="2024/01/01 00:00:00.0000">
  <capability name="dialup"/>
  <capability name="multistation"/>
  <station name="STU" network="GE" description="Stuttgart" begin_seq="000000" end_seq="00A0B1" stream_check="enabled">
    <stream location="" seedname="BHZ" type="D" begin_time="2024/01/01 00:00:00.0000" end_time="2024/01/02 00:00:00.0000">
      <gap begin_time="2024/01/01 06:00:00.0000" end_time="2024/01/01 06:10:00.0000"/>
    </stream>
    <connection host="192.0.2.10" port="51234" ctime="2024/01/01 12:00:00.0000" txcount="12345" sequence_gaps="0" current_seq="00A0A0" realtime="yes" end_of_data="no">
      <selector pattern="BHZ"/>
    </connection>
  </station>
  <station name="HGN" network="NL" description="Heimansgroeve" begin_seq="000000" end_seq="000100" stream_check="disabled"/>
</seedlink>`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if doc.Software != "SeedLink v3.1 (2020.075)" || doc.Organization != "GEOFON" {
		t.Errorf("identification = %q / %q", doc.Software, doc.Organization)
	}
	if len(doc.Capabilities) != 2 {
		t.Errorf("capabilities = %d, want 2", len(doc.Capabilities))
	}
	if len(doc.Stations) != 2 {
		t.Fatalf("stations = %d, want 2", len(doc.Stations))
	}

	stu := doc.Stations[0]
	if stu.Name != "STU" || stu.Network != "GE" || stu.StreamCheck != "enabled" {
		t.Errorf("station = %+v", stu)
	}
	if len(stu.Streams) != 1 || stu.Streams[0].SeedName != "BHZ" {
		t.Errorf("streams = %+v", stu.Streams)
	}
	if len(stu.Streams[0].Gaps) != 1 {
		t.Errorf("gaps = %d, want 1", len(stu.Streams[0].Gaps))
	}
	if len(stu.Connections) != 1 || len(stu.Connections[0].Selectors) != 1 {
		t.Errorf("connections = %+v", stu.Connections)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("not xml at all <<<")); err == nil {
		t.Error("expected error for invalid XML")
	}
}

func TestWriteIdentification(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	doc.WriteIdentification(&buf)
	out := buf.String()
	if !strings.Contains(out, "SeedLink server: SeedLink v3.1 (2020.075)") {
		t.Errorf("identification output:\n%s", out)
	}
	if !strings.Contains(out, "Organization   : GEOFON") {
		t.Errorf("identification output:\n%s", out)
	}
}

func TestWriteStations(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	doc.WriteStations(&buf)
	out := buf.String()
	if !strings.Contains(out, "GE STU   Stuttgart") {
		t.Errorf("stations output:\n%s", out)
	}
	if !strings.Contains(out, "NL HGN   Heimansgroeve") {
		t.Errorf("stations output:\n%s", out)
	}
}

func TestWriteStreams(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	doc.WriteStreams(&buf)
	out := buf.String()
	if !strings.Contains(out, "BHZ") || !strings.Contains(out, "2024/01/01 00:00:00.0000") {
		t.Errorf("streams output:\n%s", out)
	}
	// Stations without stream check report so instead of listing streams.
	if !strings.Contains(out, "stream check disabled") {
		t.Errorf("streams output:\n%s", out)
	}
}

func TestWriteGaps(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	doc.WriteGaps(&buf)
	if !strings.Contains(buf.String(), "2024/01/01 06:00:00.0000") {
		t.Errorf("gaps output:\n%s", buf.String())
	}
}

func TestWriteConnections(t *testing.T) {
	doc, err := Parse([]byte(sampleXML))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	doc.WriteConnections(&buf)
	out := buf.String()
	if !strings.Contains(out, "192.0.2.10:51234") {
		t.Errorf("connections output:\n%s", out)
	}
	// Real-time connection with selectors: flags RS, queue length 17.
	if !strings.Contains(out, "   17 RS ") {
		t.Errorf("connections output:\n%s", out)
	}
}
