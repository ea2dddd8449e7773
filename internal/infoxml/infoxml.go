// Package infoxml decodes the XML documents SeedLink servers return for
// INFO requests and formats the station, stream, gap and connection
// listings the CLI prints.
package infoxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// SeedLink is the root of every INFO response document.
type SeedLink struct {
	XMLName      xml.Name     `xml:"seedlink"`
	Software     string       `xml:"software,attr"`
	Organization string       `xml:"organization,attr"`
	Started      string       `xml:"started,attr"`
	Capabilities []Capability `xml:"capability"`
	Stations     []Station    `xml:"station"`
}

// Capability is one server capability flag (INFO CAPABILITIES).
type Capability struct {
	Name string `xml:"name,attr"`
}

// Station describes one station the server carries.
type Station struct {
	Name        string       `xml:"name,attr"`
	Network     string       `xml:"network,attr"`
	Description string       `xml:"description,attr"`
	BeginSeq    string       `xml:"begin_seq,attr"`
	EndSeq      string       `xml:"end_seq,attr"`
	StreamCheck string       `xml:"stream_check,attr"`
	Streams     []Stream     `xml:"stream"`
	Connections []Connection `xml:"connection"`
}

// Stream describes one channel of a station.
type Stream struct {
	Location  string `xml:"location,attr"`
	SeedName  string `xml:"seedname,attr"`
	Type      string `xml:"type,attr"`
	BeginTime string `xml:"begin_time,attr"`
	EndTime   string `xml:"end_time,attr"`
	Gaps      []Gap  `xml:"gap"`
}

// Gap is one hole in a stream's buffered data.
type Gap struct {
	BeginTime string `xml:"begin_time,attr"`
	EndTime   string `xml:"end_time,attr"`
}

// Connection describes one client connection (INFO CONNECTIONS).
type Connection struct {
	Host         string     `xml:"host,attr"`
	Port         string     `xml:"port,attr"`
	CTime        string     `xml:"ctime,attr"`
	TXCount      string     `xml:"txcount,attr"`
	SequenceGaps string     `xml:"sequence_gaps,attr"`
	CurrentSeq   string     `xml:"current_seq,attr"`
	Realtime     string     `xml:"realtime,attr"`
	EndOfData    string     `xml:"end_of_data,attr"`
	Window       *struct{}  `xml:"window"`
	Selectors    []Selector `xml:"selector"`
}

// Selector is one selector a connection has applied.
type Selector struct {
	Pattern string `xml:"pattern,attr"`
}

// Parse decodes an INFO response document.
func Parse(data []byte) (*SeedLink, error) {
	var doc SeedLink
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding INFO XML: %w", err)
	}
	return &doc, nil
}

// WriteIdentification prints the server identification summary.
func (s *SeedLink) WriteIdentification(w io.Writer) {
	fmt.Fprintf(w, "SeedLink server: %s\n", s.Software)
	fmt.Fprintf(w, "Organization   : %s\n", s.Organization)
	fmt.Fprintf(w, "Start time     : %s\n", s.Started)
}

// WriteCapabilities prints the capability flags on one line.
func (s *SeedLink) WriteCapabilities(w io.Writer) {
	for i, c := range s.Capabilities {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		fmt.Fprint(w, c.Name)
	}
	fmt.Fprintln(w)
}

// WriteStations prints one line per station.
func (s *SeedLink) WriteStations(w io.Writer) {
	for _, sta := range s.Stations {
		fmt.Fprintf(w, "%-2s %-5s %s\n", sta.Network, sta.Name, sta.Description)
	}
}

// WriteStreams prints one line per stream of every stream-checked station.
func (s *SeedLink) WriteStreams(w io.Writer) {
	for _, sta := range s.Stations {
		if sta.StreamCheck != "enabled" {
			fmt.Fprintf(w, "%-2s %-5s: no stream information, stream check disabled\n",
				sta.Network, sta.Name)
			continue
		}
		for _, st := range sta.Streams {
			fmt.Fprintf(w, "%-2s %-5s %-2s %-3s %s %s  -  %s\n",
				sta.Network, sta.Name, st.Location, st.SeedName, st.Type,
				st.BeginTime, st.EndTime)
		}
	}
}

// WriteGaps prints one line per gap of every stream-checked station.
func (s *SeedLink) WriteGaps(w io.Writer) {
	for _, sta := range s.Stations {
		if sta.StreamCheck != "enabled" {
			fmt.Fprintf(w, "%-2s %-5s: no gap information, stream check disabled\n",
				sta.Network, sta.Name)
			continue
		}
		for _, st := range sta.Streams {
			for _, gap := range st.Gaps {
				fmt.Fprintf(w, "%-2s %-5s %-2s %-3s %s %s  -  %s\n",
					sta.Network, sta.Name, st.Location, st.SeedName, st.Type,
					gap.BeginTime, gap.EndTime)
			}
		}
	}
}

// WriteConnections prints the connection table.
func (s *SeedLink) WriteConnections(w io.Writer) {
	fmt.Fprintln(w, "STATION  REMOTE ADDRESS        CONNECTION ESTABLISHED   TX COUNT GAPS  QLEN FLG")
	fmt.Fprintln(w, "-------------------------------------------------------------------------------")

	for _, sta := range s.Stations {
		for _, conn := range sta.Connections {
			var qlen uint64
			active := conn.CurrentSeq != "unset" && conn.CurrentSeq != ""
			if active {
				endSeq, _ := strconv.ParseUint(sta.EndSeq, 16, 64)
				curSeq, _ := strconv.ParseUint(conn.CurrentSeq, 16, 64)
				qlen = (endSeq - curSeq) & 0xffffff
			}
			realtime := conn.Realtime != "no"
			eod := conn.EndOfData != "no"

			flags := []byte{' ', ' ', ' '}
			switch {
			case !active:
				flags[0] = 'O' // opened but not configured
			case conn.Window != nil:
				flags[0] = 'W' // window extraction (TIME) mode
			case !realtime:
				flags[0] = 'D' // dial-up mode
			default:
				flags[0] = 'R' // real-time mode
			}
			if len(conn.Selectors) > 0 {
				flags[1] = 'S'
			}
			if eod {
				flags[2] = 'E'
			}

			address := fmt.Sprintf("%.15s:%.5s", conn.Host, conn.Port)
			fmt.Fprintf(w, "%-2s %-5s %-21s %s %8s %4s ",
				sta.Network, sta.Name, address, conn.CTime,
				conn.TXCount, conn.SequenceGaps)
			if realtime && active {
				fmt.Fprintf(w, "%5d ", qlen)
			} else {
				fmt.Fprint(w, "    - ")
			}
			fmt.Fprintf(w, "%s\n", flags)
		}
	}
}
