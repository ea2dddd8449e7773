package seedlink

import "github.com/EarthScope/slinktool/internal/mseed"

// Packet is one delivered SeedLink frame: the 24-bit sequence number from
// the frame header and the complete miniSEED record that followed it. Data
// is an independent copy and stays valid after the next Collect call.
type Packet struct {
	SeqNum        int
	FormatVersion uint8
	Data          []byte
}

// RecordInfo is the header summary of a packet's record, uniform across
// the 2.x and 3.x formats.
type RecordInfo struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	StartTime  string
	NumSamples int
	Type       mseed.RecordType
}

// Info parses the record header of the packet.
func (p *Packet) Info() (*RecordInfo, error) {
	if p.FormatVersion == 3 {
		h, err := mseed.ParseHeader3(p.Data)
		if err != nil {
			return nil, err
		}
		return &RecordInfo{
			Network:    h.Network,
			Station:    h.Station,
			Location:   h.Location,
			Channel:    h.Channel,
			StartTime:  h.StartTime(),
			NumSamples: h.NumSamples,
			Type:       mseed.TypeWaveform,
		}, nil
	}

	h, err := mseed.ParseHeader2(p.Data)
	if err != nil {
		return nil, err
	}
	return &RecordInfo{
		Network:    h.Network,
		Station:    h.Station,
		Location:   h.Location,
		Channel:    h.Channel,
		StartTime:  h.StartTime(),
		NumSamples: h.NumSamples,
		Type:       mseed.Classify(p.Data),
	}, nil
}

// SrcName renders the NET_STA_LOC_CHAN source name used in log lines and
// packet printouts.
func (i *RecordInfo) SrcName() string {
	return i.Network + "_" + i.Station + "_" + i.Location + "_" + i.Channel
}
