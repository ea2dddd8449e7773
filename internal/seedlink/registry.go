package seedlink

// Reserved codes marking a uni-station subscription.
const (
	UniNetwork = "XX"
	UniStation = "UNI"
)

// Stream is one subscription entry: a (network, station) pair with optional
// selectors and the resume point of the last packet received.
type Stream struct {
	Net       string
	Sta       string
	Selectors string

	// SeqNum is the 24-bit sequence number of the last packet received for
	// this entry, -1 when unset.
	SeqNum int

	// Timestamp is the start time of the last packet received, formatted
	// YYYY,MM,DD,HH,MM,SS, empty when unset.
	Timestamp string
}

func (s *Stream) isUni() bool {
	return s.Net == UniNetwork && s.Sta == UniStation
}

// registry is the ordered subscription collection. Insertion order is
// preserved because it dictates command-emission order during negotiation.
// It holds either nothing, exactly one uni-station entry, or ordinary
// entries, never a mix.
type registry struct {
	entries      []*Stream
	multistation bool
}

// add appends a multi-station entry.
func (r *registry) add(net, sta, selectors string, seqnum int, timestamp string) error {
	if len(r.entries) > 0 && r.entries[0].isUni() {
		return ErrModeConflict
	}
	r.entries = append(r.entries, &Stream{
		Net:       net,
		Sta:       sta,
		Selectors: selectors,
		SeqNum:    seqnum,
		Timestamp: timestamp,
	})
	r.multistation = true
	return nil
}

// setUni installs or overwrites the sole uni-station entry.
func (r *registry) setUni(selectors string, seqnum int, timestamp string) error {
	if len(r.entries) > 0 && !r.entries[0].isUni() {
		return ErrModeConflict
	}
	r.entries = []*Stream{{
		Net:       UniNetwork,
		Sta:       UniStation,
		Selectors: selectors,
		SeqNum:    seqnum,
		Timestamp: timestamp,
	}}
	r.multistation = false
	return nil
}

// matchAndUpdate records the resume point on every entry matching the
// packet's codes and returns the number of entries updated. Zero updates
// means the data was not subscribed to. Codes must already be stripped of
// padding whitespace.
func (r *registry) matchAndUpdate(net, sta string, seqnum int, startTime string) int {
	if len(r.entries) == 0 {
		return 0
	}

	if r.entries[0].isUni() {
		r.entries[0].SeqNum = seqnum
		r.entries[0].Timestamp = startTime
		return 1
	}

	updates := 0
	for _, e := range r.entries {
		if globMatch(net, e.Net) && globMatch(sta, e.Sta) {
			e.SeqNum = seqnum
			e.Timestamp = startTime
			updates++
		}
	}
	return updates
}

// streams returns the entries in insertion order.
func (r *registry) streams() []*Stream {
	return r.entries
}

// globMatch matches s against a pattern of literal characters plus the
// wildcards '*' (any run) and '?' (exactly one). Matching is case
// sensitive; there are no character classes or escapes.
func globMatch(s, pattern string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse runs of stars, then try every suffix.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(s[i:], pattern) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
		}
		s = s[1:]
		pattern = pattern[1:]
	}
	return len(s) == 0
}
