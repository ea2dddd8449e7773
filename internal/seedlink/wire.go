package seedlink

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// headSize is the SeedLink frame header length. The layout beyond the
	// first 8 bytes is opaque; 8 holds for all known protocol versions.
	headSize = 8

	signature     = "SL"
	infoSignature = "SLINFO"

	// DefaultPort is the historical SeedLink TCP port.
	DefaultPort = "18000"

	// bufSize is the receive buffer capacity.
	bufSize = 8192

	// seqMask bounds sequence numbers to 24 bits.
	seqMask = 0xffffff
)

// frameHeader is the decoded 8-byte SeedLink frame header.
type frameHeader struct {
	info       bool
	terminator bool
	// seq is the 24-bit packet sequence number for data frames, -1 when the
	// sequence field is unparseable.
	seq int
}

// decodeFrameHeader classifies the first 8 bytes of a frame. Anything not
// starting with the SL signature is a protocol violation.
func decodeFrameHeader(b []byte) (frameHeader, error) {
	if len(b) < headSize {
		return frameHeader{}, fmt.Errorf("frame header needs %d bytes, have %d", headSize, len(b))
	}
	if string(b[0:2]) != signature {
		return frameHeader{}, fmt.Errorf("missing SL signature: %q", b[0:2])
	}
	if string(b[0:6]) == infoSignature {
		return frameHeader{info: true, terminator: b[7] == '*'}, nil
	}
	return frameHeader{seq: parseSeq(string(b[2:8]))}, nil
}

// parseSeq decodes a 6-character hex sequence field, returning -1 when any
// character is not a hex digit.
func parseSeq(s string) int {
	if len(s) != 6 {
		return -1
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil || n > seqMask {
		return -1
	}
	return int(n)
}

// formatSeq renders a sequence number as the 6 uppercase hex digits used in
// DATA and FETCH commands and in state files.
func formatSeq(seq int) string {
	return fmt.Sprintf("%06X", seq&seqMask)
}

// resumeCommand builds a DATA or FETCH command with the optional resume
// point. A seq of -1 omits the sequence number (and therefore the time).
func resumeCommand(verb string, seq int, timestamp string) string {
	var sb strings.Builder
	sb.WriteString(verb)
	if seq != -1 {
		sb.WriteByte(' ')
		sb.WriteString(formatSeq(seq))
		if timestamp != "" {
			sb.WriteByte(' ')
			sb.WriteString(timestamp)
		}
	}
	return sb.String()
}

// timeCommand builds a TIME command for a server-side time window.
func timeCommand(begin, end string) string {
	if end != "" {
		return "TIME " + begin + " " + end
	}
	return "TIME " + begin
}
