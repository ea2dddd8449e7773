package seedlink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// SaveState writes the registry resume points to a state file, one entry
// per line: NET STA SEQHEX YYYY,MM,DD,HH,MM,SS. Entries that have not yet
// received a packet are skipped. The file is replaced atomically via a
// temporary and rename.
func (c *Conn) SaveState(path string) error {
	var sb strings.Builder
	count := 0
	for _, e := range c.reg.streams() {
		if e.SeqNum == -1 || e.Timestamp == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s %s %s %s\n", e.Net, e.Sta, formatSeq(e.SeqNum), e.Timestamp)
		count++
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming state file: %w", err)
	}

	c.logger.Debug("saved connection state",
		zap.String("path", path), zap.Int("entries", count))
	return nil
}

// RecoverState reads a state file and applies the stored sequence numbers
// and timestamps to matching registry entries. Entries in the file without
// a matching subscription are ignored, as is a missing file.
func (c *Conn) RecoverState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("no state file to recover", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("reading state file: %w", err)
	}

	recovered := 0
	for lineno, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			c.logger.Warn("malformed state file line, skipping",
				zap.String("path", path), zap.Int("line", lineno+1))
			continue
		}

		seq := -1
		if fields[2] != "-1" {
			n, err := strconv.ParseUint(fields[2], 16, 32)
			if err != nil || n > seqMask {
				c.logger.Warn("bad sequence number in state file, skipping",
					zap.String("path", path), zap.Int("line", lineno+1))
				continue
			}
			seq = int(n)
		}

		for _, e := range c.reg.streams() {
			if e.Net == fields[0] && e.Sta == fields[1] {
				e.SeqNum = seq
				e.Timestamp = fields[3]
				recovered++
			}
		}
	}

	c.logger.Info("recovered connection state",
		zap.String("path", path), zap.Int("entries", recovered))
	return nil
}
