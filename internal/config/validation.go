package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field consistency. Per-field formats that the
// engine validates itself (stream lists, state files) are not re-checked
// here.
func (c *Config) Validate() error {
	archiveModes := 0
	for _, v := range []string{c.Archive.Format, c.Archive.SDSRoot, c.Archive.BUDRoot} {
		if v != "" {
			archiveModes++
		}
	}
	if archiveModes > 1 {
		return fmt.Errorf("archive format, sds_root and bud_root are mutually exclusive")
	}

	if c.Archive.IdleTimeout < 0 {
		return fmt.Errorf("archive idle_timeout_sec must be >= 0")
	}
	if c.State.Interval < 0 {
		return fmt.Errorf("state interval must be >= 0")
	}
	if c.Connection.Keepalive < 0 || c.Connection.NetTimeout < 0 || c.Connection.ReconnectDelay < 0 {
		return fmt.Errorf("connection timer values must be >= 0")
	}

	if c.Connection.TimeWindow != "" {
		if _, _, err := ParseTimeWindow(c.Connection.TimeWindow); err != nil {
			return err
		}
	}

	for _, sel := range strings.Fields(c.Streams.Selectors) {
		if err := ValidateSelector(sel); err != nil {
			return err
		}
	}

	return nil
}

// ParseTimeWindow splits a "start[:end]" window into its calendar time
// parts, validating the YYYY,MM,DD,HH,MM,SS format.
func ParseTimeWindow(window string) (begin, end string, err error) {
	begin, end, _ = strings.Cut(window, ":")
	if err := validateCalendarTime(begin); err != nil {
		return "", "", fmt.Errorf("time window start: %w", err)
	}
	if end != "" {
		if err := validateCalendarTime(end); err != nil {
			return "", "", fmt.Errorf("time window end: %w", err)
		}
	}
	return begin, end, nil
}

func validateCalendarTime(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return fmt.Errorf("%q is not of the form YYYY,MM,DD,HH,MM,SS", s)
	}
	widths := []int{4, 2, 2, 2, 2, 2}
	for i, p := range parts {
		if len(p) != widths[i] {
			return fmt.Errorf("%q is not of the form YYYY,MM,DD,HH,MM,SS", s)
		}
		for _, ch := range p {
			if ch < '0' || ch > '9' {
				return fmt.Errorf("%q is not of the form YYYY,MM,DD,HH,MM,SS", s)
			}
		}
	}
	return nil
}

// ValidateSelector checks one selector token: [LL]CCC[.T] with an optional
// leading '!' for negation and '?' as a single-character wildcard.
func ValidateSelector(sel string) error {
	orig := sel
	sel = strings.TrimPrefix(sel, "!")
	if sel == "" {
		return fmt.Errorf("empty selector %q", orig)
	}

	body, typ, hasType := strings.Cut(sel, ".")
	if hasType && len(typ) != 1 {
		return fmt.Errorf("selector %q: type suffix must be one character", orig)
	}
	if len(body) != 3 && len(body) != 5 {
		return fmt.Errorf("selector %q: want CCC or LLCCC channel pattern", orig)
	}
	for _, ch := range body {
		ok := ch == '?' ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= 'a' && ch <= 'z') ||
			(ch >= '0' && ch <= '9')
		if !ok {
			return fmt.Errorf("selector %q: invalid character %q", orig, ch)
		}
	}
	return nil
}

// ParseStateFile splits a "file[:interval]" state file spec.
func ParseStateFile(spec string) (path string, interval int, err error) {
	path, intervalStr, has := strings.Cut(spec, ":")
	if path == "" {
		return "", 0, fmt.Errorf("empty state file path")
	}
	if !has || intervalStr == "" {
		return path, 0, nil
	}
	if _, err := fmt.Sscanf(intervalStr, "%d", &interval); err != nil || interval < 0 {
		return "", 0, fmt.Errorf("bad state save interval %q", intervalStr)
	}
	return path, interval, nil
}
