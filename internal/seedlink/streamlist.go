package seedlink

import (
	"fmt"
	"os"
	"strings"
)

// ParseStreamList adds subscriptions from an inline stream list of the form
// "NET_STA[:selectors],NET_STA[:selectors],...". Selectors within one
// stream are space separated. The reserved pair XX_UNI selects uni-station
// mode. Entries without selectors get defaultSelectors. Returns the number
// of entries added.
func (c *Conn) ParseStreamList(list, defaultSelectors string) (int, error) {
	count := 0
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		stream, selectors, _ := strings.Cut(item, ":")
		selectors = strings.TrimSpace(selectors)
		if selectors == "" {
			selectors = defaultSelectors
		}

		net, sta, ok := strings.Cut(stream, "_")
		if !ok || net == "" || sta == "" {
			return count, fmt.Errorf("%w: malformed stream entry %q, want NET_STA", ErrConfigInvalid, item)
		}

		var err error
		if net == UniNetwork && sta == UniStation {
			err = c.reg.setUni(selectors, -1, "")
		} else {
			err = c.reg.add(net, sta, selectors, -1, "")
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ReadStreamList adds subscriptions from a stream list file: one entry per
// line as "NET STA [selectors...]". Lines starting with '#' or '*' are
// comments, blank lines are ignored. Returns the number of entries added.
func (c *Conn) ReadStreamList(path, defaultSelectors string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading stream list: %w", err)
	}

	count := 0
	for lineno, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == '*' {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return count, fmt.Errorf("%w: malformed stream list line %d in %s",
				ErrConfigInvalid, lineno+1, path)
		}

		net, sta := fields[0], fields[1]
		selectors := strings.Join(fields[2:], " ")
		if selectors == "" {
			selectors = defaultSelectors
		}

		var err error
		if net == UniNetwork && sta == UniStation {
			err = c.reg.setUni(selectors, -1, "")
		} else {
			err = c.reg.add(net, sta, selectors, -1, "")
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
