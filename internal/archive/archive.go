// Package archive demultiplexes a stream of miniSEED records into an
// LRU-bounded set of append-only files keyed by an expanded path template.
//
// Templates mix literal text with %X (defining) and #X (non-defining)
// tokens. All records sharing the same expansion of the defining tokens go
// to the same file; non-defining tokens are expanded from the first record
// that created the file.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/EarthScope/slinktool/internal/mseed"
)

const (
	// DefaultIdleTimeout closes entries not written to for this long.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultMaxOpenFiles bounds the open-file table.
	DefaultMaxOpenFiles = 50
)

// Options configures a Router. Zero values select the defaults.
type Options struct {
	IdleTimeout  time.Duration
	MaxOpenFiles int

	// WaveformOnly drops everything but waveform data records (the BUD
	// convention).
	WaveformOnly bool

	Logger *zap.Logger
}

// Router routes records to files according to a path template.
type Router struct {
	format       string
	idleTimeout  time.Duration
	maxOpen      int
	waveformOnly bool
	logger       *zap.Logger

	entries map[string]*entry

	now func() time.Time
}

// entry is one open-file table slot. The path is fixed by the first record
// that created the entry. An idle close or an eviction drops the entry, so
// the next record for the same key creates a new entry whose path comes
// from that record.
type entry struct {
	path    string
	file    *os.File
	modtime time.Time
	failed  bool
}

// New creates a Router for the given path template.
func New(format string, opts Options) *Router {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxOpenFiles == 0 {
		opts.MaxOpenFiles = DefaultMaxOpenFiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		format:       format,
		idleTimeout:  opts.IdleTimeout,
		maxOpen:      opts.MaxOpenFiles,
		waveformOnly: opts.WaveformOnly,
		logger:       logger,
		entries:      make(map[string]*entry),
		now:          time.Now,
	}
}

// SDS returns the SDS structure template rooted at root:
// root/YEAR/NET/STA/CHAN.TYPE/NET.STA.LOC.CHAN.TYPE.YEAR.DAY.
//
// Deprecated: the SDS and BUD presets are kept for compatibility with
// existing archives; prefer an explicit template.
func SDS(root string) string {
	return root + "/%Y/%n/%s/%c.%t/%n.%s.%l.%c.%t.%Y.%j"
}

// BUD returns the BUD structure template rooted at root:
// root/NET/STA/STA.NET.LOC.CHAN.YEAR.DAY. BUD archives hold waveform
// records only; combine with Options.WaveformOnly.
//
// Deprecated: see SDS.
func BUD(root string) string {
	return root + "/%n/%s/%s.%n.%l.%c.%Y.%j"
}

// fields carries the record header values the template tokens draw from.
type fields struct {
	Net, Sta, Loc, Chan string
	Year, Doy           int
	Hour, Min, Sec      int
	Fract               int
	Type                mseed.RecordType
}

// Write appends one miniSEED record to the file its header selects.
func (r *Router) Write(rec []byte, version uint8) error {
	f, err := recordFields(rec, version)
	if err != nil {
		return fmt.Errorf("reading record header: %w", err)
	}
	if r.waveformOnly && f.Type != mseed.TypeWaveform {
		return nil
	}

	path, defkey, err := expand(r.format, f)
	if err != nil {
		return err
	}

	now := r.now()
	r.closeIdle(now)

	e, ok := r.entries[defkey]
	if !ok {
		if len(r.entries) >= r.maxOpen {
			r.evictOldest()
		}
		e = &entry{path: path, modtime: now}
		r.entries[defkey] = e
	}

	if e.failed {
		return nil
	}

	if e.file == nil {
		if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
			return r.disable(e, defkey, err)
		}
		file, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return r.disable(e, defkey, err)
		}
		r.logger.Debug("opened archive file",
			zap.String("key", defkey), zap.String("path", e.path))
		e.file = file
	}

	if _, err := e.file.Write(rec); err != nil {
		_ = e.file.Close()
		e.file = nil
		return r.disable(e, defkey, err)
	}
	e.modtime = now
	return nil
}

// disable marks a key broken for the rest of the session and reports it
// once.
func (r *Router) disable(e *entry, defkey string, err error) error {
	e.failed = true
	r.logger.Error("archiving disabled for stream",
		zap.String("key", defkey), zap.String("path", e.path), zap.Error(err))
	return fmt.Errorf("archiving %s: %w", e.path, err)
}

// closeIdle closes and drops entries that have been idle past the timeout.
func (r *Router) closeIdle(now time.Time) {
	for key, e := range r.entries {
		if e.failed || now.Sub(e.modtime) <= r.idleTimeout {
			continue
		}
		r.logger.Debug("closing idle archive file", zap.String("key", key))
		if e.file != nil {
			if err := e.file.Close(); err != nil {
				r.logger.Warn("closing archive file", zap.Error(err))
			}
		}
		delete(r.entries, key)
	}
}

// evictOldest drops the least recently written entry to stay inside the
// open-file bound.
func (r *Router) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range r.entries {
		if oldestKey == "" || e.modtime.Before(oldest) {
			oldestKey = key
			oldest = e.modtime
		}
	}
	if oldestKey == "" {
		return
	}
	e := r.entries[oldestKey]
	if e.file != nil {
		_ = e.file.Close()
	}
	delete(r.entries, oldestKey)
}

// Close flushes and closes every open archive file.
func (r *Router) Close() error {
	var firstErr error
	for key, e := range r.entries {
		if e.file != nil {
			if err := e.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(r.entries, key)
	}
	return firstErr
}

func recordFields(rec []byte, version uint8) (*fields, error) {
	if version == 3 {
		h, err := mseed.ParseHeader3(rec)
		if err != nil {
			return nil, err
		}
		return &fields{
			Net: h.Network, Sta: h.Station, Loc: h.Location, Chan: h.Channel,
			Year: h.Year, Doy: h.Doy,
			Hour: h.Hour, Min: h.Min, Sec: h.Sec,
			Fract: h.Nanosecond / 100000,
			Type:  mseed.TypeWaveform,
		}, nil
	}

	h, err := mseed.ParseHeader2(rec)
	if err != nil {
		return nil, err
	}
	return &fields{
		Net: h.Network, Sta: h.Station, Loc: h.Location, Chan: h.Channel,
		Year: h.Year, Doy: h.Doy,
		Hour: h.Hour, Min: h.Min, Sec: h.Sec,
		Fract: h.Fract,
		Type:  mseed.Classify(rec),
	}, nil
}

// expand renders the template against a record, producing the filesystem
// path and the defining key. The key concatenates the expansions of the
// defining tokens only.
func expand(format string, f *fields) (path, defkey string, err error) {
	var pathB, keyB strings.Builder

	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' && ch != '#' {
			pathB.WriteByte(ch)
			continue
		}

		defining := ch == '%'
		if i+1 >= len(format) {
			return "", "", fmt.Errorf("dangling %c at end of archive format", ch)
		}
		i++

		var val string
		switch format[i] {
		case 'n':
			val = f.Net
		case 's':
			val = f.Sta
		case 'l':
			val = f.Loc
		case 'c':
			val = f.Chan
		case 'Y':
			val = fmt.Sprintf("%04d", f.Year)
		case 'y':
			val = fmt.Sprintf("%02d", f.Year%100)
		case 'j':
			val = fmt.Sprintf("%03d", f.Doy)
		case 'H':
			val = fmt.Sprintf("%02d", f.Hour)
		case 'M':
			val = fmt.Sprintf("%02d", f.Min)
		case 'S':
			val = fmt.Sprintf("%02d", f.Sec)
		case 'F':
			val = fmt.Sprintf("%04d", f.Fract)
		case 't':
			val = string(f.Type.Code())
		case '%':
			pathB.WriteByte('%')
			continue
		case '#':
			pathB.WriteByte('#')
			continue
		default:
			return "", "", fmt.Errorf("unknown archive format code %%%c", format[i])
		}

		pathB.WriteString(val)
		if defining {
			keyB.WriteString(val)
		}
	}

	return pathB.String(), keyB.String(), nil
}
