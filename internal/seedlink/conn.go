// Package seedlink implements a client for the SeedLink protocol: a
// long-lived connection engine that negotiates stream subscriptions with a
// server, ingests framed miniSEED records, and maintains sequence-numbered
// resumability across reconnects.
//
// A Conn is single-threaded: Collect and CollectNB must be driven from one
// goroutine. Terminate is the only method safe to call concurrently.
package seedlink

import (
	"bytes"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EarthScope/slinktool/internal/mseed"
)

// BatchMode tracks the BATCH negotiation: requested by the caller, then
// activated once the server acknowledges. The two non-idle states are
// distinct because only activation suppresses per-command acks.
type BatchMode int

const (
	BatchNone BatchMode = iota
	BatchRequested
	BatchActivated
)

// connState is the connection lifecycle state.
type connState int

const (
	stateDown connState = iota // no socket
	stateUp                    // socket open, negotiating
	stateData                  // streaming
)

// queryMode distinguishes what an expected INFO response answers.
type queryMode int

const (
	queryNone queryMode = iota
	queryInfo
	queryKeepAlive
)

// timerState is the tri-state of the engine's timers.
type timerState int

const (
	timerReset timerState = iota
	timerRunning
	timerFired
)

type timer struct {
	state timerState
	start time.Time
}

// eval advances the timer against the current time: a reset timer captures
// now and runs, a running timer fires once the threshold has elapsed.
func (t *timer) eval(now time.Time, threshold time.Duration) {
	switch t.state {
	case timerReset:
		t.start = now
		t.state = timerRunning
	case timerRunning:
		if now.Sub(t.start) > threshold {
			t.state = timerFired
		}
	}
}

const (
	// readWait is how long the blocking collect variant waits for socket
	// readability per step.
	readWait = 500 * time.Millisecond

	// reconnectThrottle paces the blocking collect loop while the
	// reconnect delay is running.
	reconnectThrottle = 500 * time.Millisecond
)

// Options configures a connection. The zero value of every field is a
// usable default.
type Options struct {
	// Dialup requests FETCH instead of DATA: the server sends buffered
	// data and closes with the END sentinel.
	Dialup bool

	// Batch requests BATCH mode (protocol >= 3.0): the server suppresses
	// per-command acks during negotiation.
	Batch bool

	// NoResume disables resuming with stored sequence numbers.
	NoResume bool

	// Keepalive is the interval in seconds between INFO ID heartbeats
	// while streaming. Zero disables keepalives.
	Keepalive int

	// NetTimeout is the network timeout in seconds: with no incoming
	// bytes for this long the connection is cycled. Zero selects the
	// default of 600; negative disables the timeout.
	NetTimeout int

	// ReconnectDelay is the delay in seconds before reconnection
	// attempts. Zero selects the default of 30.
	ReconnectDelay int

	// IOTimeout bounds dialing and negotiation line reads, in seconds.
	// Defaults to 60.
	IOTimeout int

	// BeginTime and EndTime select a server-side time window (TIME mode),
	// overriding per-entry resume points. Format YYYY,MM,DD,HH,MM,SS.
	BeginTime string
	EndTime   string

	// InfoHandler receives each reassembled INFO response as the raw XML
	// blob. Keepalive replies are consumed internally and not delivered.
	InfoHandler func(xml []byte)

	// Logger receives engine diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Dialer overrides the transport dialer.
	Dialer Dialer
}

// Conn is a SeedLink connection engine instance.
type Conn struct {
	addr string
	opts Options
	id   string

	logger *zap.Logger
	dialer Dialer

	reg       registry
	transport Transport
	state     connState
	batch     BatchMode

	protoVer float64
	serverID string
	site     string

	buf     [bufSize]byte
	readEnd int // bytes written into buf
	consume int // bytes already delivered

	terminate atomic.Bool

	pendingInfo string
	expectInfo  bool
	query       queryMode
	infoBuf     bytes.Buffer

	netto  timer
	netdly timer
	keep   timer

	unexpectedWarn *rate.Limiter

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a connection engine for the given server address. The address
// is host[:port] for TCP (port defaults to 18000) or a ws:// / wss:// URL
// for SeedLink over WebSocket.
func New(address string, opts Options) *Conn {
	if opts.NetTimeout == 0 {
		opts.NetTimeout = 600
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 30
	}
	if opts.IOTimeout == 0 {
		opts.IOTimeout = 60
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = defaultDialer{}
	}

	c := &Conn{
		addr:   address,
		opts:   opts,
		id:     uuid.New().String(),
		dialer: dialer,
		state:  stateDown,
		// First connect is immediate; the delay applies between attempts.
		netdly:         timer{state: timerFired},
		unexpectedWarn: rate.NewLimiter(rate.Every(5*time.Second), 1),
		now:            time.Now,
		sleep:          time.Sleep,
	}
	c.logger = logger.With(zap.String("conn", c.id[:8]), zap.String("server", address))
	return c
}

// AddStream appends a multi-station subscription entry. Selectors are space
// separated tokens of the form [LL]CCC[.T], seqnum is the resume sequence
// number (-1 for none) and timestamp the resume time (empty for none).
func (c *Conn) AddStream(net, sta, selectors string, seqnum int, timestamp string) error {
	return c.reg.add(net, sta, selectors, seqnum, timestamp)
}

// SetUniParams configures uni-station mode: a single subscription covering
// all stations the server sends.
func (c *Conn) SetUniParams(selectors string, seqnum int, timestamp string) error {
	return c.reg.setUni(selectors, seqnum, timestamp)
}

// Streams returns the subscription entries in insertion order.
func (c *Conn) Streams() []*Stream {
	return c.reg.streams()
}

// ServerID returns the identification line from the HELLO exchange, empty
// before the first successful connect.
func (c *Conn) ServerID() string { return c.serverID }

// ProtocolVersion returns the negotiated protocol version, 0 before the
// first successful connect.
func (c *Conn) ProtocolVersion() float64 { return c.protoVer }

// RequestInfo schedules an INFO request for the given level (ID,
// CAPABILITIES, STATIONS, STREAMS, GAPS, CONNECTIONS, ALL). The response is
// delivered to the InfoHandler. Only one request may be outstanding.
func (c *Conn) RequestInfo(level string) error {
	if c.pendingInfo != "" || c.expectInfo {
		return ErrInfoPending
	}
	c.pendingInfo = level
	return nil
}

// Terminate requests cooperative shutdown. The next collect step sends BYE
// when appropriate, drains buffered packets, and returns ErrTerminated.
// Safe to call from a signal handler goroutine.
func (c *Conn) Terminate() {
	c.terminate.Store(true)
}

// Collect drives the connection and blocks until a packet is received or
// the connection terminates. A non-nil packet comes with a nil error; on
// termination the error is ErrTerminated, ErrServerEnd, ErrServerError or
// ErrBadRecord.
func (c *Conn) Collect() (*Packet, error) {
	return c.collect(true)
}

// CollectNB is the non-blocking variant of Collect: it performs one drive
// step without sleeping and returns (nil, nil) when no packet is ready.
func (c *Conn) CollectNB() (*Packet, error) {
	return c.collect(false)
}

func (c *Conn) collect(block bool) (*Packet, error) {
	if c.pendingInfo != "" && c.query == queryNone {
		c.query = queryInfo
	}

	// Fresh start: validate the description and reset the timers.
	if c.transport == nil && !c.terminate.Load() {
		if err := c.checkConfig(); err != nil {
			return nil, err
		}
		c.netto.state = timerReset
		c.keep.state = timerReset
	}

	for {
		if !c.terminate.Load() {
			if c.transport == nil {
				c.state = stateDown
			}

			// Network timeout while streaming: cycle the connection.
			if c.state == stateData && c.opts.NetTimeout > 0 && c.netto.state == timerFired {
				c.logger.Warn("network timeout, reconnecting",
					zap.Int("timeout_s", c.opts.NetTimeout),
					zap.Int("delay_s", c.opts.ReconnectDelay))
				c.disconnect(false)
				c.state = stateDown
				c.netto.state = timerReset
				c.netdly.state = timerReset
			}

			// Keepalive heartbeat.
			if c.state == stateData && !c.expectInfo && c.opts.Keepalive > 0 && c.keep.state == timerFired {
				c.logger.Debug("sending keepalive request")
				if err := c.sendCommand("INFO ID"); err != nil {
					c.dropConnection("keepalive send failed", err)
				} else {
					c.query = queryKeepAlive
					c.expectInfo = true
					c.keep.state = timerReset
				}
			}

			// In-stream INFO request.
			if c.state == stateData && !c.expectInfo && c.pendingInfo != "" {
				if err := c.sendCommand("INFO " + c.pendingInfo); err != nil {
					c.dropConnection("INFO send failed", err)
					c.query = queryNone
				} else {
					c.query = queryInfo
					c.expectInfo = true
				}
				c.pendingInfo = ""
			}

			// Throttle while the reconnect delay is running.
			if c.state == stateDown && c.netdly.state == timerRunning && block {
				c.sleep(reconnectThrottle)
			}

			// Connect once the reconnect delay has elapsed.
			if c.state == stateDown && c.netdly.state == timerFired {
				if err := c.connectServer(); err != nil {
					c.logger.Warn("connection failed", zap.Error(err))
				} else {
					c.state = stateUp
				}
				c.netto.state = timerReset
				c.netdly.state = timerReset
				c.keep.state = timerReset
			}

			// Negotiate and advance to streaming.
			if c.state == stateUp {
				if err := c.negotiate(); err != nil {
					c.logger.Warn("negotiation with server failed", zap.Error(err))
					c.disconnect(false)
					c.netdly.state = timerReset
				} else {
					c.readEnd = 0
					c.consume = 0
					c.state = stateData
				}
			}
		} else {
			if c.transport != nil {
				c.disconnect(c.batch != BatchActivated && !c.opts.Dialup)
			}
			c.state = stateDown
		}

		// Peel complete frames off the buffer head.
		for c.readEnd-c.consume >= headSize+mseed.MinRecordSize {
			frame := c.buf[c.consume:c.readEnd]

			hdr, err := decodeFrameHeader(frame[:headSize])
			if err != nil {
				c.logger.Error("invalid SeedLink frame header", zap.Error(err))
				c.disconnect(false)
				return nil, ErrBadRecord
			}

			reclen, version := mseed.Detect(frame[headSize:])
			if reclen == mseed.DetectInvalid {
				c.logger.Error("non-miniSEED packet received, terminating")
				c.disconnect(false)
				return nil, ErrBadRecord
			}
			if reclen == mseed.DetectIncomplete || headSize+reclen > len(frame) {
				break // need more bytes
			}

			rec := frame[headSize : headSize+reclen]
			var pkt *Packet
			if hdr.info {
				c.handleInfo(rec, hdr.terminator)
			} else {
				pkt = c.handleData(rec, hdr.seq, version)
			}

			c.consume += headSize + reclen

			if pkt != nil {
				return pkt, nil
			}
		}

		// Trap door: buffered packets have been delivered, now terminate.
		if c.terminate.Load() {
			if c.transport != nil {
				c.disconnect(c.batch != BatchActivated && !c.opts.Dialup)
			}
			return nil, ErrTerminated
		}

		// Compact the buffer.
		if c.consume > 0 {
			copy(c.buf[:], c.buf[c.consume:c.readEnd])
			c.readEnd -= c.consume
			c.consume = 0
		}

		// End-of-stream sentinels.
		if c.readEnd == 7 && string(c.buf[:7]) == "ERROR\r\n" {
			c.logger.Error("server reported an error with the last command")
			c.disconnect(false)
			return nil, ErrServerError
		}
		if c.readEnd == 3 && string(c.buf[:3]) == "END" {
			c.logger.Info("end of buffer or selected time window")
			c.disconnect(false)
			return nil, ErrServerEnd
		}

		// Read incoming data.
		if c.state == stateData && c.transport != nil {
			wait := readWait
			if !block {
				// One short-fused read attempt.
				wait = time.Millisecond
			}
			_ = c.transport.SetReadDeadline(time.Now().Add(wait))

			n, err := c.transport.Read(c.buf[c.readEnd:])
			if n > 0 {
				c.readEnd += n
				c.netto.state = timerReset
				c.keep.state = timerReset
			}
			if err != nil && !isTimeout(err) && !c.terminate.Load() {
				c.dropConnection("read failed", err)
			}
		}

		// Advance the timers.
		now := c.now()
		if c.opts.NetTimeout > 0 {
			c.netto.eval(now, time.Duration(c.opts.NetTimeout)*time.Second)
		}
		if c.opts.Keepalive > 0 {
			c.keep.eval(now, time.Duration(c.opts.Keepalive)*time.Second)
		}
		c.netdly.eval(now, time.Duration(c.opts.ReconnectDelay)*time.Second)

		if !block {
			return nil, nil
		}
	}
}

// handleInfo folds one INFO frame into the accumulator and fires the
// handler on the terminator frame. Keepalive replies are consumed silently.
func (c *Conn) handleInfo(rec []byte, terminator bool) {
	if !c.expectInfo {
		c.logger.Warn("unexpected INFO packet received, skipping")
		return
	}

	if c.query != queryKeepAlive {
		if h, err := mseed.ParseHeader2(rec); err == nil {
			c.infoBuf.Write(h.Payload(rec))
		} else {
			c.logger.Warn("unreadable INFO record", zap.Error(err))
		}
	}

	if !terminator {
		if c.query == queryKeepAlive {
			c.logger.Warn("non-terminated keepalive packet received")
		}
		return
	}

	if c.query == queryKeepAlive {
		c.logger.Debug("keepalive packet received")
	} else if c.opts.InfoHandler != nil {
		xml := make([]byte, c.infoBuf.Len())
		copy(xml, c.infoBuf.Bytes())
		c.opts.InfoHandler(xml)
	}

	c.infoBuf.Reset()
	c.expectInfo = false
	c.query = queryNone
}

// handleData updates the registry for a data frame and builds the packet to
// deliver, or nil when the frame must be skipped.
func (c *Conn) handleData(rec []byte, seq int, version uint8) *Packet {
	if seq == -1 {
		c.logger.Warn("could not determine packet sequence number, skipping")
		return nil
	}

	var netCode, staCode, startTime string
	if version == 3 {
		h, err := mseed.ParseHeader3(rec)
		if err != nil {
			c.logger.Warn("unreadable record header, skipping", zap.Error(err))
			return nil
		}
		netCode, staCode, startTime = h.Network, h.Station, h.StartTime()
	} else {
		h, err := mseed.ParseHeader2(rec)
		if err != nil {
			c.logger.Warn("unreadable record header, skipping", zap.Error(err))
			return nil
		}
		netCode, staCode, startTime = h.Network, h.Station, h.StartTime()
	}

	if c.reg.matchAndUpdate(netCode, staCode, seq, startTime) == 0 {
		if c.unexpectedWarn.Allow() {
			c.logger.Warn("unexpected data received",
				zap.String("net", netCode), zap.String("sta", staCode))
		}
		return nil
	}

	data := make([]byte, len(rec))
	copy(data, rec)
	return &Packet{SeqNum: seq, FormatVersion: version, Data: data}
}

// dropConnection closes the transport and arms the reconnect delay; all
// network errors are recoverable.
func (c *Conn) dropConnection(msg string, err error) {
	c.logger.Warn(msg, zap.Error(err))
	c.disconnect(false)
	c.netdly.state = timerReset
}

// checkConfig validates the connection description before connecting.
func (c *Conn) checkConfig() error {
	if c.addr == "" {
		return errors.Join(ErrConfigInvalid, errors.New("empty server address"))
	}
	if len(c.reg.streams()) == 0 && c.pendingInfo == "" {
		return errors.Join(ErrConfigInvalid, errors.New("no streams and no INFO request defined"))
	}
	if c.opts.EndTime != "" && c.opts.BeginTime == "" {
		return errors.Join(ErrConfigInvalid, errors.New("end time set without begin time"))
	}
	return nil
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
