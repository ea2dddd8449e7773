package seedlink

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// connectServer dials the transport and performs the HELLO exchange: two
// identification lines, the first carrying the protocol version.
func (c *Conn) connectServer() error {
	timeout := time.Duration(c.opts.IOTimeout) * time.Second

	t, err := c.dialer.Dial(c.addr, timeout)
	if err != nil {
		return err
	}
	c.transport = t

	if err := c.sendCommand("HELLO"); err != nil {
		c.disconnect(false)
		return err
	}

	serverID, err := c.readLine()
	if err != nil {
		c.disconnect(false)
		return fmt.Errorf("reading HELLO response: %w", err)
	}
	site, err := c.readLine()
	if err != nil {
		c.disconnect(false)
		return fmt.Errorf("reading HELLO site line: %w", err)
	}

	c.serverID = serverID
	c.site = site
	c.protoVer = parseProtocolVersion(serverID)

	c.logger.Info("connected to SeedLink server",
		zap.String("server_id", serverID),
		zap.String("site", site),
		zap.Float64("protocol", c.protoVer))
	return nil
}

// negotiate configures the link after HELLO: optional BATCH, then the
// subscription commands for uni- or multi-station mode, closed with END.
func (c *Conn) negotiate() error {
	entries := c.reg.streams()

	// No subscriptions: an INFO-only session, send the query and stream
	// the response without configuring data streams.
	if len(entries) == 0 {
		if c.pendingInfo != "" {
			if err := c.sendCommand("INFO " + c.pendingInfo); err != nil {
				return err
			}
			c.query = queryInfo
			c.expectInfo = true
			c.pendingInfo = ""
		}
		return nil
	}

	c.expectInfo = false

	multistation := !entries[0].isUni()
	if multistation && c.protoVer > 0 && c.protoVer < 2.5 {
		return fmt.Errorf("%w: multi-station mode requires protocol >= 2.5, server speaks %.1f",
			ErrNegotiationFailed, c.protoVer)
	}

	c.batch = BatchNone
	if c.opts.Batch {
		if c.protoVer == 0 || c.protoVer >= 3.0 {
			c.batch = BatchRequested
			if err := c.commandAck("BATCH"); err != nil {
				c.logger.Warn("BATCH refused, continuing without", zap.Error(err))
			} else {
				c.batch = BatchActivated
			}
		} else {
			c.logger.Warn("batch mode requires protocol >= 3.0, continuing without",
				zap.Float64("protocol", c.protoVer))
		}
	}

	if multistation {
		for _, e := range entries {
			if err := c.commandAck("STATION " + e.Sta + " " + e.Net); err != nil {
				return err
			}
			if err := c.sendSelectors(e.Selectors); err != nil {
				return err
			}
			if err := c.commandAck(c.subscribeCommand(e)); err != nil {
				return err
			}
		}
	} else {
		e := entries[0]
		if err := c.sendSelectors(e.Selectors); err != nil {
			return err
		}
		if err := c.commandAck(c.subscribeCommand(e)); err != nil {
			return err
		}
	}

	return c.sendCommand("END")
}

// subscribeCommand builds the DATA, FETCH or TIME command for one entry. A
// caller-supplied time window overrides per-entry resume points.
func (c *Conn) subscribeCommand(e *Stream) string {
	if c.opts.BeginTime != "" {
		return timeCommand(c.opts.BeginTime, c.opts.EndTime)
	}

	verb := "DATA"
	if c.opts.Dialup {
		verb = "FETCH"
	}

	seq, timestamp := -1, ""
	if !c.opts.NoResume && e.SeqNum != -1 {
		seq = e.SeqNum
		timestamp = e.Timestamp
	}
	return resumeCommand(verb, seq, timestamp)
}

func (c *Conn) sendSelectors(selectors string) error {
	for _, sel := range strings.Fields(selectors) {
		if err := c.commandAck("SELECT " + sel); err != nil {
			return err
		}
	}
	return nil
}

// commandAck sends a command and, outside activated batch mode, reads the
// OK or ERROR acknowledgment.
func (c *Conn) commandAck(cmd string) error {
	if err := c.sendCommand(cmd); err != nil {
		return err
	}
	if c.batch == BatchActivated {
		return nil
	}

	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("reading response to %q: %w", cmd, err)
	}
	switch line {
	case "OK":
		return nil
	case "ERROR":
		return fmt.Errorf("%w: server refused %q", ErrNegotiationFailed, cmd)
	default:
		return fmt.Errorf("%w: unexpected reply %q to %q", ErrNegotiationFailed, line, cmd)
	}
}

func (c *Conn) sendCommand(cmd string) error {
	c.logger.Debug("sending command", zap.String("cmd", cmd))
	if _, err := c.transport.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("sending %q: %w", cmd, err)
	}
	return nil
}

// readLine reads one \r\n terminated response line byte by byte, so no
// framed data beyond the line is consumed.
func (c *Conn) readLine() (string, error) {
	deadline := time.Now().Add(time.Duration(c.opts.IOTimeout) * time.Second)
	_ = c.transport.SetReadDeadline(deadline)

	var line []byte
	b := make([]byte, 1)
	for {
		n, err := c.transport.Read(b)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
		if len(line) > 200 {
			return "", fmt.Errorf("response line too long")
		}
	}
	return strings.TrimSuffix(string(line), "\r"), nil
}

// disconnect closes the transport, optionally sending BYE first. Batch
// state does not survive a connection.
func (c *Conn) disconnect(sendBye bool) {
	if c.transport == nil {
		return
	}
	if sendBye {
		_ = c.sendCommand("BYE")
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Warn("closing connection", zap.Error(err))
	}
	c.transport = nil
	c.batch = BatchNone
	c.logger.Debug("disconnected")
}

// Ping connects, performs the HELLO exchange and disconnects, returning the
// server identification and site lines.
func (c *Conn) Ping() (serverID, site string, err error) {
	if c.addr == "" {
		return "", "", fmt.Errorf("%w: empty server address", ErrConfigInvalid)
	}
	if err := c.connectServer(); err != nil {
		return "", "", err
	}
	_ = c.sendCommand("BYE")
	c.disconnect(false)
	return c.serverID, c.site, nil
}

// parseProtocolVersion extracts the protocol version from a HELLO
// identification line of the form "SeedLink v3.1 (...)".
func parseProtocolVersion(serverID string) float64 {
	idx := strings.Index(serverID, "SeedLink v")
	if idx == -1 {
		return 0
	}
	rest := serverID[idx+len("SeedLink v"):]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	ver, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0
	}
	return ver
}
