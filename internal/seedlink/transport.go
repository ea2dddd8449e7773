package seedlink

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the byte stream a connection runs over. The engine treats it
// as opaque; read deadlines drive the blocking and non-blocking collect
// variants and must be recoverable (a deadline expiry leaves the transport
// usable).
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Transport to a SeedLink server address.
type Dialer interface {
	Dial(address string, timeout time.Duration) (Transport, error)
}

// defaultDialer selects plain TCP for host:port addresses and a WebSocket
// wrapper for ws:// and wss:// URLs (ringserver-style deployments expose
// SeedLink over WebSocket).
type defaultDialer struct{}

func (defaultDialer) Dial(address string, timeout time.Duration) (Transport, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return dialWebSocket(address, timeout)
	}

	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, DefaultPort)
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return conn, nil
}

func dialWebSocket(address string, timeout time.Duration) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(address, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}

	w := &wsTransport{
		conn:     conn,
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// wsTransport adapts a websocket connection to the stream interface. Binary
// messages carry the raw SeedLink byte stream. A pump goroutine owns the
// websocket read side because gorilla invalidates the connection on any
// read error, including a deadline expiry; deadlines are instead applied to
// the channel receive so an expiry is recoverable.
type wsTransport struct {
	conn     *websocket.Conn
	incoming chan []byte
	done     chan struct{}
	unread   []byte
	deadline time.Time
	readErr  error
}

func (w *wsTransport) pump() {
	defer close(w.incoming)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			return
		}
		select {
		case w.incoming <- data:
		case <-w.done:
			return
		}
	}
}

func (w *wsTransport) Read(p []byte) (int, error) {
	if len(w.unread) == 0 {
		var wait <-chan time.Time
		if !w.deadline.IsZero() {
			d := time.Until(w.deadline)
			if d <= 0 {
				// Drain without blocking.
				select {
				case data, ok := <-w.incoming:
					if !ok {
						return 0, w.closedErr()
					}
					w.unread = data
				default:
					return 0, errDeadline{}
				}
			} else {
				timer := time.NewTimer(d)
				defer timer.Stop()
				wait = timer.C
			}
		}
		if len(w.unread) == 0 {
			select {
			case data, ok := <-w.incoming:
				if !ok {
					return 0, w.closedErr()
				}
				w.unread = data
			case <-wait:
				return 0, errDeadline{}
			}
		}
	}
	n := copy(p, w.unread)
	w.unread = w.unread[n:]
	return n, nil
}

func (w *wsTransport) closedErr() error {
	if w.readErr != nil {
		return w.readErr
	}
	return errors.New("websocket closed")
}

func (w *wsTransport) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsTransport) SetReadDeadline(t time.Time) error {
	w.deadline = t
	return nil
}

func (w *wsTransport) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.conn.Close()
}

// errDeadline mirrors the net package timeout contract for the channel
// based websocket reads.
type errDeadline struct{}

func (errDeadline) Error() string   { return "read deadline exceeded" }
func (errDeadline) Timeout() bool   { return true }
func (errDeadline) Temporary() bool { return true }
