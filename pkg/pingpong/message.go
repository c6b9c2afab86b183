package pingpong

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const (
	// MaxReceive bounds the single receive issued per connection.
	MaxReceive = 1024

	// Suffix is appended by the server to whatever it received.
	Suffix = "pong!"

	// Ping is the payload sent by the client.
	Ping = "ping\n"
)

// Message is the result of one single-shot receive.
// Complete is true when the peer half-closed the stream: no more data will arrive.
type Message struct {
	Data     []byte
	Complete bool
}

// Receive issues exactly one Read of at most MaxReceive bytes. It returns as
// soon as any data is available and never waits to fill the buffer.
//
// A read that returns data together with io.EOF yields both the data and
// Complete=true. A clean EOF with no data yields an empty, complete Message.
// Any other error is returned wrapped in ErrReceive.
func Receive(conn net.Conn) (Message, error) {
	buf := make([]byte, MaxReceive)
	n, err := conn.Read(buf)

	msg := Message{Data: buf[:n]}
	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, io.EOF):
		msg.Complete = true
		return msg, nil
	case n > 0:
		// Data arrived before the error; the next read would surface it.
		slog.Debug("receive: partial read before error", "remote", conn.RemoteAddr(), "n", n, "err", err)
		return msg, nil
	default:
		return Message{}, fmt.Errorf("%w: %w", ErrReceive, err)
	}
}

// Reply returns payload ++ Suffix as a freshly allocated slice.
func Reply(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(Suffix))
	out = append(out, payload...)
	return append(out, Suffix...)
}

// Send writes data on conn from a separate goroutine and returns immediately.
// Ownership of conn moves to that goroutine, which closes it once the write
// finishes. onDone, if non-nil, is called with nil or an ErrSend-wrapped error
// after the connection has been closed.
func Send(conn net.Conn, data []byte, writeTimeout time.Duration, onDone func(error)) {
	go func() {
		err := write(conn, data, writeTimeout)
		_ = conn.Close()
		if onDone != nil {
			onDone(err)
		}
	}()
}

// write performs one bounded write of data.
func write(conn net.Conn, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}
