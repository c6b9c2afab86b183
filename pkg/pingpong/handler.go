package pingpong

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// HandlerState tracks one connection through Accepted → Receiving → Replied|Failed.
type HandlerState uint8

const (
	StateAccepted HandlerState = iota
	StateReceiving
	StateReplied
	StateFailed
	StateClosed // peer half-closed before sending anything
)

func (s HandlerState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateReceiving:
		return "receiving"
	case StateReplied:
		return "replied"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Handle runs the single-shot exchange for one accepted connection: one
// bounded receive, then a fire-and-forget send of the payload plus Suffix.
//
// Handle takes ownership of conn. On failure it closes conn itself; on
// success the send goroutine closes it after the write completes, so Handle
// returns without waiting for the send. The returned state is terminal.
func Handle(conn net.Conn, cfg HandlerConfig) HandlerState {
	remote := conn.RemoteAddr()
	state := StateAccepted
	slog.Debug("handle: connection accepted", "remote", remote, "state", state)

	cfg.Metrics.handlerStarted()
	received := 0
	defer func() {
		cfg.Metrics.handlerFinished(state, received)
	}()

	if cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}

	state = StateReceiving
	msg, err := Receive(conn)
	if err != nil {
		state = StateFailed
		slog.Warn("handle: receive failed, dropping connection", "remote", remote, "err", err)
		_ = conn.Close()
		return state
	}
	received = len(msg.Data)

	if len(msg.Data) == 0 {
		state = StateClosed
		slog.Debug("handle: peer closed before sending data", "remote", remote)
		_ = conn.Close()
		return state
	}

	slog.Debug("handle: received payload",
		"remote", remote,
		"bytes", len(msg.Data),
		"complete", msg.Complete,
	)

	reply := Reply(msg.Data)
	metrics := cfg.Metrics
	Send(conn, reply, cfg.WriteTimeout, func(err error) {
		if err != nil {
			metrics.sendFailed()
			slog.Warn("handle: reply send failed", "remote", remote, "err", err)
			return
		}
		slog.Debug("handle: reply sent", "remote", remote, "bytes", len(reply))
	})

	state = StateReplied
	return state
}
