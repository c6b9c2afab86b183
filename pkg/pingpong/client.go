package pingpong

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hossein/pingpong/internal/proxy"
)

const (
	outcomeOK       = "ok"
	outcomeConnect  = "connect_error"
	outcomeSend     = "send_error"
	outcomeReceive  = "receive_error"
	outcomeClosed   = "closed_by_peer"
	outcomeDecode   = "decode_error"
	outcomeInternal = "internal_error"
)

// Timing holds the timestamps of one client session.
type Timing struct {
	Start    time.Time // before the dial
	Sent     time.Time // just before the payload is written
	Received time.Time // when the reply bytes were read
}

// RTT is the elapsed time from Start to Received, so it includes the connect.
func (t Timing) RTT() time.Duration {
	return t.Received.Sub(t.Start)
}

// Exchange is the elapsed time from Sent to Received.
func (t Timing) Exchange() time.Duration {
	return t.Received.Sub(t.Sent)
}

// Result is the outcome of a successful client session.
type Result struct {
	Reply  string // decoded reply, trimmed of surrounding whitespace
	Timing Timing
}

// RTTMillis reports the round-trip time in milliseconds.
func (r Result) RTTMillis() float64 {
	return float64(r.Timing.RTT()) / float64(time.Millisecond)
}

// RunClient opens one connection to host:port, sends the payload once, waits
// for one reply and closes the connection. There is no retry.
//
// Errors wrap ErrConnect, ErrSend or ErrReceive. A peer that closes without
// replying yields ErrClosedByPeer and a reply that is not UTF-8 yields
// ErrDecode; both match ErrProtocol.
func RunClient(ctx context.Context, host string, port uint16, opts ...ClientOption) (Result, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	res, err := runClient(ctx, net.JoinHostPort(host, strconv.Itoa(int(port))), o)
	o.metrics.clientFinished(clientOutcome(err), res.Timing.RTT())
	return res, err
}

func runClient(ctx context.Context, addr string, o *clientOptions) (Result, error) {
	var timing Timing
	timing.Start = time.Now()

	dialer, err := proxy.NewDialer(o.socksAddr, o.timeout)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: dialing %s: %w", ErrConnect, addr, err)
	}
	defer func() {
		_ = conn.Close()
		slog.Debug("client: connection closed", "remote", addr)
	}()

	slog.Debug("client: connected", "remote", conn.RemoteAddr(), "local", conn.LocalAddr())

	stop := armDeadline(ctx, conn, o.timeout)
	defer stop()

	timing.Sent = time.Now()
	if err := write(conn, o.payload, 0); err != nil {
		return Result{}, err
	}

	msg, err := Receive(conn)
	if err != nil {
		return Result{}, err
	}
	timing.Received = time.Now()

	if len(msg.Data) == 0 {
		return Result{}, ErrClosedByPeer
	}

	if !utf8.Valid(msg.Data) {
		slog.Debug("client: undecodable reply", "bytes", len(msg.Data))
		return Result{}, fmt.Errorf("%w (%d bytes)", ErrDecode, len(msg.Data))
	}

	res := Result{
		Reply:  strings.TrimSpace(string(msg.Data)),
		Timing: timing,
	}
	slog.Debug("client: reply received",
		"remote", addr,
		"bytes", len(msg.Data),
		"rtt", timing.RTT(),
		"exchange", timing.Exchange(),
	)
	return res, nil
}

// armDeadline bounds the whole exchange on conn by timeout (0 = none) and
// expires the deadline as soon as ctx is done. The timeout is set before the
// cancellation hook is registered so it can never overwrite it.
func armDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) (stop func() bool) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

func clientOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrConnect):
		return outcomeConnect
	case errors.Is(err, ErrSend):
		return outcomeSend
	case errors.Is(err, ErrReceive):
		return outcomeReceive
	case errors.Is(err, ErrClosedByPeer):
		return outcomeClosed
	case errors.Is(err, ErrDecode):
		return outcomeDecode
	default:
		return outcomeInternal
	}
}
