package pingpong

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hossein/pingpong/pkg/pingpong/admission"
)

// acceptRetryDelay throttles the loop when Accept keeps failing (e.g. EMFILE).
const acceptRetryDelay = 10 * time.Millisecond

// Listener accepts TCP connections and hands each one to its own handler
// goroutine. Handlers share no state; a failing handler never affects the
// accept loop or other handlers.
type Listener struct {
	tcpListener net.Listener
	cfg         HandlerConfig
	admit       admission.Policy
	wg          sync.WaitGroup
	closed      chan struct{}
	closeOnce   sync.Once
}

// Start binds port on all interfaces. It is Listen(ctx, ":<port>", opts...).
func Start(ctx context.Context, port uint16, opts ...Option) (*Listener, error) {
	return Listen(ctx, net.JoinHostPort("", strconv.Itoa(int(port))), opts...)
}

// Listen binds a TCP listener on addr (e.g. ":9000"). A failure is returned
// wrapped in ErrBind and leaves nothing running.
func Listen(ctx context.Context, addr string, opts ...Option) (*Listener, error) {
	o := defaultListenerOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.admission == nil {
		o.admission = admission.NewUnbounded()
	}

	var lc net.ListenConfig
	tcpL, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listening on %q: %w", ErrBind, addr, err)
	}

	slog.Info("listen: bound",
		"addr", tcpL.Addr(),
		"admission", o.admission.Name(),
		"readTimeout", o.handler.ReadTimeout,
	)

	return &Listener{
		tcpListener: tcpL,
		cfg:         o.handler,
		admit:       o.admission,
		closed:      make(chan struct{}),
	}, nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.tcpListener.Addr()
}

// Close stops accepting. Handlers already running are not interrupted.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		slog.Info("listen: closing listener", "addr", l.tcpListener.Addr())
		close(l.closed)
		err = l.tcpListener.Close()
	})
	return err
}

// Accept waits for the next connection. Errors are wrapped in ErrAccept.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.tcpListener.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccept, err)
	}
	return conn, nil
}

// Serve runs the accept loop until ctx is cancelled or Close is called, and
// then returns nil. Accept errors are logged and the loop continues.
func (l *Listener) Serve(ctx context.Context) error {
	// Close also cancels ctx so a wait for an admission slot ends with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Debug("listen: accept loop started", "addr", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-l.closed:
				slog.Debug("listen: accept loop stopping, listener closed")
				return nil
			default:
				l.cfg.Metrics.acceptFailed()
				slog.Warn("listen: accept error (transient)", "err", err)
				time.Sleep(acceptRetryDelay)
				continue
			}
		}
		l.cfg.Metrics.connAccepted()

		if err := l.admit.Acquire(ctx); err != nil {
			// Shutting down while waiting for a slot.
			_ = conn.Close()
			continue
		}

		l.wg.Add(1)
		go l.handle(conn)
	}
}

// Wait blocks until every handler spawned by Serve has returned.
// Call it only after Serve has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// InFlight reports the number of handlers currently holding an admission slot.
func (l *Listener) InFlight() int {
	return l.admit.InUse()
}

// handle wraps Handle with admission release and panic isolation.
func (l *Listener) handle(conn net.Conn) {
	defer l.wg.Done()
	defer l.admit.Release()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listen: handler panicked", "remote", conn.RemoteAddr(), "panic", r)
			_ = conn.Close()
		}
	}()

	Handle(conn, l.cfg)
}
