package pingpong

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer binds a loopback listener and runs Serve until the test ends.
func startServer(t *testing.T, opts ...Option) *Listener {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Listen(ctx, "127.0.0.1:0", opts...)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return ln
}

// exchange writes payload on a fresh connection and reads until the server closes.
func exchange(t *testing.T, addr string, payload []byte) []byte {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Write(payload)
	require.NoError(t, err)

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return reply
}

func TestServerRepliesWithSuffix(t *testing.T) {
	ln := startServer(t)

	payloads := [][]byte{
		[]byte("x"),
		[]byte(Ping),
		{0x00, 0xff, 0x10},
		bytes.Repeat([]byte{'a'}, MaxReceive),
	}
	for _, p := range payloads {
		reply := exchange(t, ln.Addr().String(), p)
		assert.Equal(t, Reply(p), reply, "payload of %d bytes", len(p))
	}
}

func TestStartBindConflict(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	port := uint16(taken.Addr().(*net.TCPAddr).Port)

	ln, err := Start(context.Background(), port)
	assert.Nil(t, ln)
	assert.ErrorIs(t, err, ErrBind)
}

func TestStartAnyFreePort(t *testing.T) {
	probe, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := uint16(probe.Addr().(*net.TCPAddr).Port)
	require.NoError(t, probe.Close())

	ln, err := Start(context.Background(), port)
	require.NoError(t, err)
	assert.Equal(t, int(port), ln.Addr().(*net.TCPAddr).Port)
	assert.NoError(t, ln.Close())
}

func TestConcurrentClientsNoCrossTalk(t *testing.T) {
	ln := startServer(t)

	const n = 32
	var wg sync.WaitGroup
	replies := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
			if _, err := conn.Write([]byte(fmt.Sprintf("client-%02d", i))); err != nil {
				return
			}
			replies[i], _ = io.ReadAll(conn)
		}(i)
	}
	wg.Wait()

	for i, r := range replies {
		assert.Equal(t, fmt.Sprintf("client-%02dpong!", i), string(r))
	}
}

func TestSlowHandlerDoesNotBlockAccept(t *testing.T) {
	ln := startServer(t)

	// A peer that connects and never sends.
	idle, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer idle.Close()

	reply := exchange(t, ln.Addr().String(), []byte("hi"))
	assert.Equal(t, "hipong!", string(reply))
}

func TestIdleConnectionTimesOut(t *testing.T) {
	ln := startServer(t, WithReadTimeout(50*time.Millisecond))

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server should drop an idle connection after the read timeout")
}

func TestMaxConnsCapsHandlers(t *testing.T) {
	ln := startServer(t, WithMaxConns(1))

	idle, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return ln.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	// The second connection is accepted by the kernel but not handled yet.
	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte("queued"))
	require.NoError(t, err)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = second.Read(make([]byte, 1))
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	// Freeing the slot lets the queued connection through.
	require.NoError(t, idle.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "queuedpong!", string(reply))
}

func TestServeCountsMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ln := startServer(t, WithMetrics(m))

	for i := 0; i < 3; i++ {
		exchange(t, ln.Addr().String(), []byte(Ping))
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.handled.WithLabelValues("replied")) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.acceptErrors))
}

func TestServeReturnsOnClose(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- ln.Serve(context.Background()) }()

	require.NoError(t, ln.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	ln.Wait()
}

func TestCloseUnblocksServeWhenCapIsFull(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", WithMaxConns(1), WithReadTimeout(0))
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- ln.Serve(context.Background()) }()

	holder, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer holder.Close()
	assert.Eventually(t, func() bool { return ln.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	queued, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer queued.Close()
	// Give the accept loop time to take the queued conn and block on the slot.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, ln.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve still blocked after Close (InFlight=%d)", ln.InFlight())
	}

	// The queued connection is dropped, not handled.
	require.NoError(t, queued.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = queued.Read(make([]byte, 1))
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "queued connection was left open")
	}
	assert.Error(t, err)
}

// scriptedListener replays a fixed list of Accept results before falling
// back to the wrapped listener.
type scriptedListener struct {
	net.Listener

	mu     sync.Mutex
	script []func() (net.Conn, error)
}

func (s *scriptedListener) Accept() (net.Conn, error) {
	s.mu.Lock()
	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		s.mu.Unlock()
		return next()
	}
	s.mu.Unlock()
	return s.Listener.Accept()
}

// explodingConn panics on the first read.
type explodingConn struct {
	net.Conn
}

func (explodingConn) Read([]byte) (int, error) {
	panic("read exploded")
}

func TestServeSurvivesAcceptErrorAndHandlerPanic(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0", WithMetrics(m))
	require.NoError(t, err)

	inner, outer := net.Pipe()
	defer outer.Close()

	ln.tcpListener = &scriptedListener{
		Listener: ln.tcpListener,
		script: []func() (net.Conn, error){
			func() (net.Conn, error) { return nil, errors.New("accept: too many open files") },
			func() (net.Conn, error) { return explodingConn{Conn: inner}, nil },
		},
	}

	served := make(chan error, 1)
	go func() { served <- ln.Serve(ctx) }()

	// The panicking handler closes its connection on the way out.
	require.NoError(t, outer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = outer.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	reply := exchange(t, ln.Addr().String(), []byte("after"))
	assert.Equal(t, "afterpong!", string(reply))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptErrors))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.handled.WithLabelValues("replied")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	ln.Wait()
	assert.Equal(t, 0, ln.InFlight())
}

func TestAcceptWrapsErrors(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrAccept)
}
