package pingpong

import (
	"time"

	"github.com/hossein/pingpong/pkg/pingpong/admission"
)

const (
	defaultReadTimeout   = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultClientTimeout = 10 * time.Second
)

// HandlerConfig is the per-connection configuration shared by every handler
// spawned from one Listener.
type HandlerConfig struct {
	// ReadTimeout bounds the single receive. 0 waits forever.
	ReadTimeout time.Duration
	// WriteTimeout bounds the reply send. 0 waits forever.
	WriteTimeout time.Duration
	Metrics      *Metrics
}

type listenerOptions struct {
	handler   HandlerConfig
	admission admission.Policy
}

func defaultListenerOptions() *listenerOptions {
	return &listenerOptions{
		handler: HandlerConfig{
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
		},
	}
}

// Option configures a Listener.
type Option func(*listenerOptions)

// WithReadTimeout sets the receive deadline applied to every accepted connection.
func WithReadTimeout(d time.Duration) Option {
	return func(o *listenerOptions) {
		o.handler.ReadTimeout = d
	}
}

// WithWriteTimeout sets the deadline for the reply send.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *listenerOptions) {
		o.handler.WriteTimeout = d
	}
}

// WithMaxConns caps the number of concurrent handlers. n <= 0 means unbounded.
func WithMaxConns(n int) Option {
	return func(o *listenerOptions) {
		if n > 0 {
			o.admission = admission.NewBounded(n)
		} else {
			o.admission = nil
		}
	}
}

// WithAdmission installs a custom admission policy. It overrides WithMaxConns.
func WithAdmission(p admission.Policy) Option {
	return func(o *listenerOptions) {
		o.admission = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *listenerOptions) {
		o.handler.Metrics = m
	}
}

type clientOptions struct {
	socksAddr string
	timeout   time.Duration
	payload   []byte
	metrics   *Metrics
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		timeout: defaultClientTimeout,
		payload: []byte(Ping),
	}
}

// ClientOption configures RunClient.
type ClientOption func(*clientOptions)

// WithSOCKS5 routes the outbound connection through the SOCKS5 proxy at addr.
func WithSOCKS5(addr string) ClientOption {
	return func(o *clientOptions) {
		o.socksAddr = addr
	}
}

// WithTimeout bounds the dial and the wait for the reply. 0 disables both bounds.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithPayload replaces the default "ping\n" payload.
func WithPayload(b []byte) ClientOption {
	return func(o *clientOptions) {
		o.payload = b
	}
}

func WithClientMetrics(m *Metrics) ClientOption {
	return func(o *clientOptions) {
		o.metrics = m
	}
}
