package terminator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
)

const handshakeTimeout = 10 * time.Second

// HTTP2Config configures the stream-multiplexed TLS/TCP terminator.
type HTTP2Config struct {
	Addr        string
	TLSConfig   *tls.Config
	Handler     http.Handler
	IdleTimeout time.Duration
	Registry    *Registry
	Aggregator  *metrics.Aggregator
}

// HTTP2Terminator owns the TCP listener, performs timed TLS handshakes in
// its own accept loop and hands negotiated connections to an http.Server
// configured for HTTP/2.
type HTTP2Terminator struct {
	cfg    HTTP2Config
	ln     net.Listener
	server *http.Server
	connCh chan net.Conn
	done   chan struct{}

	mu      sync.Mutex
	started bool
}

// NewHTTP2Terminator creates a terminator; Start binds the listener.
func NewHTTP2Terminator(cfg HTTP2Config) *HTTP2Terminator {
	return &HTTP2Terminator{
		cfg:    cfg,
		connCh: make(chan net.Conn),
		done:   make(chan struct{}),
	}
}

// Start binds the TCP listener and launches the accept loop. The returned
// error is fatal only at startup; accept-path errors never are.
func (t *HTTP2Terminator) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("http2 terminator already started")
	}

	ln, err := net.Listen("tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP/2 listener on %s: %w", t.cfg.Addr, err)
	}
	t.ln = ln

	t.server = &http.Server{
		Handler:     t.cfg.Handler,
		IdleTimeout: t.cfg.IdleTimeout,
		ConnState:   t.onConnState,
	}
	// Register the h2 upgrade path; the server sees pre-handshaked
	// *tls.Conn values, so automatic configuration does not kick in.
	if err := http2.ConfigureServer(t.server, &http2.Server{
		IdleTimeout: t.cfg.IdleTimeout,
	}); err != nil {
		ln.Close()
		return fmt.Errorf("failed to configure HTTP/2 server: %w", err)
	}

	go t.serveLoop()
	go t.acceptLoop()
	t.started = true
	log.Printf("HTTP/2 terminator listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listener address.
func (t *HTTP2Terminator) Addr() net.Addr {
	return t.ln.Addr()
}

func (t *HTTP2Terminator) serveLoop() {
	err := t.server.Serve(newChanListener(t.connCh, t.ln.Addr(), t.done))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP/2 server loop ended: %v", err)
	}
}

// acceptLoop blocks until a new connection arrives or the listener shuts
// down. Handshakes run concurrently so a slow peer cannot stall accepts.
func (t *HTTP2Terminator) acceptLoop() {
	for {
		c, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			log.Printf("HTTP/2 accept error: %v", err)
			continue
		}
		go t.handshake(c)
	}
}

// handshake performs the timed TLS handshake. Failures are logged and the
// connection dropped; they never propagate beyond the terminator.
func (t *HTTP2Terminator) handshake(raw net.Conn) {
	created := time.Now()
	tlsConn := tls.Server(raw, t.cfg.TLSConfig)

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	err := tlsConn.HandshakeContext(ctx)
	cancel()
	if err != nil {
		log.Printf("%v on HTTP/2 listener from %s: %v", model.ErrHandshakeFailure, raw.RemoteAddr(), err)
		tlsConn.Close()
		return
	}

	conn := &Conn{
		ID:              uuid.NewString(),
		Protocol:        model.ProtocolHTTP2,
		RemoteAddr:      tlsConn.RemoteAddr().String(),
		CreatedAt:       created,
		HandshakeDoneAt: time.Now(),
		closeFn:         tlsConn.Close,
	}
	t.cfg.Registry.Track(conn)
	t.cfg.Aggregator.ConnOpened(model.ProtocolHTTP2)
	t.cfg.Aggregator.RecordHandshake(model.ProtocolHTTP2, conn.Handshake())

	select {
	case t.connCh <- tlsConn:
	case <-t.done:
		// Shutdown raced the handshake; the connection was never served.
		tlsConn.Close()
		t.cfg.Registry.Remove(conn.RemoteAddr)
		t.cfg.Aggregator.ConnClosed(model.ProtocolHTTP2)
	}
}

func (t *HTTP2Terminator) onConnState(c net.Conn, state http.ConnState) {
	if state == http.StateClosed || state == http.StateHijacked {
		addr := c.RemoteAddr().String()
		if _, ok := t.cfg.Registry.Get(addr); ok {
			t.cfg.Registry.Remove(addr)
			t.cfg.Aggregator.ConnClosed(model.ProtocolHTTP2)
		}
	}
}

// Stop interrupts the accept loop, transitions connections to Draining and
// waits for in-flight requests up to the context deadline, then force-closes
// whatever remains. The returned error is a warning, not a failure.
func (t *HTTP2Terminator) Stop(ctx context.Context) error {
	close(t.done)
	t.ln.Close()
	t.cfg.Registry.MarkDraining(model.ProtocolHTTP2)

	err := t.server.Shutdown(ctx)
	if err != nil {
		t.server.Close()
		t.cfg.Registry.CloseAll(model.ProtocolHTTP2)
		return fmt.Errorf("HTTP/2 drain exceeded grace period, connections force-closed: %w", err)
	}
	return nil
}

// chanListener adapts the terminator's handshaked-connection channel to the
// net.Listener interface the http.Server consumes.
type chanListener struct {
	ch        <-chan net.Conn
	addr      net.Addr
	done      <-chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newChanListener(ch <-chan net.Conn, addr net.Addr, done <-chan struct{}) *chanListener {
	return &chanListener{ch: ch, addr: addr, done: done, closed: make(chan struct{})}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *chanListener) Addr() net.Addr {
	return l.addr
}
