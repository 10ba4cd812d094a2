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
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
)

// H3 stops gracefully with this application error code (H3_NO_ERROR).
const h3NoError = quic.ApplicationErrorCode(0x100)

// HTTP3Config configures the QUIC/UDP datagram terminator.
type HTTP3Config struct {
	Addr        string
	TLSConfig   *tls.Config
	Handler     http.Handler
	IdleTimeout time.Duration
	Registry    *Registry
	Aggregator  *metrics.Aggregator
}

// HTTP3Terminator owns the UDP socket and QUIC listener. QUIC accept APIs
// only surface connections after the handshake, so the socket is wrapped to
// stamp the arrival of each peer's first packet; handshake latency is the
// interval from that stamp to accept.
type HTTP3Terminator struct {
	cfg       HTTP3Config
	udpConn   *net.UDPConn
	ln        *quic.Listener
	h3        *http3.Server
	firstSeen *firstPacketTable

	acceptCtx    context.Context
	acceptCancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// NewHTTP3Terminator creates a terminator; Start binds the listener.
func NewHTTP3Terminator(cfg HTTP3Config) *HTTP3Terminator {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTP3Terminator{
		cfg:          cfg,
		firstSeen:    newFirstPacketTable(),
		acceptCtx:    ctx,
		acceptCancel: cancel,
	}
}

// Start binds the UDP socket and launches the accept loop.
func (t *HTTP3Terminator) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("http3 terminator already started")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to resolve HTTP/3 address %s: %w", t.cfg.Addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP/3 listener on %s: %w", t.cfg.Addr, err)
	}
	t.udpConn = udpConn

	tlsConf := t.cfg.TLSConfig.Clone()
	tlsConf.NextProtos = []string{http3.NextProtoH3}

	ln, err := quic.Listen(
		&tracingPacketConn{PacketConn: udpConn, table: t.firstSeen},
		tlsConf,
		&quic.Config{MaxIdleTimeout: t.cfg.IdleTimeout},
	)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to start QUIC listener on %s: %w", t.cfg.Addr, err)
	}
	t.ln = ln

	t.h3 = &http3.Server{Handler: t.cfg.Handler}

	go t.acceptLoop()
	go t.sweepLoop()
	t.started = true
	log.Printf("HTTP/3 terminator listening on %s", udpConn.LocalAddr())
	return nil
}

// Addr returns the bound UDP address.
func (t *HTTP3Terminator) Addr() net.Addr {
	return t.udpConn.LocalAddr()
}

// acceptLoop blocks until a handshaked QUIC connection is available or the
// listener is shut down. QUIC handshake failures never reach Accept; the
// library drops them, matching the handshake-failure isolation rule.
func (t *HTTP3Terminator) acceptLoop() {
	for {
		qc, err := t.ln.Accept(t.acceptCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || t.acceptCtx.Err() != nil {
				return
			}
			log.Printf("HTTP/3 accept error: %v", err)
			return
		}
		go t.serveConn(qc)
	}
}

func (t *HTTP3Terminator) serveConn(qc quic.Connection) {
	remote := qc.RemoteAddr().String()
	hsDone := time.Now()
	created := hsDone
	if first, ok := t.firstSeen.take(remote); ok {
		created = first
	}

	conn := &Conn{
		ID:              uuid.NewString(),
		Protocol:        model.ProtocolHTTP3,
		RemoteAddr:      remote,
		CreatedAt:       created,
		HandshakeDoneAt: hsDone,
		closeFn: func() error {
			return qc.CloseWithError(h3NoError, "shutting down")
		},
	}
	t.cfg.Registry.Track(conn)
	t.cfg.Aggregator.ConnOpened(model.ProtocolHTTP3)
	t.cfg.Aggregator.RecordHandshake(model.ProtocolHTTP3, conn.Handshake())

	// Blocks until the connection closes (peer, idle timeout, or drain).
	// Stream-level framing errors surface here after the library has
	// already reset the offending stream; other connections are unaffected.
	if err := t.h3.ServeQUICConn(qc); err != nil {
		var appErr *quic.ApplicationError
		if !errors.As(err, &appErr) || appErr.ErrorCode != h3NoError {
			log.Printf("HTTP/3 connection %s (%s) ended: %v", conn.ID, remote, err)
		}
	}

	t.cfg.Registry.Remove(remote)
	t.cfg.Aggregator.ConnClosed(model.ProtocolHTTP3)
}

// Stop interrupts the accept loop, marks connections Draining and waits for
// in-flight requests up to the context deadline before force-closing the
// remainder. The returned error is a warning, not a failure.
func (t *HTTP3Terminator) Stop(ctx context.Context) error {
	t.acceptCancel()
	t.cfg.Registry.MarkDraining(model.ProtocolHTTP3)

	drained := t.awaitDrain(ctx)

	t.cfg.Registry.CloseAll(model.ProtocolHTTP3)
	t.ln.Close()
	t.udpConn.Close()

	if !drained {
		return fmt.Errorf("HTTP/3 drain exceeded grace period, connections force-closed")
	}
	return nil
}

// awaitDrain polls until no request is in flight on this terminator.
func (t *HTTP3Terminator) awaitDrain(ctx context.Context) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.cfg.Registry.Inflight(model.ProtocolHTTP3) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return t.cfg.Registry.Inflight(model.ProtocolHTTP3) == 0
		case <-ticker.C:
		}
	}
}

// sweepLoop periodically drops first-packet stamps for peers that never
// completed a handshake (failed, timed out, or bare UDP scans), so the table
// stays bounded under handshake-failure load.
func (t *HTTP3Terminator) sweepLoop() {
	ticker := time.NewTicker(handshakeTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-t.acceptCtx.Done():
			return
		case <-ticker.C:
			t.firstSeen.sweep(handshakeTimeout)
		}
	}
}

// firstPacketTable records when the first datagram from each remote address
// arrived, so handshake latency can be derived at accept time.
type firstPacketTable struct {
	mu    sync.Mutex
	first map[string]time.Time
}

func newFirstPacketTable() *firstPacketTable {
	return &firstPacketTable{first: make(map[string]time.Time)}
}

func (t *firstPacketTable) stamp(addr string) {
	t.mu.Lock()
	if _, ok := t.first[addr]; !ok {
		t.first[addr] = time.Now()
	}
	t.mu.Unlock()
}

func (t *firstPacketTable) take(addr string) (time.Time, bool) {
	t.mu.Lock()
	ts, ok := t.first[addr]
	delete(t.first, addr)
	t.mu.Unlock()
	return ts, ok
}

// sweep drops stamps older than maxAge. take only runs for handshakes that
// complete; everything else would sit in the table forever without this.
func (t *firstPacketTable) sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	t.mu.Lock()
	for addr, ts := range t.first {
		if ts.Before(cutoff) {
			delete(t.first, addr)
		}
	}
	t.mu.Unlock()
}

// tracingPacketConn stamps the first packet seen per remote address.
type tracingPacketConn struct {
	net.PacketConn
	table *firstPacketTable
}

func (c *tracingPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err == nil && addr != nil {
		c.table.stamp(addr.String())
	}
	return n, addr, err
}
