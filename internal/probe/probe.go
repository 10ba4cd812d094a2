package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"DualSpectra/internal/model"
)

// Options configures one comparison run against a dual-protocol server.
type Options struct {
	Host      string
	HTTP2Port int
	HTTP3Port int
	Path      string
	Runs      int
	Insecure  bool
	Timeout   time.Duration
}

// Sample holds the client-side timings of one fetch.
type Sample struct {
	Handshake time.Duration
	TTFB      time.Duration
	Total     time.Duration
	Bytes     int64
}

// Stats summarizes one timing dimension across runs.
type Stats struct {
	Count int
	Min   time.Duration
	Avg   time.Duration
	Max   time.Duration
}

// Report is the per-protocol result of a comparison run.
type Report struct {
	Protocol  model.ProtocolKind
	Handshake Stats
	TTFB      Stats
	Total     Stats
	Bytes     int64
	Errors    int
}

// Run fetches the same path over both protocols, a fresh connection per
// fetch so every sample includes a full handshake, and returns one report
// per protocol.
func Run(ctx context.Context, opts Options) ([]Report, error) {
	if opts.Runs <= 0 {
		opts.Runs = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	h2, err := collect(ctx, opts, model.ProtocolHTTP2)
	if err != nil {
		return nil, err
	}
	h3, err := collect(ctx, opts, model.ProtocolHTTP3)
	if err != nil {
		return nil, err
	}
	return []Report{h2, h3}, nil
}

func collect(ctx context.Context, opts Options, kind model.ProtocolKind) (Report, error) {
	report := Report{Protocol: kind}
	var handshakes, ttfbs, totals []time.Duration

	for i := 0; i < opts.Runs; i++ {
		runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		var sample Sample
		var err error
		switch kind {
		case model.ProtocolHTTP2:
			sample, err = fetchHTTP2(runCtx, opts)
		case model.ProtocolHTTP3:
			sample, err = fetchHTTP3(runCtx, opts)
		}
		cancel()
		if err != nil {
			report.Errors++
			continue
		}
		handshakes = append(handshakes, sample.Handshake)
		ttfbs = append(ttfbs, sample.TTFB)
		totals = append(totals, sample.Total)
		report.Bytes += sample.Bytes
	}

	if report.Errors == opts.Runs {
		return report, fmt.Errorf("all %d %s fetches failed", opts.Runs, kind)
	}
	report.Handshake = Summarize(handshakes)
	report.TTFB = Summarize(ttfbs)
	report.Total = Summarize(totals)
	return report, nil
}

// Summarize computes min/avg/max over a set of durations.
func Summarize(values []time.Duration) Stats {
	stats := Stats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}
	var sum time.Duration
	stats.Min = values[0]
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Avg = sum / time.Duration(len(values))
	return stats
}

func (o Options) url(port int) string {
	return "https://" + net.JoinHostPort(o.Host, strconv.Itoa(port)) + o.Path
}

func (o Options) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         o.Host,
		InsecureSkipVerify: o.Insecure,
	}
}

// fetchHTTP2 performs one fetch over a fresh TLS/TCP connection, timing the
// handshake via httptrace.
func fetchHTTP2(ctx context.Context, opts Options) (Sample, error) {
	transport := &http.Transport{
		TLSClientConfig:   opts.tlsConfig(),
		ForceAttemptHTTP2: true,
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	var sample Sample
	var hsStart time.Time
	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { hsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			if !hsStart.IsZero() {
				sample.Handshake = time.Since(hsStart)
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, opts.url(opts.HTTP2Port), nil)
	if err != nil {
		return Sample{}, err
	}

	start := time.Now()
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()

	return drainBody(resp.Body, start, sample)
}

// fetchHTTP3 performs one fetch over a fresh QUIC connection. The dial hook
// brackets the whole QUIC handshake.
func fetchHTTP3(ctx context.Context, opts Options) (Sample, error) {
	var sample Sample
	rt := &http3.RoundTripper{
		TLSClientConfig: opts.tlsConfig(),
		Dial: func(ctx context.Context, addr string, tlsCfg *tls.Config, cfg *quic.Config) (quic.EarlyConnection, error) {
			start := time.Now()
			conn, err := quic.DialAddrEarly(ctx, addr, tlsCfg, cfg)
			if err == nil {
				sample.Handshake = time.Since(start)
			}
			return conn, err
		},
	}
	defer rt.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.url(opts.HTTP3Port), nil)
	if err != nil {
		return Sample{}, err
	}

	start := time.Now()
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()

	return drainBody(resp.Body, start, sample)
}

// drainBody reads the response to completion, recording time to first body
// byte and total transfer time relative to start.
func drainBody(body io.Reader, start time.Time, sample Sample) (Sample, error) {
	buf := make([]byte, 32<<10)
	first := true
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if first {
				sample.TTFB = time.Since(start)
				first = false
			}
			sample.Bytes += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Sample{}, err
		}
	}
	sample.Total = time.Since(start)
	if first {
		// Empty body: first byte never arrived, use header completion.
		sample.TTFB = sample.Total
	}
	return sample, nil
}
