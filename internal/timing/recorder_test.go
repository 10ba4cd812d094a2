package timing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
)

func TestEndRecordsExactlyOnce(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	timer := rec.Begin(model.ProtocolHTTP2, "conn-1", "/x", time.Millisecond)
	timer.MarkFirstByte()
	timer.End(200, 42, false)
	timer.End(200, 42, false) // duplicate, must be a no-op

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 1 {
		t.Fatalf("duplicate End must change counters by at most one sample, got count %d", snap.Count)
	}
	if !timer.Recorded() {
		t.Error("timer must be in terminal recorded state")
	}
}

func TestEndWithoutFirstByteSynthesizesTTFB(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	timer := rec.Begin(model.ProtocolHTTP3, "conn-2", "/y", 0)
	timer.End(200, 0, false)

	snap := agg.Snapshot(model.ProtocolHTTP3)
	if snap.Count != 0 {
		t.Errorf("request with no response byte must not count as success, got %d", snap.Count)
	}
	if snap.Incomplete != 1 {
		t.Errorf("expected 1 incomplete sample, got %d", snap.Incomplete)
	}
}

type capturePublisher struct {
	samples []model.MetricSample
}

func (p *capturePublisher) Publish(s model.MetricSample) error {
	p.samples = append(p.samples, s)
	return nil
}

func (p *capturePublisher) Close() {}

func TestSamplesReachPublisher(t *testing.T) {
	agg := metrics.New()
	pub := &capturePublisher{}
	rec := NewRecorder(agg, pub)

	timer := rec.Begin(model.ProtocolHTTP2, "conn-3", "/z", 2*time.Millisecond)
	timer.MarkFirstByte()
	timer.End(200, 7, false)

	if len(pub.samples) != 1 {
		t.Fatalf("expected 1 published sample, got %d", len(pub.samples))
	}
	s := pub.samples[0]
	if s.ConnectionID != "conn-3" || s.Path != "/z" || s.Bytes != 7 || s.Handshake != 2*time.Millisecond {
		t.Errorf("unexpected published sample: %+v", s)
	}
	if s.TTFB > s.Total {
		t.Errorf("ttfb %s must not exceed total %s", s.TTFB, s.Total)
	}
}

func TestMiddlewareRecordsCompletedRequest(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}), rec, model.ProtocolHTTP2, nil)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 1 {
		t.Fatalf("expected 1 sample, got %d", snap.Count)
	}
	if snap.Incomplete != 0 {
		t.Errorf("expected no incomplete samples, got %d", snap.Incomplete)
	}
	if snap.Bytes != 5 {
		t.Errorf("expected 5 bytes recorded, got %d", snap.Bytes)
	}
}

func TestMiddlewareHeaderOnlyResponseComplete(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}), rec, model.ProtocolHTTP2, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cached", nil))

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 1 {
		t.Fatalf("a bodyless response is still a completed request, got count %d", snap.Count)
	}
	if snap.Incomplete != 0 {
		t.Errorf("a bodyless response must not count as incomplete, got %d", snap.Incomplete)
	}
}

func TestMiddlewareHeadRequestComplete(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
	}), rec, model.ProtocolHTTP3, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/index.html", nil))

	snap := agg.Snapshot(model.ProtocolHTTP3)
	if snap.Count != 1 || snap.Incomplete != 0 {
		t.Errorf("HEAD response must count as complete, got count=%d incomplete=%d", snap.Count, snap.Incomplete)
	}
}

func TestMiddlewareMarksCancelledRequestIncomplete(t *testing.T) {
	agg := metrics.New()
	rec := NewRecorder(agg, nil)

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
	}), rec, model.ProtocolHTTP3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // peer already gone
	req := httptest.NewRequest(http.MethodGet, "/big", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	snap := agg.Snapshot(model.ProtocolHTTP3)
	if snap.Count != 0 {
		t.Errorf("cancelled request must not count as success, got %d", snap.Count)
	}
	if snap.Incomplete != 1 {
		t.Errorf("expected 1 incomplete sample, got %d", snap.Incomplete)
	}
}

type fakeConnSource struct {
	marked int
	done   int
}

func (f *fakeConnSource) ConnFor(string) (string, time.Duration, bool) {
	return "fake-conn", 3 * time.Millisecond, true
}
func (f *fakeConnSource) MarkRequest(string) { f.marked++ }
func (f *fakeConnSource) RequestDone(string) { f.done++ }

func TestMiddlewareTracksConnectionActivity(t *testing.T) {
	agg := metrics.New()
	pub := &capturePublisher{}
	rec := NewRecorder(agg, pub)
	conns := &fakeConnSource{}

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}), rec, model.ProtocolHTTP2, conns)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/a", nil))

	if conns.marked != 1 || conns.done != 1 {
		t.Errorf("expected request marked and completed once, got marked=%d done=%d", conns.marked, conns.done)
	}
	if len(pub.samples) != 1 || pub.samples[0].ConnectionID != "fake-conn" {
		t.Errorf("expected sample tagged with connection id, got %+v", pub.samples)
	}
	if pub.samples[0].Handshake != 3*time.Millisecond {
		t.Errorf("expected handshake latency from connection, got %s", pub.samples[0].Handshake)
	}
}
