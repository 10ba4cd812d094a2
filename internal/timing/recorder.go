package timing

import (
	"log"
	"sync"
	"time"

	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
)

// Recorder brackets request lifecycles and folds the resulting samples into
// the aggregator, optionally publishing each sample as well.
type Recorder struct {
	agg *metrics.Aggregator
	pub model.SamplePublisher // nil when per-sample export is disabled
}

// NewRecorder creates a Recorder. pub may be nil.
func NewRecorder(agg *metrics.Aggregator, pub model.SamplePublisher) *Recorder {
	return &Recorder{agg: agg, pub: pub}
}

// Begin starts timing one request, at header-decode completion.
func (r *Recorder) Begin(proto model.ProtocolKind, connID, path string, handshake time.Duration) *RequestTimer {
	return &RequestTimer{
		rec:       r,
		proto:     proto,
		connID:    connID,
		path:      path,
		handshake: handshake,
		start:     time.Now(),
	}
}

// RequestTimer tracks one request from header decode to last byte. End is
// idempotent: the sample for a request is recorded at most once.
type RequestTimer struct {
	rec       *Recorder
	proto     model.ProtocolKind
	connID    string
	path      string
	handshake time.Duration
	start     time.Time

	mu        sync.Mutex
	firstByte time.Time
	recorded  bool
}

// MarkFirstByte records the moment the first response byte is handed to the
// transport layer. Subsequent calls are ignored.
func (t *RequestTimer) MarkFirstByte() {
	t.mu.Lock()
	if t.firstByte.IsZero() {
		t.firstByte = time.Now()
	}
	t.mu.Unlock()
}

// End completes the request, computes derived latencies and hands the sample
// to the aggregator. If no response byte was ever sent, ttfb is synthesized
// as the total latency and the sample is flagged incomplete so it is counted
// apart from successful-sample statistics.
func (t *RequestTimer) End(status int, bytesOut int64, incomplete bool) {
	now := time.Now()

	t.mu.Lock()
	if t.recorded {
		t.mu.Unlock()
		log.Printf("defect: duplicate End() for request on connection %s (%s %s), sample not re-recorded",
			t.connID, t.proto, t.path)
		return
	}
	t.recorded = true
	firstByte := t.firstByte
	t.mu.Unlock()

	total := now.Sub(t.start)
	ttfb := total
	if firstByte.IsZero() {
		incomplete = true
	} else {
		ttfb = firstByte.Sub(t.start)
	}

	sample := model.MetricSample{
		Protocol:     t.proto,
		Handshake:    t.handshake,
		TTFB:         ttfb,
		Total:        total,
		Bytes:        bytesOut,
		Status:       status,
		Incomplete:   incomplete,
		ConnectionID: t.connID,
		Path:         t.path,
		Timestamp:    now,
	}

	t.rec.agg.Record(sample)
	if t.rec.pub != nil {
		if err := t.rec.pub.Publish(sample); err != nil {
			log.Printf("Error publishing sample for connection %s: %v", t.connID, err)
		}
	}
}

// Recorded reports whether the timer has reached its terminal state.
func (t *RequestTimer) Recorded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recorded
}
