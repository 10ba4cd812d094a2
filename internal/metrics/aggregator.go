package metrics

import (
	"sync"
	"time"

	"DualSpectra/internal/model"
)

// BucketBoundsMs are the upper bounds of the fixed latency histogram, in
// milliseconds. A final unbounded bucket is appended implicitly.
var BucketBoundsMs = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// protocolCounters is the runtime-mutable state for one protocol kind.
// Every sample is applied as a single operation under the mutex.
type protocolCounters struct {
	mu         sync.Mutex
	count      uint64
	sumMs      float64
	minMs      float64
	maxMs      float64
	bytes      uint64
	incomplete uint64
	buckets    []uint64

	hsCount uint64
	hsSumMs float64
	hsMinMs float64
	hsMaxMs float64
}

func newProtocolCounters() *protocolCounters {
	return &protocolCounters{
		buckets: make([]uint64, len(BucketBoundsMs)+1),
	}
}

// Aggregator maintains process-wide cumulative counters per protocol kind.
// It is safe under concurrent calls from both terminators simultaneously.
type Aggregator struct {
	counters map[model.ProtocolKind]*protocolCounters
	prom     *promMirror
}

// New creates an Aggregator with zeroed counters for both protocols.
func New() *Aggregator {
	return &Aggregator{
		counters: map[model.ProtocolKind]*protocolCounters{
			model.ProtocolHTTP2: newProtocolCounters(),
			model.ProtocolHTTP3: newProtocolCounters(),
		},
		prom: newPromMirror(),
	}
}

func (a *Aggregator) forProtocol(kind model.ProtocolKind) *protocolCounters {
	return a.counters[kind]
}

// Record folds one completed sample into the counters for its protocol.
// Incomplete samples are counted separately so they do not skew the latency
// statistics of successful requests.
func (a *Aggregator) Record(sample model.MetricSample) {
	pc := a.forProtocol(sample.Protocol)
	if pc == nil {
		return
	}
	totalMs := float64(sample.Total) / float64(time.Millisecond)

	pc.mu.Lock()
	pc.bytes += uint64(sample.Bytes)
	if sample.Incomplete {
		pc.incomplete++
		pc.mu.Unlock()
		a.prom.observeIncomplete(sample.Protocol)
		return
	}
	pc.count++
	pc.sumMs += totalMs
	if pc.count == 1 || totalMs < pc.minMs {
		pc.minMs = totalMs
	}
	if totalMs > pc.maxMs {
		pc.maxMs = totalMs
	}
	pc.buckets[bucketIndex(totalMs)]++
	pc.mu.Unlock()

	a.prom.observeSample(sample)
}

// RecordHandshake folds one completed handshake latency into the counters.
func (a *Aggregator) RecordHandshake(kind model.ProtocolKind, d time.Duration) {
	pc := a.forProtocol(kind)
	if pc == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)

	pc.mu.Lock()
	pc.hsCount++
	pc.hsSumMs += ms
	if pc.hsCount == 1 || ms < pc.hsMinMs {
		pc.hsMinMs = ms
	}
	if ms > pc.hsMaxMs {
		pc.hsMaxMs = ms
	}
	pc.mu.Unlock()

	a.prom.observeHandshake(kind, d)
}

// ConnOpened and ConnClosed keep the active-connection gauge current.
func (a *Aggregator) ConnOpened(kind model.ProtocolKind) { a.prom.connAdd(kind, 1) }
func (a *Aggregator) ConnClosed(kind model.ProtocolKind) { a.prom.connAdd(kind, -1) }

// Snapshot returns an immutable copy of one protocol's request counters.
// Writers are only blocked for the duration of the copy.
func (a *Aggregator) Snapshot(kind model.ProtocolKind) model.CounterSnapshot {
	pc := a.forProtocol(kind)
	if pc == nil {
		return model.CounterSnapshot{Protocol: kind}
	}

	pc.mu.Lock()
	snap := model.CounterSnapshot{
		Protocol:   kind,
		Count:      pc.count,
		MinMs:      pc.minMs,
		MaxMs:      pc.maxMs,
		SumMs:      pc.sumMs,
		Bytes:      pc.bytes,
		Incomplete: pc.incomplete,
		Buckets:    append([]uint64(nil), pc.buckets...),
	}
	pc.mu.Unlock()

	if snap.Count > 0 {
		snap.AvgMs = snap.SumMs / float64(snap.Count)
	}
	return snap
}

// Handshakes returns an immutable copy of one protocol's handshake-latency
// counters, reusing the snapshot shape (count, avg, min, max).
func (a *Aggregator) Handshakes(kind model.ProtocolKind) model.CounterSnapshot {
	pc := a.forProtocol(kind)
	if pc == nil {
		return model.CounterSnapshot{Protocol: kind}
	}

	pc.mu.Lock()
	snap := model.CounterSnapshot{
		Protocol: kind,
		Count:    pc.hsCount,
		MinMs:    pc.hsMinMs,
		MaxMs:    pc.hsMaxMs,
		SumMs:    pc.hsSumMs,
	}
	pc.mu.Unlock()

	if snap.Count > 0 {
		snap.AvgMs = snap.SumMs / float64(snap.Count)
	}
	return snap
}

// Snapshots returns copies for both protocols, for the snapshot writers.
func (a *Aggregator) Snapshots() []model.CounterSnapshot {
	return []model.CounterSnapshot{
		a.Snapshot(model.ProtocolHTTP2),
		a.Snapshot(model.ProtocolHTTP3),
	}
}

// Reset zeroes all counters. Intended for test harnesses only; it is not
// reachable from the public HTTP surface.
func (a *Aggregator) Reset() {
	for _, pc := range a.counters {
		pc.mu.Lock()
		pc.count = 0
		pc.sumMs = 0
		pc.minMs = 0
		pc.maxMs = 0
		pc.bytes = 0
		pc.incomplete = 0
		pc.buckets = make([]uint64, len(BucketBoundsMs)+1)
		pc.hsCount = 0
		pc.hsSumMs = 0
		pc.hsMinMs = 0
		pc.hsMaxMs = 0
		pc.mu.Unlock()
	}
	a.prom.reset()
}

func bucketIndex(ms float64) int {
	for i, bound := range BucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return len(BucketBoundsMs)
}
