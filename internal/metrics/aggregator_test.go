package metrics

import (
	"sync"
	"testing"
	"time"

	"DualSpectra/internal/model"
)

func sampleWithTotal(kind model.ProtocolKind, total time.Duration) model.MetricSample {
	return model.MetricSample{
		Protocol: kind,
		TTFB:     total / 2,
		Total:    total,
		Bytes:    100,
		Status:   200,
	}
}

func TestRecordAndSnapshot(t *testing.T) {
	agg := New()

	agg.Record(sampleWithTotal(model.ProtocolHTTP2, 10*time.Millisecond))
	agg.Record(sampleWithTotal(model.ProtocolHTTP2, 30*time.Millisecond))

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 2 {
		t.Fatalf("expected count 2, got %d", snap.Count)
	}
	if snap.AvgMs < 19 || snap.AvgMs > 21 {
		t.Errorf("expected avg around 20ms, got %f", snap.AvgMs)
	}
	if snap.MinMs < 9 || snap.MinMs > 11 {
		t.Errorf("expected min around 10ms, got %f", snap.MinMs)
	}
	if snap.MaxMs < 29 || snap.MaxMs > 31 {
		t.Errorf("expected max around 30ms, got %f", snap.MaxMs)
	}
	if snap.Bytes != 200 {
		t.Errorf("expected 200 bytes, got %d", snap.Bytes)
	}

	// The other protocol is untouched.
	if other := agg.Snapshot(model.ProtocolHTTP3); other.Count != 0 {
		t.Errorf("expected empty HTTP/3 counters, got count %d", other.Count)
	}
}

func TestSnapshotEmptyReportsZeroAvg(t *testing.T) {
	agg := New()
	snap := agg.Snapshot(model.ProtocolHTTP3)
	if snap.Count != 0 || snap.AvgMs != 0 || snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
}

func TestIncompleteCountedSeparately(t *testing.T) {
	agg := New()

	sample := sampleWithTotal(model.ProtocolHTTP2, 5*time.Millisecond)
	sample.Incomplete = true
	agg.Record(sample)
	agg.Record(sampleWithTotal(model.ProtocolHTTP2, 15*time.Millisecond))

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 1 {
		t.Errorf("incomplete sample must not count as success, got count %d", snap.Count)
	}
	if snap.Incomplete != 1 {
		t.Errorf("expected 1 incomplete, got %d", snap.Incomplete)
	}
	if snap.MinMs < 14 {
		t.Errorf("incomplete latency must not skew stats, got min %f", snap.MinMs)
	}
}

func TestHistogramBucketPlacement(t *testing.T) {
	agg := New()

	agg.Record(sampleWithTotal(model.ProtocolHTTP3, 500*time.Microsecond)) // <= 1ms
	agg.Record(sampleWithTotal(model.ProtocolHTTP3, 40*time.Millisecond))  // <= 50ms
	agg.Record(sampleWithTotal(model.ProtocolHTTP3, 10*time.Second))       // overflow

	snap := agg.Snapshot(model.ProtocolHTTP3)
	if got := len(snap.Buckets); got != len(BucketBoundsMs)+1 {
		t.Fatalf("expected %d buckets, got %d", len(BucketBoundsMs)+1, got)
	}
	if snap.Buckets[0] != 1 {
		t.Errorf("expected 1 sample in the <=1ms bucket, got %d", snap.Buckets[0])
	}
	if snap.Buckets[bucketIndex(40)] != 1 {
		t.Errorf("expected 1 sample in the <=50ms bucket")
	}
	if snap.Buckets[len(BucketBoundsMs)] != 1 {
		t.Errorf("expected 1 sample in the overflow bucket, got %d", snap.Buckets[len(BucketBoundsMs)])
	}
}

func TestConcurrentRecord(t *testing.T) {
	agg := New()

	const goroutines = 16
	const perGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				agg.Record(sampleWithTotal(model.ProtocolHTTP2, time.Millisecond))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				agg.Record(sampleWithTotal(model.ProtocolHTTP3, time.Millisecond))
			}
		}()
	}
	wg.Wait()

	if snap := agg.Snapshot(model.ProtocolHTTP2); snap.Count != goroutines*perGoroutine {
		t.Errorf("expected %d HTTP/2 samples, got %d", goroutines*perGoroutine, snap.Count)
	}
	if snap := agg.Snapshot(model.ProtocolHTTP3); snap.Count != goroutines*perGoroutine {
		t.Errorf("expected %d HTTP/3 samples, got %d", goroutines*perGoroutine, snap.Count)
	}
}

func TestHandshakeCounters(t *testing.T) {
	agg := New()

	agg.RecordHandshake(model.ProtocolHTTP2, 4*time.Millisecond)
	agg.RecordHandshake(model.ProtocolHTTP2, 8*time.Millisecond)

	snap := agg.Handshakes(model.ProtocolHTTP2)
	if snap.Count != 2 {
		t.Fatalf("expected 2 handshakes, got %d", snap.Count)
	}
	if snap.AvgMs < 5 || snap.AvgMs > 7 {
		t.Errorf("expected avg around 6ms, got %f", snap.AvgMs)
	}
}

func TestResetClearsPrometheusMirror(t *testing.T) {
	agg := New()
	agg.Record(sampleWithTotal(model.ProtocolHTTP2, time.Millisecond))

	families, err := agg.prom.registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected a populated exposition before reset")
	}

	agg.Reset()

	families, err = agg.prom.registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range families {
		if len(fam.GetMetric()) != 0 {
			t.Errorf("expected family %s cleared after reset", fam.GetName())
		}
	}
}

func TestAggregatorMirrorsAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.Record(sampleWithTotal(model.ProtocolHTTP2, time.Millisecond))

	families, err := b.prom.registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 0 {
		t.Errorf("a sample on one aggregator must not reach another's registry, got %d families", len(families))
	}
}

func TestReset(t *testing.T) {
	agg := New()
	agg.Record(sampleWithTotal(model.ProtocolHTTP2, time.Millisecond))
	agg.RecordHandshake(model.ProtocolHTTP2, time.Millisecond)

	agg.Reset()

	snap := agg.Snapshot(model.ProtocolHTTP2)
	if snap.Count != 0 || snap.Bytes != 0 || snap.Incomplete != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", snap)
	}
	if hs := agg.Handshakes(model.ProtocolHTTP2); hs.Count != 0 {
		t.Errorf("expected zeroed handshake counters after reset, got %+v", hs)
	}
}
