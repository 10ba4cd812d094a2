package model

import (
	"time"
)

// ProtocolKind identifies which terminator served a connection or request.
type ProtocolKind string

const (
	ProtocolHTTP2 ProtocolKind = "HTTP/2"
	ProtocolHTTP3 ProtocolKind = "HTTP/3"
)

// ConnState is the lifecycle state of a tracked connection.
// Transitions: Handshaking -> Active -> Draining -> Closed, with
// Handshaking -> Closed on a failed TLS or QUIC handshake.
type ConnState int32

const (
	ConnHandshaking ConnState = iota
	ConnActive
	ConnDraining
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnHandshaking:
		return "handshaking"
	case ConnActive:
		return "active"
	case ConnDraining:
		return "draining"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MetricSample is produced exactly once per completed request and merged
// into the per-protocol counters.
type MetricSample struct {
	Protocol     ProtocolKind  `json:"protocol"`
	Handshake    time.Duration `json:"handshake_ns"`
	TTFB         time.Duration `json:"ttfb_ns"`
	Total        time.Duration `json:"total_ns"`
	Bytes        int64         `json:"bytes"`
	Status       int           `json:"status"`
	Incomplete   bool          `json:"incomplete"`
	ConnectionID string        `json:"connection_id"`
	Path         string        `json:"path"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CounterSnapshot is an immutable copy of one protocol's cumulative counters.
type CounterSnapshot struct {
	Protocol   ProtocolKind `json:"protocol"`
	Count      uint64       `json:"count"`
	AvgMs      float64      `json:"avg_ms"`
	MinMs      float64      `json:"min_ms"`
	MaxMs      float64      `json:"max_ms"`
	SumMs      float64      `json:"sum_ms"`
	Bytes      uint64       `json:"bytes"`
	Incomplete uint64       `json:"incomplete"`
	// Buckets[i] counts samples with total latency <= BucketBoundsMs[i];
	// the final bucket is unbounded.
	Buckets []uint64 `json:"buckets"`
}

// ConnectionInfo is a read-only view of one tracked connection, as exposed
// on the protocol-info endpoint.
type ConnectionInfo struct {
	ID            string       `json:"id"`
	Protocol      ProtocolKind `json:"protocol"`
	RemoteAddr    string       `json:"remote_addr"`
	State         string       `json:"state"`
	AgeSeconds    float64      `json:"age_seconds"`
	HandshakeMs   float64      `json:"handshake_ms"`
	RequestsTotal uint64       `json:"requests_total"`
}
