package model

import "time"

// Writer defines a generic interface for persisting counter snapshots.
type Writer interface {
	// Write persists the given snapshots under the given timestamp label.
	Write(snapshots []CounterSnapshot, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}
