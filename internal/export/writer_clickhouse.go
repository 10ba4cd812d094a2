package export

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"DualSpectra/internal/config"
	"DualSpectra/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS protocol_metrics (
    Timestamp  DateTime,
    Protocol   String,
    Count      UInt64,
    AvgMs      Float64,
    MinMs      Float64,
    MaxMs      Float64,
    SumMs      Float64,
    Bytes      UInt64,
    Incomplete UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Protocol, Timestamp);
`

// ClickHouseWriter persists counter snapshots to ClickHouse. It implements
// the model.Writer interface.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts one row per protocol into the protocol_metrics table.
func (w *ClickHouseWriter) Write(snapshots []model.CounterSnapshot, timestamp string) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO protocol_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, _ := time.Parse("2006-01-02_15-04-05", timestamp)
	rows := 0

	for _, snap := range snapshots {
		if snap.Count == 0 && snap.Incomplete == 0 {
			continue
		}
		rows++
		err = batch.Append(
			snapshotTime,
			string(snap.Protocol),
			snap.Count,
			snap.AvgMs,
			snap.MinMs,
			snap.MaxMs,
			snap.SumMs,
			snap.Bytes,
			snap.Incomplete,
		)
		if err != nil {
			return fmt.Errorf("failed to append snapshot to batch: %w", err)
		}
	}

	if rows == 0 {
		return nil // Nothing to write
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d protocol snapshots to ClickHouse", rows)
	return nil
}
