package export

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"DualSpectra/internal/model"
)

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	Protocols    int     `json:"protocols"`
	TotalCount   uint64  `json:"total_count"`
	TotalBytes   uint64  `json:"total_bytes"`
	TotalDropped uint64  `json:"total_incomplete"`
	Timestamp    string  `json:"timestamp"`
	Label        string  `json:"label"`
	MaxMs        float64 `json:"max_ms"`
}

// GobWriter persists counter snapshots to disk in gob format under a
// timestamped directory. It implements the model.Writer interface.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new on-disk snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write serializes the per-protocol snapshots into one .dat file per
// protocol plus a summary.json, under rootPath/<timestamp>/.
func (w *GobWriter) Write(snapshots []model.CounterSnapshot, timestamp string) error {
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	summary := SummaryData{
		Protocols: len(snapshots),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Label:     timestamp,
	}

	for _, snap := range snapshots {
		summary.TotalCount += snap.Count
		summary.TotalBytes += snap.Bytes
		summary.TotalDropped += snap.Incomplete
		if snap.MaxMs > summary.MaxMs {
			summary.MaxMs = snap.MaxMs
		}

		fileName := fmt.Sprintf("%s.dat", protocolFileName(snap.Protocol))
		filePath := filepath.Join(snapshotDir, fileName)

		file, err := os.Create(filePath)
		if err != nil {
			return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
		}
		encoder := gob.NewEncoder(file)
		if err := encoder.Encode(snap); err != nil {
			file.Close()
			return fmt.Errorf("failed to encode snapshot to gob for file '%s': %w", filePath, err)
		}
		file.Close()
	}

	summaryFilePath := filepath.Join(snapshotDir, "summary.json")
	summaryFile, err := os.Create(summaryFilePath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	return nil
}

func protocolFileName(kind model.ProtocolKind) string {
	switch kind {
	case model.ProtocolHTTP2:
		return "http2"
	case model.ProtocolHTTP3:
		return "http3"
	default:
		return "unknown"
	}
}
