package export

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"DualSpectra/internal/config"
	"DualSpectra/internal/model"
)

// NATSPublisher publishes one JSON-encoded MetricSample per completed
// request to a NATS subject, for external collectors. It implements
// model.SamplePublisher.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to the configured NATS server.
func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &NATSPublisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a sample to JSON and publishes it. The JSON schema is
// the same one the snapshot writers and /status use.
func (p *NATSPublisher) Publish(sample model.MetricSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
