package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"DualSpectra/internal/config"
	"DualSpectra/internal/content"
	"DualSpectra/internal/export"
	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
	"DualSpectra/internal/router"
	"DualSpectra/internal/terminator"
	"DualSpectra/internal/timing"
)

// Exit codes per the process contract.
const (
	ExitOK          = 0
	ExitStartupFail = 1
	ExitInterrupted = 130
)

// Manager owns startup sequencing and graceful shutdown: load content, load
// TLS credentials, bind the HTTP/2 listener, bind the HTTP/3 listener, start
// accept loops, signal ready. Any failure before both listeners are bound is
// fatal, with the failed stage named.
type Manager struct {
	cfg      *config.Config
	library  *content.Library
	agg      *metrics.Aggregator
	registry *terminator.Registry
	recorder *timing.Recorder

	publisher model.SamplePublisher
	writers   []model.Writer

	tlsConf *tls.Config
	h2      *terminator.HTTP2Terminator
	h3      *terminator.HTTP3Terminator

	idleTimeout time.Duration
	grace       time.Duration
	startedAt   time.Time

	done          chan struct{}
	snapshotterWg sync.WaitGroup
}

// NewManager runs the pre-bind startup stages. The error, if any, names the
// stage that failed.
func NewManager(cfg *config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stage config: %w", err)
	}
	idleTimeout, _ := cfg.ParseIdleTimeout()
	grace, _ := cfg.ParseShutdownGrace()

	library, err := content.NewLibrary(cfg.Server.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("stage content: %w", err)
	}
	log.Printf("Content store loaded: %d entries from %s", library.Current().Len(), cfg.Server.ContentRoot)

	tlsConf, err := terminator.LoadTLSConfig(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
	if err != nil {
		return nil, fmt.Errorf("stage tls: %w", err)
	}

	m := &Manager{
		cfg:         cfg,
		library:     library,
		agg:         metrics.New(),
		registry:    terminator.NewRegistry(),
		tlsConf:     tlsConf,
		idleTimeout: idleTimeout,
		grace:       grace,
		done:        make(chan struct{}),
	}

	if err := m.setupExport(); err != nil {
		return nil, fmt.Errorf("stage export: %w", err)
	}
	m.recorder = timing.NewRecorder(m.agg, m.publisher)

	return m, nil
}

func (m *Manager) setupExport() error {
	if m.cfg.Export.NATS.Enabled {
		pub, err := export.NewNATSPublisher(m.cfg.Export.NATS)
		if err != nil {
			return fmt.Errorf("nats publisher: %w", err)
		}
		m.publisher = pub
	}

	for _, writerDef := range m.cfg.Export.Writers {
		if !writerDef.Enabled {
			continue
		}
		interval, err := time.ParseDuration(writerDef.SnapshotInterval)
		if err != nil || interval <= 0 {
			log.Printf("Warning: invalid snapshot_interval for writer type '%s', skipping.", writerDef.Type)
			continue
		}

		var writer model.Writer
		switch writerDef.Type {
		case "gob":
			writer = export.NewGobWriter(writerDef.Gob.RootPath, interval)
		case "clickhouse":
			writer, err = export.NewClickHouseWriter(writerDef.ClickHouse, interval)
			if err != nil {
				log.Printf("Warning: failed to create writer type '%s': %v, skipping.", writerDef.Type, err)
				continue
			}
		default:
			log.Printf("Warning: unknown writer type '%s' in config, skipping.", writerDef.Type)
			continue
		}
		m.writers = append(m.writers, writer)
	}
	return nil
}

// Start binds both listeners in order and launches the snapshotters. After
// it returns nil the process is ready: health probes succeed on both ports.
func (m *Manager) Start() error {
	m.startedAt = time.Now()

	m.h2 = terminator.NewHTTP2Terminator(terminator.HTTP2Config{
		Addr:        net.JoinHostPort(m.cfg.Server.BindAddr, strconv.Itoa(m.cfg.Server.HTTP2Port)),
		TLSConfig:   m.tlsConf,
		Handler:     m.buildRouter(model.ProtocolHTTP2, m.cfg.Server.HTTP3Port),
		IdleTimeout: m.idleTimeout,
		Registry:    m.registry,
		Aggregator:  m.agg,
	})
	if err := m.h2.Start(); err != nil {
		return fmt.Errorf("stage bind-http2: %w", err)
	}

	m.h3 = terminator.NewHTTP3Terminator(terminator.HTTP3Config{
		Addr:        net.JoinHostPort(m.cfg.Server.BindAddr, strconv.Itoa(m.cfg.Server.HTTP3Port)),
		TLSConfig:   m.tlsConf,
		Handler:     m.buildRouter(model.ProtocolHTTP3, 0),
		IdleTimeout: m.idleTimeout,
		Registry:    m.registry,
		Aggregator:  m.agg,
	})
	if err := m.h3.Start(); err != nil {
		m.h2.Stop(context.Background())
		return fmt.Errorf("stage bind-http3: %w", err)
	}

	for _, writer := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(writer)
		log.Printf("Started snapshotter for a writer with interval %s.", writer.GetInterval())
	}

	log.Printf("Ready: HTTP/2 on %s, HTTP/3 on %s", m.h2.Addr(), m.h3.Addr())
	return nil
}

func (m *Manager) buildRouter(kind model.ProtocolKind, altSvcPort int) http.Handler {
	return router.New(router.Options{
		Protocol:   kind,
		Library:    m.library,
		Aggregator: m.agg,
		Recorder:   m.recorder,
		Conns:      m.registry,
		ConnSource: m.registry,
		StartedAt:  m.startedAt,
		AltSvcPort: altSvcPort,
	})
}

// Run waits for termination signals, reloading content on SIGHUP, and
// performs the graceful shutdown when one arrives. The return value is the
// process exit code.
func (m *Manager) Run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case <-hupCh:
			if err := m.library.Reload(); err != nil {
				log.Printf("Content reload failed, keeping previous snapshot: %v", err)
			} else {
				log.Printf("Content store reloaded: %d entries", m.library.Current().Len())
			}
		case sig := <-sigCh:
			log.Printf("Shutdown signal received (%v), draining...", sig)
			return m.shutdown(sigCh)
		}
	}
}

// shutdown drains both terminators within the grace period. A second
// termination signal during the grace period forces an immediate exit with
// code 130.
func (m *Manager) shutdown(sigCh chan os.Signal) int {
	ctx, cancel := context.WithTimeout(context.Background(), m.grace)
	defer cancel()

	finished := make(chan bool, 1)
	go func() {
		clean := true
		if err := m.h2.Stop(ctx); err != nil {
			log.Printf("Warning: %v", err)
			clean = false
		}
		if err := m.h3.Stop(ctx); err != nil {
			log.Printf("Warning: %v", err)
			clean = false
		}
		finished <- clean
	}()

	interrupted := false
	select {
	case <-finished:
	case sig := <-sigCh:
		log.Printf("Second signal (%v) during grace period, forcing exit.", sig)
		interrupted = true
		// Cut the grace period short, but still wait for both Stops to
		// return: finalize closes the publisher the recorder may still be
		// publishing to while requests drain.
		cancel()
		<-finished
	}

	m.finalize()

	if interrupted {
		return ExitInterrupted
	}
	return ExitOK
}

// finalize flushes the last metrics snapshot and releases export resources.
func (m *Manager) finalize() {
	close(m.done)
	m.snapshotterWg.Wait()
	if m.publisher != nil {
		m.publisher.Close()
	}
	log.Println("Shutdown complete.")
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(writer model.Writer) {
	defer m.snapshotterWg.Done()
	ticker := time.NewTicker(writer.GetInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshot(writer)
		case <-m.done:
			m.takeSnapshot(writer)
			return
		}
	}
}

func (m *Manager) takeSnapshot(writer model.Writer) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	if err := writer.Write(m.agg.Snapshots(), timestamp); err != nil {
		log.Printf("Error writing snapshot: %v", err)
	}
}
