package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"DualSpectra/internal/config"
	"DualSpectra/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	bindAddr := flag.String("bind", "", "override: listener bind address")
	http2Port := flag.Int("http2-port", 0, "override: HTTP/2 TCP port")
	http3Port := flag.Int("http3-port", 0, "override: HTTP/3 UDP port")
	certPath := flag.String("cert", "", "override: TLS certificate path")
	keyPath := flag.String("key", "", "override: TLS key path")
	contentRoot := flag.String("content", "", "override: content root directory")
	flag.Parse()

	log.Println("Starting ds-server...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stage config: %v\n", err)
		os.Exit(server.ExitStartupFail)
	}
	applyOverrides(cfg, *bindAddr, *http2Port, *http3Port, *certPath, *keyPath, *contentRoot)
	if cfg.Server.LogLevel == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	mgr, err := server.NewManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(server.ExitStartupFail)
	}

	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(server.ExitStartupFail)
	}

	os.Exit(mgr.Run())
}

func applyOverrides(cfg *config.Config, bindAddr string, http2Port, http3Port int, certPath, keyPath, contentRoot string) {
	if bindAddr != "" {
		cfg.Server.BindAddr = bindAddr
	}
	if http2Port != 0 {
		cfg.Server.HTTP2Port = http2Port
	}
	if http3Port != 0 {
		cfg.Server.HTTP3Port = http3Port
	}
	if certPath != "" {
		cfg.Server.TLSCertPath = certPath
	}
	if keyPath != "" {
		cfg.Server.TLSKeyPath = keyPath
	}
	if contentRoot != "" {
		cfg.Server.ContentRoot = contentRoot
	}
}
