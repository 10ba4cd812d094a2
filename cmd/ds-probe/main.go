package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"DualSpectra/internal/probe"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	http2Port := flag.Int("http2-port", 8443, "HTTP/2 TCP port")
	http3Port := flag.Int("http3-port", 8444, "HTTP/3 UDP port")
	path := flag.String("path", "/gen/1048576", "path to fetch on both listeners")
	runs := flag.Int("runs", 5, "fetches per protocol, fresh connection each")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	timeout := flag.Duration("timeout", 30*time.Second, "per-fetch timeout")
	flag.Parse()

	reports, err := probe.Run(context.Background(), probe.Options{
		Host:      *host,
		HTTP2Port: *http2Port,
		HTTP3Port: *http3Port,
		Path:      *path,
		Runs:      *runs,
		Insecure:  *insecure,
		Timeout:   *timeout,
	})
	if err != nil {
		log.Fatalf("Probe failed: %v", err)
	}

	fmt.Printf("Fetched %s x%d per protocol from %s\n\n", *path, *runs, *host)
	fmt.Printf("%-8s %-12s %-30s %-30s %-30s %s\n", "proto", "errors", "handshake (min/avg/max)", "ttfb (min/avg/max)", "total (min/avg/max)", "bytes")
	for _, r := range reports {
		fmt.Printf("%-8s %-12d %-30s %-30s %-30s %d\n",
			r.Protocol, r.Errors,
			formatStats(r.Handshake), formatStats(r.TTFB), formatStats(r.Total),
			r.Bytes)
	}

	for _, r := range reports {
		if r.Errors > 0 {
			os.Exit(1)
		}
	}
}

func formatStats(s probe.Stats) string {
	if s.Count == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s/%s",
		s.Min.Round(time.Microsecond),
		s.Avg.Round(time.Microsecond),
		s.Max.Round(time.Microsecond))
}
