package router

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"DualSpectra/internal/content"
	"DualSpectra/internal/model"
)

// maxSyntheticSize caps the generated test payloads at 512 MiB.
const maxSyntheticSize = 512 << 20

const syntheticChunkSize = 64 << 10

type handlers struct {
	opts Options
}

func newHandlers(opts Options) *handlers {
	return &handlers{opts: opts}
}

// contentFirst serves an exact-path match from the content store, and falls
// through to the diagnostic routes (and ultimately 404) on a miss.
func (h *handlers) contentFirst(fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			if entry, ok := h.opts.Library.Current().Get(r.URL.Path); ok {
				h.serveEntry(w, r, entry)
				return
			}
		}
		fallback.ServeHTTP(w, r)
	})
}

func (h *handlers) serveEntry(w http.ResponseWriter, r *http.Request, entry *content.Entry) {
	if match := r.Header.Get("If-None-Match"); match != "" && match == entry.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("ETag", entry.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(entry.Body)
}

// health confirms process liveness, independent of protocol.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// statusBody matches the documented /status contract.
type statusBody struct {
	Protocol      model.ProtocolKind `json:"protocol"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Counters      statusCounters     `json:"counters"`
}

type statusCounters struct {
	Count uint64  `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.opts.Aggregator.Snapshot(h.opts.Protocol)
	body := statusBody{
		Protocol:      h.opts.Protocol,
		UptimeSeconds: int64(time.Since(h.opts.StartedAt).Seconds()),
		Counters: statusCounters{
			Count: snap.Count,
			AvgMs: snap.AvgMs,
			MinMs: snap.MinMs,
			MaxMs: snap.MaxMs,
		},
	}
	writeJSON(w, body)
}

// protocolInfoBody is the richer diagnostic view served on /quic-info.
type protocolInfoBody struct {
	Protocol       model.ProtocolKind     `json:"protocol"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	ContentEntries int                    `json:"content_entries"`
	Connections    int                    `json:"connections"`
	Handshakes     model.CounterSnapshot  `json:"handshakes"`
	Requests       model.CounterSnapshot  `json:"requests"`
	ConnectionList []model.ConnectionInfo `json:"connection_list"`
}

func (h *handlers) protocolInfo(w http.ResponseWriter, r *http.Request) {
	body := protocolInfoBody{
		Protocol:       h.opts.Protocol,
		UptimeSeconds:  int64(time.Since(h.opts.StartedAt).Seconds()),
		ContentEntries: h.opts.Library.Current().Len(),
		Handshakes:     h.opts.Aggregator.Handshakes(h.opts.Protocol),
		Requests:       h.opts.Aggregator.Snapshot(h.opts.Protocol),
	}
	if h.opts.Conns != nil {
		body.Connections = h.opts.Conns.Count(h.opts.Protocol)
		body.ConnectionList = h.opts.Conns.Infos(h.opts.Protocol)
	}
	writeJSON(w, body)
}

// synthetic streams a deterministic payload of exactly the requested size,
// for generated test downloads.
func (h *handlers) synthetic(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseInt(mux.Vars(r)["size"], 10, 64)
	if err != nil || size < 0 || size > maxSyntheticSize {
		http.Error(w, "400 bad request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	chunk := syntheticChunk()
	remaining := size
	for remaining > 0 {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			// Peer went away mid-stream; the timing layer records this
			// request as incomplete.
			return
		}
		remaining -= n
	}
}

var syntheticBlock = func() []byte {
	block := make([]byte, syntheticChunkSize)
	for i := range block {
		block[i] = byte('a' + i%26)
	}
	return block
}()

func syntheticChunk() []byte {
	return syntheticBlock
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
