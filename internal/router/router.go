package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"DualSpectra/internal/content"
	"DualSpectra/internal/metrics"
	"DualSpectra/internal/model"
	"DualSpectra/internal/timing"
)

// ConnView is the read-only slice of the connection registry the
// protocol-info endpoint needs.
type ConnView interface {
	Infos(kind model.ProtocolKind) []model.ConnectionInfo
	Count(kind model.ProtocolKind) int
}

// Options configures one listener's handler chain. Each terminator gets its
// own chain so the protocol label is fixed at build time.
type Options struct {
	Protocol   model.ProtocolKind
	Library    *content.Library
	Aggregator *metrics.Aggregator
	Recorder   *timing.Recorder
	Conns      ConnView
	ConnSource timing.ConnSource
	StartedAt  time.Time

	// AltSvcPort, when nonzero, advertises HTTP/3 availability on every
	// response. Set on the HTTP/2 listener only.
	AltSvcPort int
}

// New builds the handler chain for one terminator: timing around the full
// request lifecycle, then the traversal guard, then content-first routing
// with the built-in diagnostics as fallback.
func New(opts Options) http.Handler {
	h := newHandlers(opts)

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/quic-info", h.protocolInfo).Methods(http.MethodGet)
	r.Handle("/metrics", opts.Aggregator.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/gen/{size:[0-9]+}", h.synthetic).Methods(http.MethodGet)

	var chain http.Handler = h.contentFirst(r)
	chain = pathGuard(chain)
	if opts.AltSvcPort > 0 {
		chain = altSvc(chain, opts.AltSvcPort)
	}
	return timing.Middleware(chain, opts.Recorder, opts.Protocol, opts.ConnSource)
}

// pathGuard rejects any path containing parent-directory segments before it
// can reach the content store. URL-encoded dots are already decoded in
// URL.Path at this point.
func pathGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "..") || strings.Contains(strings.ToLower(r.URL.EscapedPath()), "%2e%2e") {
			http.Error(w, "400 bad request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// altSvc advertises the HTTP/3 listener on every HTTP/2 response.
func altSvc(next http.Handler, port int) http.Handler {
	value := fmt.Sprintf(`h3=":%d"; ma=86400`, port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Alt-Svc", value)
		next.ServeHTTP(w, r)
	})
}
