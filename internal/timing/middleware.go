package timing

import (
	"net/http"
	"time"

	"DualSpectra/internal/model"
)

// ConnSource resolves the transport connection a request arrived on. The
// terminators' connection registry implements it.
type ConnSource interface {
	// ConnFor returns the connection id and handshake latency for the given
	// remote address, if the connection is tracked.
	ConnFor(remoteAddr string) (id string, handshake time.Duration, ok bool)
	// MarkRequest bumps the connection's request count and last activity.
	MarkRequest(remoteAddr string)
	// RequestDone marks one in-flight request as finished.
	RequestDone(remoteAddr string)
}

// Middleware wraps a handler so that every request on the given protocol is
// timed and recorded, independent of which terminator served it.
func Middleware(next http.Handler, rec *Recorder, proto model.ProtocolKind, conns ConnSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var connID string
		var handshake time.Duration
		if conns != nil {
			if id, hs, ok := conns.ConnFor(r.RemoteAddr); ok {
				connID, handshake = id, hs
			}
			conns.MarkRequest(r.RemoteAddr)
			defer conns.RequestDone(r.RemoteAddr)
		}

		timer := rec.Begin(proto, connID, r.URL.Path, handshake)
		tw := &timedWriter{inner: w, timer: timer}

		next.ServeHTTP(tw, r)

		status := tw.status
		if status == 0 {
			status = http.StatusOK
		}
		// A cancelled request context or a failed body write means the peer
		// went away before the response was fully flushed.
		incomplete := tw.writeErr != nil || r.Context().Err() != nil
		timer.End(status, tw.bytes, incomplete)
	})
}

// timedWriter captures status, byte count and the first-byte instant as the
// response flows to the transport.
type timedWriter struct {
	inner    http.ResponseWriter
	timer    *RequestTimer
	status   int
	bytes    int64
	writeErr error
}

func (w *timedWriter) Header() http.Header {
	return w.inner.Header()
}

func (w *timedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	// The status line and headers are the first response bytes handed to the
	// transport; 304 and HEAD responses never write a body.
	w.timer.MarkFirstByte()
	w.inner.WriteHeader(status)
}

func (w *timedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if len(p) > 0 {
		w.timer.MarkFirstByte()
	}
	n, err := w.inner.Write(p)
	w.bytes += int64(n)
	if err != nil && w.writeErr == nil {
		w.writeErr = err
	}
	return n, err
}

// Flush lets handlers stream through the wrapper; both terminators' response
// writers implement it.
func (w *timedWriter) Flush() {
	if f, ok := w.inner.(http.Flusher); ok {
		f.Flush()
	}
}
