package stream

import (
	"fmt"
	"net/http"
	"time"
)

type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{w: w, rc: http.NewResponseController(w), flusher: f}, nil
}

func (sw *sseWriter) data(b []byte) error {
	_ = sw.rc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", b); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *sseWriter) comment(text string) error {
	_ = sw.rc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// ServeSSE streams an init snapshot followed by one data line per
// registry mutation, with a comment heartbeat while idle.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	sw, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, snapshot := h.open("sse")
	reason := "client"
	defer func() { h.close(sub, reason) }()

	first, err := encodeInit(snapshot)
	if err != nil {
		h.logger.Error("encoding snapshot", "err", err)
		reason = "encode"
		return
	}
	if err := sw.data(first); err != nil {
		reason = "write"
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-sub.ch:
			if !ok {
				h.logger.Warn("dropping slow subscriber", "subscriber", sub.id, "transport", sub.transport)
				return
			}
			b, err := encodeUpdate(u)
			if err != nil {
				h.logger.Error("encoding call update", "call_id", u.call.ID, "err", err)
				continue
			}
			if err := sw.data(b); err != nil {
				reason = "write"
				return
			}
		case <-ticker.C:
			if err := sw.comment("heartbeat"); err != nil {
				reason = "write"
				return
			}
		}
	}
}
