package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
)

// handleLogStream serves GET /api/log/stream as text/event-stream.
//
// The stream opens with a retry hint, replays the ring buffer so a fresh
// client gets recent context, then forwards live events from the source.
// Broadcast is fire-and-drop per client: any write failure removes the
// client. Close ends every open stream.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "retry: 10000\n\n")
	flusher.Flush()

	// Register for Close() teardown.
	closeCh := make(chan struct{})
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.clients[id] = closeCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if ch, ok := s.clients[id]; ok {
			delete(s.clients, id)
			// Only close if Close() has not already done it.
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		s.mu.Unlock()
	}()

	events, cancel := s.opts.Events.Subscribe()
	defer cancel()

	// Initial burst from the ring buffer.
	for _, ev := range s.opts.Events.Ring() {
		if !writeSSEFrame(w, ev) {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closeCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !writeSSEFrame(w, ev) {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEFrame writes one "event:/data:" frame. Reports false on a write
// failure, which drops the client.
func writeSSEFrame(w http.ResponseWriter, ev ipc.Event) bool {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return true // skip the frame, keep the client
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, payload); err != nil {
		return false
	}
	return true
}
