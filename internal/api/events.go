package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/chatterbox/internal/broadcast"
)

// streamEvents handles GET /api/v1/conversations/{id}/events as Server-Sent
// Events. Only events published after the subscription starts are sent.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !conversationIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.hub.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				s.logger.Info("event stream ended", "conversation_id", id, "reason", sub.Err())
				fmt.Fprintf(w, "event: closed\ndata: %q\n\n", sub.Err().Error())
				flusher.Flush()
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn("failed to write event", "conversation_id", id, "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev broadcast.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s-%d\nevent: %s\ndata: %s\n\n", ev.Target, ev.Seq, ev.Kind, data)
	return err
}
