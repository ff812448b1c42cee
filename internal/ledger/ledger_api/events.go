package ledger_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"ms-tiket/internal/ledger"
	"ms-tiket/internal/models"
	"net/http"
	"strconv"
	"time"
)

// StreamEvents streams committed ledger events as Server-Sent Events.
// ?type_id= narrows the stream to one ticket type.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		h.fail(w, http.StatusServiceUnavailable, "event stream unavailable", errors.New("no event emitter configured"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, http.StatusInternalServerError, "streaming unsupported", errors.New("response writer cannot flush"))
		return
	}

	ctx := r.Context()
	scope := "all"
	var eventChan <-chan models.LedgerEvent

	if raw := r.URL.Query().Get("type_id"); raw != "" {
		typeID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || typeID < 0 {
			h.fail(w, http.StatusBadRequest, "invalid type_id", fmt.Errorf("%w: type_id %q", ledger.ErrInvalidInput, raw))
			return
		}
		scope = raw
		eventChan = h.Events.SubscribeToType(ctx, typeID)
	} else {
		eventChan = h.Events.SubscribeAll(ctx)
	}

	// streams outlive the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.Logger.Debug("SSE", fmt.Sprintf("Cannot clear write deadline: %v", err))
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"scope\":%q}\n\n", scope)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to ledger events (scope %s)", scope))

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for scope %s", scope))
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize ledger event %s: %v", event.EventID, err))
				continue
			}

			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.EventID, event.Kind, data)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from ledger events (scope %s)", scope))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
