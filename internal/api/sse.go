package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/treadlink/internal/events"
	"codeberg.org/mutker/treadlink/internal/logger"
)

type sseEvent struct {
	Type string
	Data []byte
}

type sseClient struct {
	id     string
	events chan sseEvent
}

// eventHub fans bus events out to connected SSE clients. Slow clients
// drop events rather than stalling the bus.
type eventHub struct {
	mu      sync.RWMutex
	clients map[string]*sseClient
}

func newEventHub(bus *events.Bus) *eventHub {
	hub := &eventHub{clients: map[string]*sseClient{}}
	bus.Subscribe(hub.broadcast)

	return hub
}

func (h *eventHub) broadcast(event events.Event) {
	name := eventName(event.Type)
	if name == "" {
		return
	}

	data, err := json.Marshal(event.Payload)
	if err != nil {
		logger.Debug().Err(err).Str("event", name).Msg("Undeliverable event payload")
		return
	}
	out := sseEvent{Type: name, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.events <- out:
		default:
			logger.Debug().Str("client", client.id).Str("event", name).Msg("Client buffer full, dropping event")
		}
	}
}

func (h *eventHub) register(client *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.id] = client
}

func (h *eventHub) unregister(client *sseClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.id)
}

func eventName(t events.Type) string {
	switch t {
	case events.EventLinkStateChanged:
		return "link_state"
	case events.EventSampleDecoded:
		return "sample"
	case events.EventSessionUpdated:
		return "session"
	case events.EventSegmentStarted:
		return "segment_started"
	case events.EventSegmentEnded:
		return "segment_ended"
	case events.EventSessionSaved:
		return "session_saved"
	case events.EventSessionRolledOver:
		return "session_rolled_over"
	default:
		return ""
	}
}

func (h *handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		id:     fmt.Sprintf("sse-%d", time.Now().UnixNano()),
		events: make(chan sseEvent, 64),
	}
	h.hub.register(client)
	defer h.hub.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", client.id)
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event := <-client.events:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
