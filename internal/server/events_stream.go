package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/utils"
)

const eventBufferSize = 100

// streamMessage is the wire form of an event on both stream transports
type streamMessage struct {
	Type      string                 `json:"type"`
	Module    string                 `json:"module,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventsStreamHandler streams bus events to clients over SSE or websocket.
// Both accept ?types=PLAN_EXECUTED,JOB_FAILED to filter.
type EventsStreamHandler struct {
	eventBus  *events.Bus
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:  eventBus,
		heartbeat: 30 * time.Second,
		log:       log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeSSE handles GET /api/events/stream
func (h *EventsStreamHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventChan, unsubscribe := h.subscribe(r.URL.Query().Get("types"))
	defer unsubscribe()

	h.log.Info().Str("transport", "sse").Msg("Client connected to event stream")

	send := func(msg streamMessage) {
		payload, err := json.Marshal(msg)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to encode event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	send(controlMessage("connected"))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Str("transport", "sse").Msg("Client disconnected from event stream")
			return
		case event := <-eventChan:
			send(toStreamMessage(event))
		case <-heartbeat.C:
			send(controlMessage("heartbeat"))
		}
	}
}

// ServeWebSocket handles GET /api/events/ws
func (h *EventsStreamHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	eventChan, unsubscribe := h.subscribe(r.URL.Query().Get("types"))
	defer unsubscribe()

	// clients never send; CloseRead handles control frames and cancels ctx on close
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Str("transport", "websocket").Msg("Client connected to event stream")

	if err := h.write(ctx, conn, controlMessage("connected")); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("transport", "websocket").Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			if err := h.write(ctx, conn, toStreamMessage(event)); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := h.write(ctx, conn, controlMessage("heartbeat")); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		h.log.Debug().Err(err).Msg("Websocket write failed")
		return err
	}
	return nil
}

// subscribe registers a buffered channel for the requested event types
// (all types when filter is empty). Events are dropped when the buffer is full.
func (h *EventsStreamHandler) subscribe(filter string) (<-chan *events.Event, func()) {
	eventTypes := events.AllEventTypes
	if names := utils.ParseCSV(filter); len(names) > 0 {
		eventTypes = make([]events.EventType, 0, len(names))
		for _, name := range names {
			eventTypes = append(eventTypes, events.EventType(name))
		}
	}

	eventChan := make(chan *events.Event, eventBufferSize)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}

	unsubs := make([]func(), 0, len(eventTypes))
	for _, eventType := range eventTypes {
		unsubs = append(unsubs, h.eventBus.Subscribe(eventType, handler))
	}

	return eventChan, func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func toStreamMessage(event *events.Event) streamMessage {
	return streamMessage{
		Type:      string(event.Type),
		Module:    event.Module,
		Timestamp: event.Timestamp.Format(time.RFC3339),
		Data:      event.Data,
	}
}

func controlMessage(kind string) streamMessage {
	return streamMessage{Type: kind, Timestamp: time.Now().Format(time.RFC3339)}
}
