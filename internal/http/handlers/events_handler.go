// README: WebSocket endpoint streaming trip changes: a snapshot on connect,
// then deltas as writes commit.
package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"carpool/internal/modules/events"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type EventsHandler struct {
	hub *events.Hub
}

func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream upgrades to WebSocket and forwards the subscription feed. Query
// params trip_id and status narrow what the client receives.
func (h *EventsHandler) Stream(c *gin.Context) {
	filter := events.Filter{
		TripID: types.ID(c.Query("trip_id")),
		Status: trip.Status(c.Query("status")),
	}

	sub, err := h.hub.Subscribe(c.Request.Context(), filter)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "subscription unavailable")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Cancel()
		return
	}
	defer conn.Close()
	defer sub.Cancel()

	// Reader goroutine: we send only, but reading surfaces client closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case r, ok := <-sub.C:
			if !ok {
				// Dropped for falling behind; the client reconnects for a
				// fresh snapshot.
				return
			}
			if err := conn.WriteJSON(toTripView(r)); err != nil {
				log.Printf("[http] ws write failed: %v", err)
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
