package handlers

import (
	"log"
	"net/http"
	"time"

	"quickbite/internal/middleware"
	"quickbite/internal/services"
	"quickbite/internal/tracking"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type TrackingHandler struct {
	trackingService services.TrackingService
	heartbeat       time.Duration
	upgrader        websocket.Upgrader
}

func NewTrackingHandler(trackingService services.TrackingService, heartbeat time.Duration) *TrackingHandler {
	return &TrackingHandler{
		trackingService: trackingService,
		heartbeat:       heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients connect from app schemes, not browser origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// LastPosition is the REST recovery path: a client reconnecting mid-delivery
// fetches the last known sample instead of waiting for the next live one.
func (h *TrackingHandler) LastPosition(c *gin.Context) {
	principal, _ := middleware.PrincipalFromContext(c)

	pos, err := h.trackingService.LastPosition(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"position": pos})
}

type positionSample struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Publish is the delivery agent's long-lived connection. Each message is one
// position sample; rejections that are not transient close the socket.
func (h *TrackingHandler) Publish(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	orderID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade publisher connection: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(h.heartbeat))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.heartbeat))
		return nil
	})

	for {
		var sample positionSample
		if err := conn.ReadJSON(&sample); err != nil {
			// Agent disconnect does not end the order; the room stays open.
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.heartbeat))

		err := h.trackingService.Publish(c.Request.Context(), principal.UID, orderID, sample.Lat, sample.Lng)
		if err != nil {
			conn.WriteJSON(gin.H{"error": err.Error()})
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "publish rejected"))
			return
		}
	}
}

// Subscribe streams the order's tracking room to the customer until the
// room closes or the client goes silent past the heartbeat window.
func (h *TrackingHandler) Subscribe(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}
	orderID := c.Param("id")

	sub, cancel, last, err := h.trackingService.Subscribe(c.Request.Context(), principal, orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade subscriber connection: %v", err)
		return
	}
	defer conn.Close()

	if last != nil {
		conn.WriteJSON(tracking.Event{Type: tracking.EventPosition, Position: last})
	}

	conn.SetReadDeadline(time.Now().Add(h.heartbeat))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.heartbeat))
		return nil
	})

	// Drain control frames; a read error means the client is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.heartbeat / 2)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if evt.Type == tracking.EventClosed {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracking ended"))
				return
			}
		}
	}
}
