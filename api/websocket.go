package api

import (
	"context"
	"time"

	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/gorilla/websocket"
)

// StartPumps runs the read and write pumps of a connection registered with a
// transport
func (h *Hub) StartPumps(conn *Connection) {
	go func() {
		defer h.pumps.Done()
		h.writePump(conn)
	}()
	go func() {
		defer h.pumps.Done()
		h.readPump(conn)
	}()
}

// readPump handles inbound frames sequentially until the transport fails,
// then runs the disconnect path
func (h *Hub) readPump(c *Connection) {
	ctx := context.Background()
	defer h.disconnect(ctx, c.ID, "connection closed", websocket.CloseNormalClosure)

	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.InactivityTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.Touch(h.now())
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.InactivityTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.Closed() {
				h.logger.Warn("WebSocket read error for connection %s (user %s): %v", c.ID, c.UserID(), err)
			} else {
				h.logger.Debug("WebSocket read loop ended for connection %s: %v", c.ID, err)
			}
			return
		}

		c.Touch(h.now())
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.InactivityTimeout))

		slogging.LogWebSocketMessage(slogging.WSMessageInbound, c.ID, c.UserID(), "", data, h.cfg.MessageLogging)
		h.router.Route(ctx, h, c, data)
	}
}

// writePump is the only writer on the transport. One frame per queued
// message keeps per-recipient order.
func (h *Hub) writePump(c *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				// queue closed by disconnect
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.getCloseCode(), ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write failed for connection %s: %v", c.ID, err)
				c.markFailed()
				return
			}
			slogging.LogWebSocketMessage(slogging.WSMessageOutbound, c.ID, c.UserID(), "", data, h.cfg.MessageLogging)

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("WebSocket ping failed for connection %s: %v", c.ID, err)
				c.markFailed()
				return
			}
		}
	}
}
