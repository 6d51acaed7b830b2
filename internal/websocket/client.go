package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Upper bound for handling one inbound message
	handleTimeout = 10 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	UserID   string
	UserRole string
	conn     *websocket.Conn
	hub      *Hub
	svc      *tracking.Service
	send     chan []byte
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// LocationUpdate is the payload of a device "location_update".
type LocationUpdate struct {
	Coordinates  []float64 `json:"coordinates"` // [longitude, latitude]
	Timestamp    int64     `json:"timestamp"`   // unix ms; 0 means now
	Battery      int       `json:"battery"`
	Speed        float64   `json:"speed"`
	IsCollecting *bool     `json:"isCollecting"`
	Altitude     *float64  `json:"altitude"`
}

// CollectionMark is the payload of a device "mark_collection".
type CollectionMark struct {
	Coordinates []float64 `json:"coordinates"`
	Timestamp   int64     `json:"timestamp"`
	BinIDs      []string  `json:"binIds"`
	Notes       *string   `json:"notes"`
	Photos      []string  `json:"photos"`
}

func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub, svc *tracking.Service) *Client {
	return &Client{
		UserID:   userID,
		UserRole: userRole,
		conn:     conn,
		hub:      hub,
		svc:      svc,
		send:     make(chan []byte, 256),
	}
}

// ReadPump pumps messages from the WebSocket connection to the engine
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch msg.Type {
	case "ping":
		c.reply(Event{Type: EventPong, Data: time.Now().UTC().Format(time.RFC3339)})

	case "location_update":
		if c.UserRole != models.RoleDriver {
			c.replyError("only devices may send location updates")
			return
		}
		var u LocationUpdate
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			c.replyError("invalid location_update payload")
			return
		}
		c.handleLocationUpdate(ctx, u)

	case "mark_collection":
		if c.UserRole != models.RoleDriver {
			c.replyError("only devices may mark collections")
			return
		}
		var m CollectionMark
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			c.replyError("invalid mark_collection payload")
			return
		}
		c.handleCollectionMark(ctx, m)

	default:
		c.replyError("unknown message type " + msg.Type)
	}
}

func (c *Client) handleLocationUpdate(ctx context.Context, u LocationUpdate) {
	if len(u.Coordinates) != 2 {
		c.replyError("coordinates must be [longitude, latitude]")
		return
	}
	report := models.DeviceLocationReport{
		DeviceID:    c.UserID,
		Coordinates: orb.Point{u.Coordinates[0], u.Coordinates[1]},
		Battery:     u.Battery,
		Speed:       u.Speed,
		Altitude:    u.Altitude,
	}
	if u.Timestamp > 0 {
		report.Timestamp = time.UnixMilli(u.Timestamp).UTC()
	}
	if u.IsCollecting != nil {
		report.IsCollecting = *u.IsCollecting
	} else if st, err := c.svc.DeviceStatus(ctx, c.UserID); err == nil {
		report.IsCollecting = st.IsCollecting
	}

	if _, err := c.svc.Ingest(ctx, report); err != nil {
		log.Printf("❌ Rejected location_update from %s: %v", c.UserID, err)
		c.replyError(err.Error())
	}
}

func (c *Client) handleCollectionMark(ctx context.Context, m CollectionMark) {
	if len(m.Coordinates) != 2 {
		c.replyError("coordinates must be [longitude, latitude]")
		return
	}
	in := tracking.CollectionInput{
		DriverID: c.UserID,
		Location: orb.Point{m.Coordinates[0], m.Coordinates[1]},
		BinIDs:   m.BinIDs,
		Notes:    m.Notes,
		Photos:   m.Photos,
	}
	if m.Timestamp > 0 {
		in.Timestamp = time.UnixMilli(m.Timestamp).UTC()
	}

	cp, created, err := c.svc.RecordCollection(ctx, in)
	if err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply(Event{Type: EventAck, Data: map[string]interface{}{
		"collectionPoint": cp,
		"created":         created,
	}})
}

// reply goes through the hub so a closed send channel is never written to.
func (c *Client) reply(e Event) {
	c.hub.BroadcastToUser(c.UserID, e)
}

func (c *Client) replyError(message string) {
	c.reply(Event{Type: EventError, Data: map[string]string{"message": message}})
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON event per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
