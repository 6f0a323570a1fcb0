package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jinfei29/mychat-realtime/internal/models"
	"github.com/jinfei29/mychat-realtime/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// WS serves the realtime endpoint and ties each accepted connection
// into the presence directory.
type WS struct {
	presence *presence.Directory
}

func NewWS(dir *presence.Directory) *WS {
	return &WS{presence: dir}
}

// wsClient is one live connection. It implements presence.Conn; every
// outbound event goes through the buffered Send channel so the write
// pump is the only goroutine touching the socket, which also preserves
// the server's send order per connection.
type wsClient struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// HandleConnection upgrades the request and registers the user as
// online. JWTAuth runs first, so user_id is always set here.
func (h *WS) HandleConnection(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}

	// Last-connect-wins: this replaces any previous connection for the
	// user and broadcasts the new online set, including to this client.
	h.presence.Register(userID, client)
	log.Printf("User %s connected", userID)

	go client.writePump()
	go client.readPump(h.presence)
}

// Push implements presence.Conn. It frames the event and hands it to
// the write pump without blocking; a full buffer drops the event and
// reports false.
func (cl *wsClient) Push(event string, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal %s payload: %v", event, err)
		return false
	}
	frame, err := json.Marshal(models.Event{Name: event, Data: payload})
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", event, err)
		return false
	}

	select {
	case cl.Send <- frame:
		return true
	default:
		return false
	}
}

// readPump exists to observe the connection: clients talk to the server
// over REST, so inbound frames are drained and ignored. Its exit is the
// disconnect signal that removes the presence entry.
func (cl *wsClient) readPump(dir *presence.Directory) {
	defer func() {
		// Guarded removal: if the user already reconnected, the newer
		// entry stays.
		dir.Unregister(cl.UserID, cl)
		cl.Conn.Close()
		log.Printf("User %s disconnected", cl.UserID)
	}()

	cl.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.Conn.SetPongHandler(func(string) error {
		cl.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := cl.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for user %s: %v", cl.UserID, err)
			}
			break
		}
	}
}

func (cl *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		cl.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.Send:
			cl.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				cl.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := cl.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			cl.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
