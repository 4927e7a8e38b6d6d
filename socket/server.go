package socket

import (
	"log"

	socketio "github.com/googollee/go-socket.io"
)

// Notifier pushes suggestion lifecycle events to connected members. Each
// user subscribes to their own room; lifecycle transitions are broadcast to
// every member's room so all parties see accepts/declines live.
type Notifier struct {
	Server *socketio.Server
}

// NewSocketServer initializes the Socket.IO server and its room wiring.
func NewSocketServer() *Notifier {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(c socketio.Conn) error {
		log.Println("✅ Socket connected:", c.ID())
		return nil
	})

	// Clients join their own user room after connecting.
	server.OnEvent("/", "subscribe", func(c socketio.Conn, userID string) {
		if userID == "" {
			log.Println("❌ Invalid userId in subscribe request")
			return
		}
		log.Printf("👥 Socket %s subscribed as user %s\n", c.ID(), userID)
		c.Join("user:" + userID)
	})

	server.OnError("/", func(c socketio.Conn, err error) {
		log.Println("⚠️ Socket error:", err)
	})

	server.OnDisconnect("/", func(c socketio.Conn, reason string) {
		log.Println("❌ Socket disconnected:", reason)
	})

	return &Notifier{Server: server}
}

// NotifyMembers broadcasts a suggestion event to each member's room.
func (n *Notifier) NotifyMembers(memberIDs []string, event string, payload interface{}) {
	if n == nil || n.Server == nil {
		return
	}
	for _, userID := range memberIDs {
		n.Server.BroadcastToRoom("/", "user:"+userID, event, payload)
	}
}
