package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// StatusPermissionDenied is the close code sent when a listener loses
// access to its path.
const StatusPermissionDenied = 4403

// Serve upgrades the connection and runs it as a hub client listening on
// topic until it closes.
func Serve(w http.ResponseWriter, r *http.Request, hub *Hub, topic string, logger *slog.Logger) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // Devices connect from arbitrary origins
	})
	if err != nil {
		logger.Warn("websocket accept", "error", err)
		return
	}

	client := NewClient(hub, conn, topic)
	client.Run(r.Context())
	conn.Close(ws.StatusNormalClosure, "")
}
