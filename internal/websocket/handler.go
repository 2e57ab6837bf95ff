package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// AttemptFunc returns the login attempt a request belongs to, or "" when it
// has none.
type AttemptFunc func(r *http.Request) string

// HandleStatus upgrades a waiting page to a websocket and keeps it
// subscribed to its attempt until the page goes away.
func HandleStatus(hub *Hub, attemptOf AttemptFunc, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := attemptOf(r)
		if attemptID == "" {
			http.Error(w, "no login in progress", http.StatusNotFound)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, attemptID).Run(r.Context())
	}
}
