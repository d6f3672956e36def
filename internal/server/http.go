package server

import (
	"net/http"

	"github.com/warband/battlecore/internal/transport/websocket"
)

// Path is where observers connect.
const Path = "/battle"

// Handler upgrades observer requests to websockets and serves them until
// they disconnect.
func (h *Hub) Handler(up *websocket.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r)
		if err != nil {
			h.logger.Warn("Rejected observer", "remote", r.RemoteAddr, "error", err)
			return
		}
		_ = h.Serve(r.Context(), conn)
	})
}

// NewMux routes Path to the hub.
func (h *Hub) NewMux(secret string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, h.Handler(websocket.NewUpgrader(secret, h.logger)))
	return mux
}
