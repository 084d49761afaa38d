package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth gates access; origin is not checked.
		return true
	},
}

// ServeWS returns the handler that authenticates an editor and
// upgrades it onto the hub.
func (h *Hub) ServeWS(sessions SessionController, commands CommandSender, secret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := VerifyToken(token, secret)
		if err != nil {
			h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected editor connection")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, _ := claims["sub"].(string)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, h, sessions, commands, user)
		h.Register(client)
		h.logger.Info().Str("user", user).Str("remote", r.RemoteAddr).Msg("Editor client connected")

		go client.WritePump()
		client.ReadPump()
	}
}
