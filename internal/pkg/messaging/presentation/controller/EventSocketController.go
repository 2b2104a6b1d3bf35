package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"stepmatch/internal/infrastructure/push"
)

// EventSocketController handles the websocket endpoint the view layer uses
// to receive session notifications (snapshot invalidations, send failures,
// connectivity changes).
type EventSocketController struct {
	hub *push.Hub
}

func NewEventSocketController(hub *push.Hub) *EventSocketController {
	return &EventSocketController{hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The service binds locally for the signed-in user's UI.
		return true
	},
}

// Handle upgrades the connection and attaches it to the hub. The socket is
// outbound-only; reads only service close/pong traffic.
func (ctl *EventSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just return.
			return
		}

		conn := push.NewConnection(ws)
		ctl.hub.Attach(conn)
		defer func() {
			ctl.hub.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
}
