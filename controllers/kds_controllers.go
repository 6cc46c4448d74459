package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Sesuaikan dengan kebutuhan keamanan
	},
}

// ChangeHubController serves the websocket every client instance keeps open
// to be woken up on order changes.
type ChangeHubController struct {
	Hub *kds.Hub
}

func NewChangeHubController(hub *kds.Hub) *ChangeHubController {
	return &ChangeHubController{Hub: hub}
}

// Connect -> endpoint WebSocket
func (hc *ChangeHubController) Connect(c *gin.Context) {
	role := c.GetString("role")
	if !models.ValidRole(role) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Printf("Websocket upgrade failed: %v", err)
		return
	}
	hc.Hub.Register(ws, role)
	utils.InfoLogger.Printf("Change hub client connected (role=%s, clients=%d)", role, hc.Hub.Count())

	// Client hanya boleh mengirim client_change; sisanya diabaikan
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg kds.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Event == kds.EventClientChange {
			hc.Hub.Relay(ws, msg)
		}
	}

	hc.Hub.Unregister(ws)
}
