package api

import (
	"net/http"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/auth"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The endpoint sits behind staff auth; origin is not the gate.
		return true
	},
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	if d.Hub == nil {
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "Event hub not running", d.Log)
		return
	}

	clientID := auth.GetStaffEmail(r.Context())
	if clientID == "" {
		clientID = "anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	wsConn := ws.NewConn(conn, d.Hub, clientID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}
