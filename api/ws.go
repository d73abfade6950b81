package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aboutevan/prello/realtime"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS is the WebSocket flavor of the event stream. It shares the
// hub and registry with the SSE transport, so a connection behaves the
// same regardless of which transport carried it.
func serveWS(auth Authenticator, registry *realtime.Registry, hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		connID := uuid.NewString()
		ch := hub.Attach(connID)
		defer func() {
			hub.Detach(connID)
			registry.OnDisconnect(connID)
		}()

		hello, _ := sonic.Marshal(connectedPayload{ConnectionID: connID})
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
			return nil
		}

		if board := c.QueryParam("board"); board != "" {
			registry.Join(connID, board)
		}

		// The read pump only notices closure and pong replies. Mutations
		// arrive over HTTP, not this socket.
		done := make(chan struct{})
		go func() {
			defer close(done)
			ws.SetReadLimit(512)
			ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
			})
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev := <-ch:
				data, err := sonic.Marshal(ev)
				if err != nil {
					continue
				}
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return nil
				}
			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return nil
				}
			case <-done:
				return nil
			case <-c.Request().Context().Done():
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return nil
			}
		}
	}
}
