package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aboutevan/prello/realtime"
)

// connectedPayload is the first frame of every stream. The client echoes
// the connection id back in the X-Connection-ID header of its mutations
// and in room join requests.
type connectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

func streamEvents(auth Authenticator, registry *realtime.Registry, hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().WriteHeader(http.StatusOK)
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		connID := uuid.NewString()
		ch := hub.Attach(connID)
		defer func() {
			hub.Detach(connID)
			registry.OnDisconnect(connID)
		}()

		hello, _ := sonic.Marshal(connectedPayload{ConnectionID: connID})
		if _, err := c.Response().Write([]byte("event: connected\ndata: ")); err != nil {
			return nil
		}
		if _, err := c.Response().Write(hello); err != nil {
			return nil
		}
		if _, err := c.Response().Write([]byte("\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		if board := c.QueryParam("board"); board != "" {
			registry.Join(connID, board)
		}

		ctx := c.Request().Context()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case ev := <-ch:
				data, err := sonic.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := c.Response().Write([]byte("id: " + ev.ID + "\nevent: " + ev.Kind + "\ndata: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				// Comment frame keeps intermediaries from timing out the
				// connection.
				if _, err := c.Response().Write([]byte(":ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}

type joinRequest struct {
	ConnectionID string `json:"connection_id"`
}

// joinRoom moves a live connection into a board room. A connection
// views one board at a time, so joining leaves the previous room.
func joinRoom(registry *realtime.Registry, hub *realtime.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req joinRequest
		if err := decodeBody(c, &req); err != nil && err != io.EOF {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.ConnectionID == "" {
			req.ConnectionID = c.Request().Header.Get(connectionIDHeader)
		}
		if req.ConnectionID == "" {
			return c.String(http.StatusBadRequest, "connection_id required")
		}
		if !hub.Connected(req.ConnectionID) {
			return c.String(http.StatusNotFound, "unknown connection")
		}
		registry.Join(req.ConnectionID, c.Param("boardID"))
		return c.NoContent(http.StatusNoContent)
	}
}
