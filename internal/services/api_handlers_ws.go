package services

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"styler/internal/generation"
	"styler/utils"
)

func (a *Api) WsUpgrade() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			ctx.Locals("allowed", true)
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (a *Api) Notifications() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {

		sessionID := conn.Params("id")
		if !utils.ValidSessionID(sessionID) {
			conn.WriteMessage(websocket.CloseMessage, []byte("invalid session id"))
			conn.Close()
			return
		}

		client := NewWSClient(sessionID, conn)
		a.hub.Add(client)
		a.logger.Debug("websocket connected", "session", sessionID)
		a.replay(sessionID)

		written := make(chan struct{})
		go func() {
			defer close(written)
			client.writeLoop()
		}()
		client.readPump(func() {
			a.hub.Remove(client)
			a.logger.Debug("websocket disconnected", "session", sessionID)
		})
		// The connection must not be handed back while writeLoop still uses it.
		<-written
	})
}

// replay queues the current job states for a late joiner. It runs under the
// orchestrator lock, so any live update queued after it is newer.
func (a *Api) replay(sessionID string) {
	orch, ok := a.sessions.Get(sessionID)
	if !ok {
		return
	}
	orch.Replay(func(results []generation.JobResult) {
		for _, r := range results {
			v := jobView(sessionID, r)
			a.hub.SendTo(sessionID, WSEvent{Type: string(generation.EventJobUpdated), SessionID: sessionID, Job: &v})
		}
	})
}
