package services

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"

	"styler/utils"
)

const (
	reqIDKey     = "reqId"
	reqIDHeader  = "X-Request-Id"
	maxUserAgent = 200
)

// RequestLogger tags every request with an id and logs one line when it
// ends. Polling and websocket upgrades log at debug so a busy result page
// does not flood the info log; failures log at warn or error by status.
func RequestLogger() fiber.Handler {
	base := log.With("component", "http")

	return func(c *fiber.Ctx) error {
		reqID := requestID(c)
		c.Locals(reqIDKey, reqID)
		c.Set(reqIDHeader, reqID)

		start := time.Now()
		// fiber reuses the request buffers once the handler returns.
		path := strings.Clone(c.Path())
		method := c.Method()
		fields := []any{"reqId", reqID, "method", method, "path", path}
		if id := sessionFromPath(path); id != "" {
			fields = append(fields, "session", id)
		}

		base.Debug("request started", append(fields, "ip", c.IP(), "ua", userAgent(c))...)

		err := c.Next()
		status := c.Response().StatusCode()
		fields = append(fields, "status", status, "dur", time.Since(start).String())

		if err != nil {
			base.Error("request failed", append(fields, "err", err)...)
			return err
		}
		fields = append(fields, "bytes", len(c.Response().Body()))
		base.Log(completionLevel(method, path, status), "request completed", fields...)
		return nil
	}
}

// requestID keeps a caller supplied id when it is safe to echo into logs and
// headers, and mints one otherwise.
func requestID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(reqIDHeader)); utils.ValidSessionID(id) {
		return strings.Clone(id)
	}
	return utils.NewRequestID()
}

// sessionFromPath extracts the id from /sessions/:id/... and /ws/:id.
func sessionFromPath(path string) string {
	for _, prefix := range []string{"/sessions/", "/ws/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			id, _, _ := strings.Cut(rest, "/")
			if utils.ValidSessionID(id) {
				return id
			}
		}
	}
	return ""
}

func completionLevel(method, path string, status int) log.Level {
	switch {
	case status >= fiber.StatusInternalServerError:
		return log.ErrorLevel
	case status >= fiber.StatusBadRequest:
		return log.WarnLevel
	case path == "/health", strings.HasPrefix(path, "/ws/"):
		return log.DebugLevel
	case method == fiber.MethodGet && strings.HasSuffix(path, "/results"):
		return log.DebugLevel
	default:
		return log.InfoLevel
	}
}

func userAgent(c *fiber.Ctx) string {
	ua := strings.TrimSpace(string(c.Context().UserAgent()))
	if len(ua) > maxUserAgent {
		ua = ua[:maxUserAgent]
	}
	return ua
}

func ReqID(c *fiber.Ctx) string {
	if s, ok := c.Locals(reqIDKey).(string); ok {
		return s
	}
	return ""
}

// HttpLogger is the per-handler logger; it carries the request id and the
// session so handler lines can be joined with the access line.
func HttpLogger(action string, c *fiber.Ctx) *log.Logger {
	fields := []any{
		"component", "api",
		"action", action,
		"reqId", ReqID(c),
		"method", c.Method(),
		"path", c.Path(),
	}
	if id := c.Params("id"); id != "" {
		fields = append(fields, "session", id)
	}
	return log.With(fields...)
}
