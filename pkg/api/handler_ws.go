package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /ws, upgrading to the channel-based WebSocket
// protocol served by the connection manager.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		// Accept has already written the handshake failure response.
		slog.Warn("WebSocket accept failed", "error", err)
		return nil
	}

	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// wsOriginPatterns builds the handshake origin allowlist from the dashboard
// URL plus any extra configured origins. Patterns match hosts, so URLs are
// reduced to their host part.
func (s *Server) wsOriginPatterns() []string {
	candidates := append([]string{s.cfg.DashboardURL}, s.cfg.AllowedWSOrigins...)
	patterns := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, raw)
	}
	return patterns
}
