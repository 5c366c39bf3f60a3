package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/metrics"
)

const sseKeepaliveInterval = 15 * time.Second

// sseHandler handles GET /sse/events/:mission_id. Every connection starts
// with a SNAPSHOT frame stamped with the newest buffered event id, then
// streams live events. Clients resume with Last-Event-ID (or the lastEventId
// query parameter); an id that has already left the ring buffer falls back
// to a full replay, and the leading snapshot reconciles whatever was missed.
func (s *Server) sseHandler(c *echo.Context) error {
	missionID := c.Param("mission_id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	lastEventID := int64(0)
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("lastEventId")
	}
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid last event id")
		}
		lastEventID = id
	}

	ctx := c.Request().Context()
	if _, err := s.missions.Get(ctx, missionID); err != nil {
		return mapServiceError(err)
	}

	// Subscribe before reading the snapshot so nothing published in
	// between is lost. The client may see an event twice across the
	// seam; envelope event_ids make that harmless.
	backlog, sub := s.bus.Subscribe(missionID, lastEventID)
	defer sub.Close()

	snapshot, err := s.graphs.Snapshot(ctx, missionID)
	if err != nil {
		return mapServiceError(err)
	}

	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	rc := http.NewResponseController(c.Response())

	snapEnv := events.New(events.EventSnapshot, missionID, "api", snapshot)
	if err := writeSSE(c.Response(), s.bus.LatestID(missionID), snapEnv); err != nil {
		return nil
	}
	for _, ev := range backlog {
		if err := writeSSE(c.Response(), ev.ID, ev.Envelope); err != nil {
			return nil
		}
	}
	if err := rc.Flush(); err != nil {
		return nil
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeSSE(c.Response(), ev.ID, ev.Envelope); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(c.Response(), ": keepalive\n\n"); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		}
	}
}

// writeSSE emits one event-stream frame: the buffer id line, the envelope as
// a single data line, and the blank separator.
func writeSSE(w io.Writer, id int64, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", id, data)
	return err
}
