package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/services"
)

// createMissionHandler handles POST /missions.
func (s *Server) createMissionHandler(c *echo.Context) error {
	var req CreateMissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	target := req.TargetDomain
	if target == "" {
		target = req.Target
	}
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_domain is required")
	}

	m, err := s.missions.Create(c.Request().Context(), services.CreateRequest{
		Target: target,
		Scope:  req.SeedSubdomains,
		Mode:   req.Mode,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// listMissionsHandler handles GET /missions.
func (s *Server) listMissionsHandler(c *echo.Context) error {
	limit, offset := 50, 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1-500")
		}
		limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be >= 0")
		}
		offset = n
	}
	status := c.QueryParam("status")
	if status != "" {
		switch status {
		case models.StatusQueued, models.StatusRunning, models.StatusCompleted,
			models.StatusFailed, models.StatusCancelled:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+status)
		}
	}

	missions, err := s.missions.List(c.Request().Context(), status, limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MissionListResponse{Missions: missions, Count: len(missions)})
}

// getMissionHandler handles GET /missions/:id.
func (s *Server) getMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	m, err := s.missions.Get(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// cancelMissionHandler handles POST /missions/:id/cancel. Running missions
// tear down when their worker's next heartbeat is rejected.
func (s *Server) cancelMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	m, err := s.missions.Cancel(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		MissionID: m.ID,
		Status:    m.Status,
		Message:   "Mission cancellation requested",
	})
}

// deleteMissionHandler handles DELETE /missions/:id. The mission row and its
// nodes, edges, logs, and layouts cascade away.
func (s *Server) deleteMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	if err := s.missions.Delete(c.Request().Context(), missionID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// missionStatsHandler handles GET /missions/:id/stats.
func (s *Server) missionStatsHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	stats, err := s.graphs.Stats(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// missionEdgesHandler handles GET /missions/:id/edges. An optional node_id
// query parameter restricts the result to edges incident to that node.
func (s *Server) missionEdgesHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	edges, err := s.graphs.Edges(c.Request().Context(), missionID, c.QueryParam("node_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &EdgeListResponse{Edges: edges, Count: len(edges)})
}

// missionExportHandler handles GET /missions/:id/export. The exported
// snapshot is scope-filtered: placeholder and out-of-scope hosts are absent
// along with any edge touching them.
func (s *Server) missionExportHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	snap, err := s.graphs.ExportSnapshot(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snap)
}
