package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getLayoutHandler handles GET /missions/:id/layout. Layouts are named; the
// name defaults to "default" when the query parameter is absent.
func (s *Server) getLayoutHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}
	name := c.QueryParam("name")
	if name == "" {
		name = "default"
	}

	layout, err := s.layouts.Get(c.Request().Context(), missionID, name)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, layout)
}

// putLayoutHandler handles PUT /missions/:id/layout. The layout blob is
// opaque to the server; it is stored verbatim and returned as-is.
func (s *Server) putLayoutHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	var req LayoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "layout data is required")
	}
	name := req.Name
	if name == "" {
		name = "default"
	}

	ctx := c.Request().Context()
	if _, err := s.missions.Get(ctx, missionID); err != nil {
		return mapServiceError(err)
	}
	if err := s.layouts.Save(ctx, missionID, name, req.Data); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
