package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/services"
	"github.com/skyhound/recongraph/pkg/store"
)

// mapServiceError maps service- and store-layer errors to HTTP error
// responses. Graph validation failures carry their typed message; unknown
// errors collapse to a logged 500.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, services.ErrInvalidTarget),
		errors.Is(err, services.ErrTargetDenied),
		errors.Is(err, services.ErrInvalidMode),
		errors.Is(err, services.ErrInvalidScope):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMissionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "mission not found")
	case errors.Is(err, store.ErrNodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "node not found")
	case errors.Is(err, store.ErrLayoutNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "layout not found")
	case errors.Is(err, services.ErrNotCancellable):
		return echo.NewHTTPError(http.StatusConflict, "mission is not in a cancellable state")
	case errors.Is(err, services.ErrMissionActive):
		return echo.NewHTTPError(http.StatusConflict, "mission is still active")
	}

	var (
		typeErr     *graph.UnknownTypeError
		relErr      *graph.UnknownRelationError
		propErr     *graph.BadPropertyError
		scopeErr    *graph.OutOfScopeError
		endpointErr *graph.MissingEndpointError
	)
	switch {
	case errors.As(err, &typeErr), errors.As(err, &relErr), errors.As(err, &propErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &scopeErr), errors.As(err, &endpointErr):
		// Well-formed but unsatisfiable against the mission's graph.
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
