package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/services"
	"github.com/skyhound/recongraph/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "invalid target maps to 400",
			err:        fmt.Errorf("create: %w", services.ErrInvalidTarget),
			expectCode: http.StatusBadRequest,
			expectMsg:  "invalid mission target",
		},
		{
			name:       "denied target maps to 400",
			err:        services.ErrTargetDenied,
			expectCode: http.StatusBadRequest,
			expectMsg:  "rules of engagement",
		},
		{
			name:       "invalid scope maps to 400",
			err:        fmt.Errorf("wrapped: %w", services.ErrInvalidScope),
			expectCode: http.StatusBadRequest,
			expectMsg:  "outside target domain",
		},
		{
			name:       "mission not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrMissionNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "mission not found",
		},
		{
			name:       "node not found maps to 404",
			err:        store.ErrNodeNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "node not found",
		},
		{
			name:       "layout not found maps to 404",
			err:        store.ErrLayoutNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "layout not found",
		},
		{
			name:       "not cancellable maps to 409",
			err:        services.ErrNotCancellable,
			expectCode: http.StatusConflict,
			expectMsg:  "mission is not in a cancellable state",
		},
		{
			name:       "active mission maps to 409",
			err:        fmt.Errorf("delete: %w", services.ErrMissionActive),
			expectCode: http.StatusConflict,
			expectMsg:  "mission is still active",
		},
		{
			name:       "unknown node type maps to 400",
			err:        fmt.Errorf("upsert: %w", &graph.UnknownTypeError{Type: "GADGET"}),
			expectCode: http.StatusBadRequest,
			expectMsg:  `unknown node type "GADGET"`,
		},
		{
			name:       "unknown relation maps to 400",
			err:        &graph.UnknownRelationError{Relation: "OWNS"},
			expectCode: http.StatusBadRequest,
			expectMsg:  `unknown edge relation "OWNS"`,
		},
		{
			name:       "bad property maps to 400",
			err:        &graph.BadPropertyError{Key: "risk_score", Msg: "must be a number"},
			expectCode: http.StatusBadRequest,
			expectMsg:  `bad property "risk_score"`,
		},
		{
			name:       "out of scope maps to 422",
			err:        &graph.OutOfScopeError{ID: "subdomain:evil.test", Target: "colombes.fr"},
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "out of scope",
		},
		{
			name:       "missing edge endpoint maps to 422",
			err:        fmt.Errorf("edge: %w", &graph.MissingEndpointError{NodeID: "subdomain:ghost.colombes.fr"}),
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "does not exist",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
