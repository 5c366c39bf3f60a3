package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestCreateMissionHandler_Validation(t *testing.T) {
	// We only test request validation (returns 400 before hitting the
	// service). Happy-path is covered by integration tests with a real
	// database.
	s := &Server{}

	t.Run("missing target returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{"mode":"passive"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.createMissionHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok, "expected echo.HTTPError") {
				assert.Equal(t, http.StatusBadRequest, he.Code)
				assert.Contains(t, he.Message, "target_domain is required")
			}
		}
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{"target_domain":`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.createMissionHandler(c)
		if assert.Error(t, err) {
			he, ok := err.(*echo.HTTPError)
			if assert.True(t, ok) {
				assert.Equal(t, http.StatusBadRequest, he.Code)
			}
		}
	})
}

func TestListMissionsHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name    string
		query   string
		wantErr int
		errMsg  string
	}{
		{
			name:    "limit zero",
			query:   "limit=0",
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid limit",
		},
		{
			name:    "limit above cap",
			query:   "limit=501",
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid limit",
		},
		{
			name:    "limit not a number",
			query:   "limit=many",
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid limit",
		},
		{
			name:    "negative offset",
			query:   "offset=-1",
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid offset",
		},
		{
			name:    "invalid status value",
			query:   "status=bogus",
			wantErr: http.StatusBadRequest,
			errMsg:  "invalid status: bogus",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/missions?"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.listMissionsHandler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, tt.wantErr, he.Code)
					assert.Contains(t, he.Message, tt.errMsg)
				}
			}
		})
	}
}

func TestMissionHandlers_RequireID(t *testing.T) {
	s := &Server{}

	handlers := []struct {
		name    string
		handler func(*echo.Context) error
	}{
		{"get", s.getMissionHandler},
		{"cancel", s.cancelMissionHandler},
		{"delete", s.deleteMissionHandler},
		{"stats", s.missionStatsHandler},
		{"edges", s.missionEdgesHandler},
		{"export", s.missionExportHandler},
		{"get layout", s.getLayoutHandler},
	}

	for _, tt := range handlers {
		t.Run(tt.name+" without mission id returns 400", func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/missions//", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := tt.handler(c)
			if assert.Error(t, err) {
				he, ok := err.(*echo.HTTPError)
				if assert.True(t, ok, "expected echo.HTTPError") {
					assert.Equal(t, http.StatusBadRequest, he.Code)
					assert.Contains(t, he.Message, "mission id")
				}
			}
		})
	}
}
