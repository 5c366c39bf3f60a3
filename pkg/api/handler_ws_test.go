package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/skyhound/recongraph/pkg/config"
)

func TestWSHandler_Unavailable(t *testing.T) {
	// No connection manager wired: the endpoint must refuse cleanly.
	s := &Server{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.wsHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok, "expected echo.HTTPError") {
			assert.Equal(t, http.StatusServiceUnavailable, he.Code)
		}
	}
}

func TestWSOriginPatterns(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want []string
	}{
		{
			name: "dashboard URL reduced to host",
			cfg:  config.Config{DashboardURL: "https://dash.example.test:5173/app"},
			want: []string{"dash.example.test:5173"},
		},
		{
			name: "extra origins appended",
			cfg: config.Config{
				DashboardURL:     "http://localhost:5173",
				AllowedWSOrigins: []string{"https://ops.example.test", "grafana.example.test"},
			},
			want: []string{"localhost:5173", "ops.example.test", "grafana.example.test"},
		},
		{
			name: "bare host pattern passes through",
			cfg:  config.Config{DashboardURL: "dash.internal"},
			want: []string{"dash.internal"},
		},
		{
			name: "empty entries are skipped",
			cfg:  config.Config{AllowedWSOrigins: []string{""}},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: &tt.cfg}
			assert.Equal(t, tt.want, s.wsOriginPatterns())
		})
	}
}
