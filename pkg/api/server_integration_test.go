package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhound/recongraph/pkg/config"
	"github.com/skyhound/recongraph/pkg/database"
	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/models"
	"github.com/skyhound/recongraph/pkg/redact"
	"github.com/skyhound/recongraph/pkg/services"
	"github.com/skyhound/recongraph/pkg/store"
	testutil "github.com/skyhound/recongraph/test/util"
)

// newTestAPI builds a full server over an isolated test database and serves
// it from an httptest listener.
func newTestAPI(t *testing.T) (string, *events.Bus) {
	t.Helper()

	db := testutil.SetupTestDatabase(t)
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	cfg := &config.Config{
		DashboardURL: "http://localhost:5173",
		Queue:        config.DefaultQueueConfig(),
		Recon:        config.DefaultReconConfig(),
		ROE:          config.DefaultROEConfig(),
		Reasoner:     config.DefaultReasonerConfig(),
		Retention:    config.DefaultRetentionConfig(),
	}

	graphs := store.NewGraphStore(db, bus, redact.NewRedactor())
	layouts := store.NewLayoutStore(db)
	missions := services.NewMissionService(store.NewMissionStore(db), graphs, bus, cfg)

	s := NewServer(cfg, database.NewClientFromDB(db), missions, graphs, layouts, bus)
	require.NoError(t, s.ValidateWiring())

	ts := httptest.NewServer(s.echo)
	t.Cleanup(ts.Close)
	return ts.URL, bus
}

// doJSON issues a request with a JSON body and decodes the JSON response.
func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp
}

func createMissionHTTP(t *testing.T, baseURL, target string) *models.Mission {
	t.Helper()
	var m models.Mission
	resp := doJSON(t, http.MethodPost, baseURL+"/missions",
		map[string]any{"target_domain": target}, &m)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, m.ID)
	return &m
}

func TestAPI_MissionLifecycle(t *testing.T) {
	baseURL, _ := newTestAPI(t)

	m := createMissionHTTP(t, baseURL, "colombes.fr")
	assert.Equal(t, "colombes.fr", m.Target)
	assert.Equal(t, models.StatusQueued, m.Status)

	var got models.Mission
	resp := doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID, nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, m.ID, got.ID)

	var list MissionListResponse
	resp = doJSON(t, http.MethodGet, baseURL+"/missions?status=QUEUED", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, m.ID, list.Missions[0].ID)

	// Deleting a non-terminal mission conflicts.
	resp = doJSON(t, http.MethodDelete, baseURL+"/missions/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var cancel CancelResponse
	resp = doJSON(t, http.MethodPost, baseURL+"/missions/"+m.ID+"/cancel", nil, &cancel)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, cancel.Status)

	// A second cancel conflicts: the mission is already terminal.
	resp = doJSON(t, http.MethodPost, baseURL+"/missions/"+m.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, baseURL+"/missions/"+m.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateMissionValidation(t *testing.T) {
	baseURL, _ := newTestAPI(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "placeholder domain rejected",
			body: map[string]any{"target_domain": "example.com"},
			want: http.StatusBadRequest,
		},
		{
			name: "scope outside target rejected",
			body: map[string]any{
				"target_domain":   "colombes.fr",
				"seed_subdomains": []string{"api.attacker.net"},
			},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown mode rejected",
			body: map[string]any{"target_domain": "colombes.fr", "mode": "yolo"},
			want: http.StatusBadRequest,
		},
		{
			name: "target alias accepted",
			body: map[string]any{"target": "colombes.fr"},
			want: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, baseURL+"/missions", tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPI_GraphEndpoints(t *testing.T) {
	baseURL, _ := newTestAPI(t)
	m := createMissionHTTP(t, baseURL, "colombes.fr")

	upsertNode := func(id, typ string, props map[string]any) *http.Response {
		return doJSON(t, http.MethodPost, baseURL+"/nodes", map[string]any{
			"mission_id": m.ID,
			"id":         id,
			"type":       typ,
			"properties": props,
		}, nil)
	}

	resp := upsertNode("domain:colombes.fr", "DOMAIN", map[string]any{"host": "colombes.fr"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = upsertNode("subdomain:api.colombes.fr", "SUBDOMAIN",
		map[string]any{"host": "api.colombes.fr", "risk_score": 72.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = upsertNode("subdomain:www.colombes.fr", "SUBDOMAIN",
		map[string]any{"host": "www.colombes.fr", "risk_score": 10})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("out of scope node rejected", func(t *testing.T) {
		resp := upsertNode("subdomain:evil.attacker.net", "SUBDOMAIN",
			map[string]any{"host": "evil.attacker.net"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("edge with alias fields", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, baseURL+"/edges", map[string]any{
			"mission_id": m.ID,
			"source_id":  "domain:colombes.fr",
			"target_id":  "subdomain:api.colombes.fr",
			"type":       "HAS_SUBDOMAIN",
		}, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("edge to missing endpoint is unprocessable", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, baseURL+"/edges", map[string]any{
			"mission_id": m.ID,
			"from_node":  "domain:colombes.fr",
			"to_node":    "subdomain:ghost.colombes.fr",
			"relation":   "HAS_SUBDOMAIN",
		}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("edge batch reports per-element results", func(t *testing.T) {
		var batch EdgeBatchResponse
		resp := doJSON(t, http.MethodPost, baseURL+"/edges/batch", []map[string]any{
			{
				"mission_id": m.ID,
				"from_node":  "domain:colombes.fr",
				"to_node":    "subdomain:www.colombes.fr",
				"relation":   "HAS_SUBDOMAIN",
			},
			{
				"mission_id": m.ID,
				"from_node":  "domain:colombes.fr",
				"to_node":    "subdomain:nope.colombes.fr",
				"relation":   "HAS_SUBDOMAIN",
			},
			{
				"mission_id": m.ID,
				"from_node":  "domain:colombes.fr",
				"relation":   "HAS_SUBDOMAIN",
			},
		}, &batch)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, batch.Succeeded)
		assert.Equal(t, 2, batch.Failed)
		require.Len(t, batch.Results, 3)
		assert.True(t, batch.Results[0].OK)
		assert.Contains(t, batch.Results[1].Error, "does not exist")
		assert.Contains(t, batch.Results[2].Error, "edge endpoints are required")
	})

	t.Run("node query filters by type and risk floor", func(t *testing.T) {
		var page store.QueryPage
		resp := doJSON(t, http.MethodPost, baseURL+"/nodes/query", map[string]any{
			"mission_id":     m.ID,
			"node_types":     []string{"SUBDOMAIN"},
			"risk_score_min": 50,
		}, &page)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, "subdomain:api.colombes.fr", page.Nodes[0].ID)
	})

	t.Run("patch node properties", func(t *testing.T) {
		resp := doJSON(t, http.MethodPatch, baseURL+"/nodes/subdomain:api.colombes.fr", map[string]any{
			"mission_id": m.ID,
			"properties": map[string]any{"status": "live"},
		}, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doJSON(t, http.MethodPatch, baseURL+"/nodes/subdomain:ghost.colombes.fr", map[string]any{
			"mission_id": m.ID,
			"properties": map[string]any{"status": "live"},
		}, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("stats and edges", func(t *testing.T) {
		var stats store.GraphStats
		resp := doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/stats", nil, &stats)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3, stats.NodeCount)
		assert.Equal(t, 2, stats.EdgeCount)
		assert.Equal(t, 2, stats.NodesByType["SUBDOMAIN"])

		var edges EdgeListResponse
		resp = doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/edges?node_id=subdomain:api.colombes.fr", nil, &edges)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, edges.Count)
	})

	t.Run("export returns the snapshot shape", func(t *testing.T) {
		var snap events.SnapshotPayload
		resp := doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/export", nil, &snap)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, snap.Nodes, 3)
		assert.Len(t, snap.Edges, 2)
	})
}

func TestAPI_CuratorOverride(t *testing.T) {
	baseURL, _ := newTestAPI(t)
	m := createMissionHTTP(t, baseURL, "colombes.fr")

	resp := doJSON(t, http.MethodPost, baseURL+"/nodes", map[string]any{
		"mission_id": m.ID,
		"id":         "vuln:api.colombes.fr:idor",
		"type":       "VULNERABILITY",
		"properties": map[string]any{"type": "IDOR", "status": "POSSIBLE"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	patch := func(props map[string]any, override bool) *http.Response {
		body := map[string]any{"mission_id": m.ID, "properties": props}
		if override {
			body["curator_override"] = true
		}
		return doJSON(t, http.MethodPatch, baseURL+"/nodes/vuln:api.colombes.fr:idor", body, nil)
	}

	// Forward movement needs no override.
	resp = patch(map[string]any{"status": "LIKELY"}, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Marking false positive is a curator-only transition.
	resp = patch(map[string]any{"status": "FALSE_POSITIVE"}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = patch(map[string]any{"status": "FALSE_POSITIVE"}, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got graph.Node
	resp = doJSON(t, http.MethodPost, baseURL+"/nodes", map[string]any{
		"mission_id": m.ID,
		"id":         "vuln:api.colombes.fr:idor",
		"type":       "VULNERABILITY",
		"properties": map[string]any{},
	}, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FALSE_POSITIVE", got.Properties["status"])
}

func TestAPI_BatchUpsertAtomicity(t *testing.T) {
	baseURL, _ := newTestAPI(t)
	m := createMissionHTTP(t, baseURL, "colombes.fr")

	var out BatchUpsertResponse
	resp := doJSON(t, http.MethodPost, baseURL+"/graph/batchUpsert", map[string]any{
		"mission_id": m.ID,
		"nodes": []map[string]any{
			{"id": "domain:colombes.fr", "type": "DOMAIN", "properties": map[string]any{"host": "colombes.fr"}},
			{"id": "subdomain:api.colombes.fr", "type": "SUBDOMAIN", "properties": map[string]any{"host": "api.colombes.fr"}},
		},
		"edges": []map[string]any{
			{"from_node": "domain:colombes.fr", "to_node": "subdomain:api.colombes.fr", "relation": "HAS_SUBDOMAIN"},
		},
	}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out.NodesCreated)
	assert.Equal(t, 1, out.EdgesCreated)

	// One invalid element rejects the whole batch and leaves the graph
	// untouched.
	resp = doJSON(t, http.MethodPost, baseURL+"/graph/batchUpsert", map[string]any{
		"mission_id": m.ID,
		"nodes": []map[string]any{
			{"id": "subdomain:dev.colombes.fr", "type": "SUBDOMAIN", "properties": map[string]any{"host": "dev.colombes.fr"}},
			{"id": "x:bogus", "type": "GADGET"},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var stats store.GraphStats
	resp = doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, stats.NodeCount, "failed batch must not leave partial writes")
}

func TestAPI_Layouts(t *testing.T) {
	baseURL, _ := newTestAPI(t)
	m := createMissionHTTP(t, baseURL, "colombes.fr")

	layoutData := map[string]any{"positions": map[string]any{"domain:colombes.fr": []float64{12, 40}}}

	resp := doJSON(t, http.MethodPut, baseURL+"/missions/"+m.ID+"/layout",
		map[string]any{"data": layoutData}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var layout store.Layout
	resp = doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/layout", nil, &layout)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "default", layout.Name)
	assert.Contains(t, string(layout.Data), "domain:colombes.fr")

	resp = doJSON(t, http.MethodGet, baseURL+"/missions/"+m.ID+"/layout?name=overview", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, baseURL+"/missions/no-such-mission/layout",
		map[string]any{"data": layoutData}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DataClear(t *testing.T) {
	baseURL, _ := newTestAPI(t)
	createMissionHTTP(t, baseURL, "colombes.fr")
	createMissionHTTP(t, baseURL, "lyon.fr")

	var cleared ClearResponse
	resp := doJSON(t, http.MethodDelete, baseURL+"/data/clear?confirm=YES", nil, &cleared)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, cleared.Deleted)

	var list MissionListResponse
	resp = doJSON(t, http.MethodGet, baseURL+"/missions", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, list.Count)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	baseURL, _ := newTestAPI(t)

	var health HealthResponse
	resp := doJSON(t, http.MethodGet, baseURL+"/health", nil, &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, healthStatusHealthy, health.Status)
	assert.Equal(t, healthStatusHealthy, health.Checks["database"].Status)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"), "security headers apply to all routes")

	metricsResp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(body), "recongraph_")
}

// sseClient reads event-stream frames from a live response body.
type sseClient struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	r      *bufio.Reader
}

func openSSE(t *testing.T, url string, lastEventID string) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	c := &sseClient{cancel: cancel, body: resp.Body, r: bufio.NewReader(resp.Body)}
	t.Cleanup(c.close)
	return c
}

func (c *sseClient) close() {
	c.cancel()
	_ = c.body.Close()
}

// nextFrame returns the id and envelope of the next non-comment frame.
func (c *sseClient) nextFrame(t *testing.T) (int64, events.Envelope) {
	t.Helper()
	var (
		id  int64
		env events.Envelope
	)
	for {
		line, err := c.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if env.EventType != "" {
				return id, env
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "id: "):
			_, err := fmt.Sscanf(line, "id: %d", &id)
			require.NoError(t, err)
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(line[len("data: "):]), &env))
		}
	}
}

func TestAPI_SSEStream(t *testing.T) {
	baseURL, bus := newTestAPI(t)
	m := createMissionHTTP(t, baseURL, "colombes.fr")
	streamURL := baseURL + "/sse/events/" + m.ID

	t.Run("unknown mission returns 404", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/sse/events/no-such-mission")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	c := openSSE(t, streamURL, "")

	// The stream always opens with a snapshot of the current graph.
	_, env := c.nextFrame(t)
	require.Equal(t, events.EventSnapshot, env.EventType)
	assert.Equal(t, m.ID, env.MissionID)

	// Live events follow with their ring-buffer ids.
	bus.Publish(context.Background(), events.New(events.EventPhaseStarted, m.ID, "test", events.PhasePayload{Phase: models.PhasePassiveRecon}))
	id1, env := c.nextFrame(t)
	require.Equal(t, events.EventPhaseStarted, env.EventType)

	bus.Publish(context.Background(), events.New(events.EventPhaseCompleted, m.ID, "test", events.PhasePayload{Phase: models.PhasePassiveRecon}))
	id2, env := c.nextFrame(t)
	require.Equal(t, events.EventPhaseCompleted, env.EventType)
	assert.Greater(t, id2, id1)
	c.close()

	t.Run("resume replays events after the given id", func(t *testing.T) {
		c := openSSE(t, streamURL, fmt.Sprintf("%d", id1))

		snapID, env := c.nextFrame(t)
		require.Equal(t, events.EventSnapshot, env.EventType)
		assert.Equal(t, id2, snapID, "snapshot frame carries the newest buffered id")

		replayID, env := c.nextFrame(t)
		assert.Equal(t, events.EventPhaseCompleted, env.EventType)
		assert.Equal(t, id2, replayID)
	})
}
