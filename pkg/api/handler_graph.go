package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/store"
)

// upsertNodeHandler handles POST /nodes.
func (s *Server) upsertNodeHandler(c *echo.Context) error {
	var req NodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission_id is required")
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	n, _, err := s.graphs.UpsertNode(c.Request().Context(), req.MissionID, graph.Node{
		ID:         req.ID,
		Type:       graph.NodeType(req.Type),
		Properties: req.Properties,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// patchNodeHandler handles PATCH /nodes/:id. With curator_override set the
// patch is pinned: later automated writes cannot shadow the given keys.
func (s *Server) patchNodeHandler(c *echo.Context) error {
	nodeID := c.Param("id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	var req PatchNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission_id is required")
	}
	if len(req.Properties) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "properties are required")
	}

	var (
		n   graph.Node
		err error
	)
	if req.CuratorOverride {
		n, err = s.missions.CuratorPatch(c.Request().Context(), req.MissionID, nodeID, req.Properties)
	} else {
		n, err = s.graphs.PatchNode(c.Request().Context(), req.MissionID, nodeID, req.Properties, false)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// queryNodesHandler handles POST /nodes/query.
func (s *Server) queryNodesHandler(c *echo.Context) error {
	var req NodeQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission_id is required")
	}
	if req.RiskScoreMin < 0 || req.RiskScoreMin > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "risk_score_min must be between 0 and 100")
	}

	types := make([]graph.NodeType, 0, len(req.NodeTypes))
	for _, t := range req.NodeTypes {
		nt := graph.NodeType(t)
		if !graph.ValidNodeType(nt) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown node type: "+t)
		}
		types = append(types, nt)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := req.Offset
	if offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be >= 0")
	}

	page, err := s.graphs.QueryNodesPage(c.Request().Context(), req.MissionID, store.NodeQuery{
		Types:   types,
		RiskMin: req.RiskScoreMin,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// upsertEdgeHandler handles POST /edges.
func (s *Server) upsertEdgeHandler(c *echo.Context) error {
	var req EdgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission_id is required")
	}
	e, err := resolveEdge(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	stored, _, err := s.graphs.UpsertEdge(c.Request().Context(), req.MissionID, e)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stored)
}

// batchEdgesHandler handles POST /edges/batch. Each edge passes or fails on
// its own: a bad element never rolls back the ones before it.
func (s *Server) batchEdgesHandler(c *echo.Context) error {
	var reqs []EdgeRequest
	if err := c.Bind(&reqs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(reqs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "edge list is empty")
	}

	resp := &EdgeBatchResponse{Results: make([]EdgeResult, 0, len(reqs))}
	for i := range reqs {
		result := s.applyEdge(c, &reqs[i])
		if result.OK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}
	return c.JSON(http.StatusOK, resp)
}

// applyEdge upserts one element of an edge batch, folding every failure mode
// into the per-element result.
func (s *Server) applyEdge(c *echo.Context, req *EdgeRequest) EdgeResult {
	if req.MissionID == "" {
		return EdgeResult{Error: "mission_id is required"}
	}
	e, err := resolveEdge(req)
	if err != nil {
		return EdgeResult{Error: err.Error()}
	}
	stored, _, err := s.graphs.UpsertEdge(c.Request().Context(), req.MissionID, e)
	if err != nil {
		return EdgeResult{Error: err.Error()}
	}
	return EdgeResult{OK: true, Edge: &stored}
}

// batchUpsertHandler handles POST /graph/batchUpsert. The whole batch commits
// in one transaction: any invalid element rejects all of it.
func (s *Server) batchUpsertHandler(c *echo.Context) error {
	var req BatchUpsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MissionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission_id is required")
	}
	if len(req.Nodes) == 0 && len(req.Edges) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch is empty")
	}

	nodes := make([]graph.Node, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		if n.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
		}
		nodes = append(nodes, graph.Node{
			ID:         n.ID,
			Type:       graph.NodeType(n.Type),
			Properties: n.Properties,
		})
	}
	edges := make([]graph.Edge, 0, len(req.Edges))
	for i := range req.Edges {
		e, err := resolveEdge(&req.Edges[i])
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		edges = append(edges, e)
	}

	result, err := s.graphs.BatchUpsert(c.Request().Context(), req.MissionID, nodes, edges)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &BatchUpsertResponse{
		Nodes:        result.Nodes,
		Edges:        result.Edges,
		NodesCreated: result.NodesCreated,
		EdgesCreated: result.EdgesCreated,
	})
}

// dataClearHandler handles DELETE /data/clear. Wipes every mission and all
// graph data; refuses to run without explicit confirmation.
func (s *Server) dataClearHandler(c *echo.Context) error {
	if c.QueryParam("confirm") != "YES" {
		return echo.NewHTTPError(http.StatusBadRequest, "destructive operation requires confirm=YES")
	}

	deleted, err := s.missions.ClearAll(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ClearResponse{Deleted: deleted, Message: "all mission data cleared"})
}
