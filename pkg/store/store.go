// Package store implements the durable graph store backing every mission:
// PostgreSQL is the source of truth, a per-mission in-memory cache serves
// reads, and every committed write is published to the event bus. The write
// ordering is invariant: durable first, then cache, then emit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skyhound/recongraph/pkg/events"
	"github.com/skyhound/recongraph/pkg/graph"
	"github.com/skyhound/recongraph/pkg/metrics"
	"github.com/skyhound/recongraph/pkg/redact"
)

// producer tag stamped on every envelope the store publishes.
const producer = "store"

// ErrMissionNotFound is returned when an operation references an unknown
// mission id.
var ErrMissionNotFound = errors.New("mission not found")

// ErrNodeNotFound is returned when a patch or delete references an unknown
// node id.
var ErrNodeNotFound = errors.New("node not found")

// GraphStore is the single write boundary for mission graphs.
type GraphStore struct {
	db       *sql.DB
	bus      *events.Bus
	redactor *redact.Redactor

	mu     sync.Mutex
	graphs map[string]*missionGraph
}

// missionGraph is the in-memory cache for one mission. Its mutex serializes
// all writes for the mission, which keeps merge-then-persist atomic without
// DB-level locking.
type missionGraph struct {
	mu     sync.Mutex
	target string
	nodes  map[string]graph.Node
	edges  map[string]graph.Edge
}

// NewGraphStore creates a graph store over an open database pool.
func NewGraphStore(db *sql.DB, bus *events.Bus, redactor *redact.Redactor) *GraphStore {
	return &GraphStore{
		db:       db,
		bus:      bus,
		redactor: redactor,
		graphs:   make(map[string]*missionGraph),
	}
}

// graphFor returns the mission's cache, hydrating it from the database on
// first access so reads survive process restarts.
func (s *GraphStore) graphFor(ctx context.Context, missionID string) (*missionGraph, error) {
	s.mu.Lock()
	g, ok := s.graphs[missionID]
	if !ok {
		g = &missionGraph{
			nodes: make(map[string]graph.Node),
			edges: make(map[string]graph.Edge),
		}
		s.graphs[missionID] = g
		g.mu.Lock()
		s.mu.Unlock()
		defer g.mu.Unlock()
		if err := s.hydrate(ctx, missionID, g); err != nil {
			s.mu.Lock()
			delete(s.graphs, missionID)
			s.mu.Unlock()
			return nil, err
		}
		return g, nil
	}
	s.mu.Unlock()
	return g, nil
}

func (s *GraphStore) hydrate(ctx context.Context, missionID string, g *missionGraph) error {
	var target string
	err := s.db.QueryRowContext(ctx, `SELECT target FROM missions WHERE id = $1`, missionID).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMissionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load mission: %w", err)
	}
	g.target = target

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, properties, created_at, updated_at FROM nodes WHERE mission_id = $1`, missionID)
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n   graph.Node
			raw []byte
		)
		if err := rows.Scan(&n.ID, &n.Type, &raw, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}
		n.MissionID = missionID
		if err := json.Unmarshal(raw, &n.Properties); err != nil {
			return fmt.Errorf("failed to decode node properties: %w", err)
		}
		g.nodes[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	erows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, relation, properties, created_at FROM edges WHERE mission_id = $1`, missionID)
	if err != nil {
		return fmt.Errorf("failed to load edges: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var (
			e   graph.Edge
			raw []byte
		)
		if err := erows.Scan(&e.ID, &e.From, &e.To, &e.Relation, &raw, &e.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		e.MissionID = missionID
		if err := json.Unmarshal(raw, &e.Properties); err != nil {
			return fmt.Errorf("failed to decode edge properties: %w", err)
		}
		g.edges[e.ID] = e
	}
	return erows.Err()
}

// validateNode applies type and scope invariants before any write.
func validateNode(n graph.Node, target string) error {
	if !graph.ValidNodeType(n.Type) {
		return &graph.UnknownTypeError{Type: n.Type}
	}
	if n.ID == "" {
		return &graph.BadPropertyError{Key: "id", Msg: "must not be empty"}
	}
	if graph.HostScoped(n.Type) {
		if graph.IsPlaceholder(n.ID) {
			return &graph.OutOfScopeError{ID: n.ID, Target: target}
		}
		if !graph.IDInScope(n.ID, target) {
			return &graph.OutOfScopeError{ID: n.ID, Target: target}
		}
	}
	return nil
}

// mergeForWrite produces the persisted property map for a node write:
// redact, merge onto existing, clamp scores, and on vulnerability nodes
// enforce the status transition rules.
func (s *GraphStore) mergeForWrite(typ graph.NodeType, existing map[string]any, incoming map[string]any, override bool) (map[string]any, error) {
	incoming = s.redactor.RedactProperties(incoming)

	if newRaw, ok := incoming[graph.PropStatus].(string); ok && typ == graph.NodeVulnerability {
		newStatus := graph.VulnStatus(newRaw)
		oldStatus := graph.VulnTheoretical
		if oldRaw, ok := existing[graph.PropStatus].(string); ok {
			oldStatus = graph.VulnStatus(oldRaw)
		}
		if !graph.VulnTransitionAllowed(oldStatus, newStatus, override) {
			return nil, &graph.BadPropertyError{
				Key: graph.PropStatus,
				Msg: fmt.Sprintf("transition %s → %s not allowed without curator override", oldStatus, newStatus),
			}
		}
	}

	merged := graph.MergeProperties(existing, incoming)
	graph.ClampScores(merged)
	return merged, nil
}

// UpsertNode merges a node write into the mission graph. Returns the stored
// node and whether it was created (vs updated).
func (s *GraphStore) UpsertNode(ctx context.Context, missionID string, n graph.Node) (graph.Node, bool, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return graph.Node{}, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	before := g.nodes[n.ID]
	stored, created, err := s.writeNodeLocked(ctx, s.db, missionID, g, n, false)
	if err != nil {
		return graph.Node{}, false, err
	}

	g.nodes[stored.ID] = stored
	s.emitNodeEvents(ctx, missionID, before, stored, created)
	metrics.NodesUpserted.WithLabelValues(string(stored.Type), outcomeLabel(created)).Inc()
	return stored, created, nil
}

func outcomeLabel(created bool) string {
	if created {
		return "created"
	}
	return "merged"
}

// writeNodeLocked validates, merges, and persists one node. The caller holds
// the mission lock; execer is either the pool or an open transaction. The
// cache is NOT updated here so batch writes can defer it until commit.
func (s *GraphStore) writeNodeLocked(ctx context.Context, execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, missionID string, g *missionGraph, n graph.Node, override bool) (graph.Node, bool, error) {
	if err := validateNode(n, g.target); err != nil {
		return graph.Node{}, false, err
	}

	existing, exists := g.nodes[n.ID]
	var existingProps map[string]any
	if exists {
		existingProps = existing.Properties
	}

	merged, err := s.mergeForWrite(n.Type, existingProps, n.Properties, override)
	if err != nil {
		return graph.Node{}, false, err
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("failed to encode properties: %w", err)
	}

	var createdAt, updatedAt time.Time
	err = execer.QueryRowContext(ctx, `
		INSERT INTO nodes (mission_id, id, type, properties)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mission_id, id)
		DO UPDATE SET properties = EXCLUDED.properties, updated_at = now()
		RETURNING created_at, updated_at`,
		missionID, n.ID, string(n.Type), raw).Scan(&createdAt, &updatedAt)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("failed to upsert node: %w", err)
	}

	stored := graph.Node{
		ID:         n.ID,
		Type:       n.Type,
		MissionID:  missionID,
		Properties: merged,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	return stored, !exists, nil
}

// emitNodeEvents publishes the delta events for one committed node write.
func (s *GraphStore) emitNodeEvents(ctx context.Context, missionID string, before, after graph.Node, created bool) {
	eventType := events.EventNodeUpdated
	if created {
		eventType = events.EventNodeAdded
	}
	s.bus.Publish(ctx, events.New(eventType, missionID, producer, events.NodePayload{Node: after}))

	oldStatus, _ := before.Properties[graph.PropStatus].(string)
	newStatus, _ := after.Properties[graph.PropStatus].(string)
	if after.Type == graph.NodeVulnerability && newStatus != "" && oldStatus != newStatus {
		s.bus.Publish(ctx, events.New(events.EventVulnStatus, missionID, producer, events.VulnStatusPayload{
			NodeID:    after.ID,
			OldStatus: oldStatus,
			NewStatus: newStatus,
		}))
	}

	beforeEv, _ := before.Properties["evidence"].([]any)
	afterEv, _ := after.Properties["evidence"].([]any)
	if len(afterEv) > len(beforeEv) {
		s.bus.Publish(ctx, events.New(events.EventEvidenceAdded, missionID, producer, events.EvidencePayload{
			NodeID: after.ID,
			Count:  len(afterEv),
		}))
	}
}

// PatchNode merges a property patch into an existing node. override enables
// the curator-only vulnerability status transitions.
func (s *GraphStore) PatchNode(ctx context.Context, missionID, nodeID string, props map[string]any, override bool) (graph.Node, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return graph.Node{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.nodes[nodeID]
	if !ok {
		return graph.Node{}, ErrNodeNotFound
	}

	stored, _, err := s.writeNodeLocked(ctx, s.db, missionID, g, graph.Node{
		ID:         nodeID,
		Type:       existing.Type,
		Properties: props,
	}, override)
	if err != nil {
		return graph.Node{}, err
	}

	g.nodes[nodeID] = stored
	s.emitNodeEvents(ctx, missionID, existing, stored, false)
	return stored, nil
}

// UpsertEdge records a relation between two existing nodes. Edges are
// write-once: a repeat write returns the stored edge unchanged.
func (s *GraphStore) UpsertEdge(ctx context.Context, missionID string, e graph.Edge) (graph.Edge, bool, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return graph.Edge{}, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	stored, created, err := s.writeEdgeLocked(ctx, s.db, missionID, g, e, nil)
	if err != nil {
		return graph.Edge{}, false, err
	}
	if created {
		g.edges[stored.ID] = stored
		s.bus.Publish(ctx, events.New(events.EventEdgeAdded, missionID, producer, events.EdgePayload{Edge: stored}))
		metrics.EdgesUpserted.WithLabelValues(string(stored.Relation), "created").Inc()
	} else {
		metrics.EdgesUpserted.WithLabelValues(string(stored.Relation), "ignored").Inc()
	}
	return stored, created, nil
}

// writeEdgeLocked validates and persists one edge. pending holds node ids
// being created in the same batch, accepted as endpoints before commit.
func (s *GraphStore) writeEdgeLocked(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, missionID string, g *missionGraph, e graph.Edge, pending map[string]bool) (graph.Edge, bool, error) {
	if !graph.ValidRelation(e.Relation) {
		return graph.Edge{}, false, &graph.UnknownRelationError{Relation: e.Relation}
	}
	for _, endpoint := range []string{e.From, e.To} {
		if _, ok := g.nodes[endpoint]; !ok && !pending[endpoint] {
			return graph.Edge{}, false, &graph.MissingEndpointError{NodeID: endpoint}
		}
	}

	id := graph.EdgeID(e.Relation, e.From, e.To, missionID)
	if existing, ok := g.edges[id]; ok {
		return existing, false, nil
	}

	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return graph.Edge{}, false, fmt.Errorf("failed to encode edge properties: %w", err)
	}

	if _, err := execer.ExecContext(ctx, `
		INSERT INTO edges (mission_id, id, from_id, to_id, relation, properties)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mission_id, id) DO NOTHING`,
		missionID, id, e.From, e.To, string(e.Relation), raw); err != nil {
		return graph.Edge{}, false, fmt.Errorf("failed to insert edge: %w", err)
	}

	stored := graph.Edge{
		ID:         id,
		Relation:   e.Relation,
		From:       e.From,
		To:         e.To,
		MissionID:  missionID,
		Properties: props,
		CreatedAt:  time.Now().UTC(),
	}
	return stored, true, nil
}

// BatchResult summarizes one atomic batch write.
type BatchResult struct {
	Nodes        []graph.Node
	Edges        []graph.Edge
	NodesCreated int
	EdgesCreated int
}

// BatchUpsert writes nodes and edges in a single transaction. The whole
// batch commits or none of it does, and subscribers see exactly one
// NODES_BATCH and one EDGES_BATCH event instead of per-item deltas.
func (s *GraphStore) BatchUpsert(ctx context.Context, missionID string, nodes []graph.Node, edges []graph.Edge) (*BatchResult, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// Fail fast before touching the database.
	pending := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if err := validateNode(n, g.target); err != nil {
			return nil, err
		}
		pending[n.ID] = true
	}
	for _, e := range edges {
		if !graph.ValidRelation(e.Relation) {
			return nil, &graph.UnknownRelationError{Relation: e.Relation}
		}
		for _, endpoint := range []string{e.From, e.To} {
			if _, ok := g.nodes[endpoint]; !ok && !pending[endpoint] {
				return nil, &graph.MissingEndpointError{NodeID: endpoint}
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &BatchResult{}
	befores := make([]graph.Node, 0, len(nodes))
	for _, n := range nodes {
		before := g.nodes[n.ID]
		stored, created, err := s.writeNodeLocked(ctx, tx, missionID, g, n, false)
		if err != nil {
			return nil, err
		}
		// Later items in the same batch merge onto earlier ones.
		g.nodes[stored.ID] = stored
		befores = append(befores, before)
		result.Nodes = append(result.Nodes, stored)
		if created {
			result.NodesCreated++
		}
	}
	for _, e := range edges {
		stored, created, err := s.writeEdgeLocked(ctx, tx, missionID, g, e, pending)
		if err != nil {
			return nil, err
		}
		if created {
			g.edges[stored.ID] = stored
			result.Edges = append(result.Edges, stored)
			result.EdgesCreated++
		}
	}

	if err := tx.Commit(); err != nil {
		// The cache was updated optimistically; reload it from the durable
		// state so it cannot run ahead of the database.
		s.mu.Lock()
		delete(s.graphs, missionID)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	if len(result.Nodes) > 0 {
		s.bus.Publish(ctx, events.New(events.EventNodesBatch, missionID, producer, events.BatchPayload{
			NodeCount: len(result.Nodes),
			Nodes:     result.Nodes,
		}))
	}
	if len(result.Edges) > 0 {
		s.bus.Publish(ctx, events.New(events.EventEdgesBatch, missionID, producer, events.BatchPayload{
			EdgeCount: len(result.Edges),
			Edges:     result.Edges,
		}))
	}
	for i, n := range result.Nodes {
		before := befores[i]
		oldStatus, _ := before.Properties[graph.PropStatus].(string)
		newStatus, _ := n.Properties[graph.PropStatus].(string)
		if newStatus != "" && oldStatus != newStatus {
			s.bus.Publish(ctx, events.New(events.EventVulnStatus, missionID, producer, events.VulnStatusPayload{
				NodeID:    n.ID,
				OldStatus: oldStatus,
				NewStatus: newStatus,
			}))
		}
	}
	return result, nil
}

// DeleteNode removes a node and its incident edges in one transaction.
func (s *GraphStore) DeleteNode(ctx context.Context, missionID, nodeID string) error {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE mission_id = $1 AND (from_id = $2 OR to_id = $2)`, missionID, nodeID); err != nil {
		return fmt.Errorf("failed to delete incident edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM nodes WHERE mission_id = $1 AND id = $2`, missionID, nodeID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	delete(g.nodes, nodeID)
	removed := make([]string, 0)
	for id, e := range g.edges {
		if e.From == nodeID || e.To == nodeID {
			delete(g.edges, id)
			removed = append(removed, id)
		}
	}

	s.bus.Publish(ctx, events.New(events.EventNodeDeleted, missionID, producer, map[string]any{
		"node":          node,
		"removed_edges": removed,
	}))
	return nil
}

// NodeFilter narrows QueryNodes results.
type NodeFilter struct {
	Type NodeType
	// PropEquals matches nodes whose property value equals the given value
	// (string comparison on the JSON form for non-scalars).
	PropEquals map[string]any
}

// NodeType aliases graph.NodeType for filter construction.
type NodeType = graph.NodeType

// QueryNodes returns the mission's nodes matching the filter, ordered by id.
func (s *GraphStore) QueryNodes(ctx context.Context, missionID string, filter NodeFilter) ([]graph.Node, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]graph.Node, 0)
	for _, n := range g.nodes {
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		if !propsMatch(n.Properties, filter.PropEquals) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func propsMatch(props, want map[string]any) bool {
	for k, v := range want {
		got, ok := props[k]
		if !ok {
			return false
		}
		if got == v {
			continue
		}
		gotRaw, _ := json.Marshal(got)
		wantRaw, _ := json.Marshal(v)
		if string(gotRaw) != string(wantRaw) {
			return false
		}
	}
	return true
}

// NodeQuery is the paged query surface exposed over the API: filter by type
// set and minimum risk score, page with limit/offset.
type NodeQuery struct {
	Types   []NodeType
	RiskMin float64
	Limit   int
	Offset  int
}

// QueryPage is one page of query results plus the total match count.
type QueryPage struct {
	Nodes []graph.Node `json:"nodes"`
	Total int          `json:"total"`
}

// QueryNodesPage returns one page of nodes matching the query, ordered by
// risk score descending then id, with the pre-pagination total.
func (s *GraphStore) QueryNodesPage(ctx context.Context, missionID string, q NodeQuery) (*QueryPage, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	typeSet := make(map[NodeType]bool, len(q.Types))
	for _, t := range q.Types {
		typeSet[t] = true
	}

	matched := make([]graph.Node, 0)
	for _, n := range g.nodes {
		if len(typeSet) > 0 && !typeSet[n.Type] {
			continue
		}
		if q.RiskMin > 0 && riskOf(n) < q.RiskMin {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool {
		ri, rj := riskOf(matched[i]), riskOf(matched[j])
		if ri != rj {
			return ri > rj
		}
		return matched[i].ID < matched[j].ID
	})

	page := &QueryPage{Total: len(matched)}
	start := q.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page.Nodes = matched[start:end]
	return page, nil
}

func riskOf(n graph.Node) float64 {
	switch v := n.Properties[graph.PropRiskScore].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// GetNode returns one node by id.
func (s *GraphStore) GetNode(ctx context.Context, missionID, nodeID string) (graph.Node, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return graph.Node{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return graph.Node{}, ErrNodeNotFound
	}
	return n, nil
}

// Edges returns the mission's edges, optionally restricted to those incident
// to nodeID, ordered by id.
func (s *GraphStore) Edges(ctx context.Context, missionID, nodeID string) ([]graph.Edge, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]graph.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if nodeID != "" && e.From != nodeID && e.To != nodeID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot returns the full graph for a mission, suitable for the SNAPSHOT
// event and the export endpoint.
func (s *GraphStore) Snapshot(ctx context.Context, missionID string) (*events.SnapshotPayload, error) {
	nodes, err := s.QueryNodes(ctx, missionID, NodeFilter{})
	if err != nil {
		return nil, err
	}
	edges, err := s.Edges(ctx, missionID, "")
	if err != nil {
		return nil, err
	}
	return &events.SnapshotPayload{Nodes: nodes, Edges: edges}, nil
}

// ExportSnapshot returns the graph filtered for export: placeholder hosts
// (example.com and friends) and out-of-scope host-scoped nodes are dropped,
// along with any edge referencing a dropped node.
func (s *GraphStore) ExportSnapshot(ctx context.Context, missionID string) (*events.SnapshotPayload, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := make(map[string]bool, len(g.nodes))
	nodes := make([]graph.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if graph.HostScoped(n.Type) {
			if graph.IsPlaceholder(n.ID) || !graph.IDInScope(n.ID, g.target) {
				continue
			}
		}
		kept[n.ID] = true
		nodes = append(nodes, n)
	}
	edges := make([]graph.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if kept[e.From] && kept[e.To] {
			edges = append(edges, e)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return &events.SnapshotPayload{Nodes: nodes, Edges: edges}, nil
}

// GraphStats summarizes a mission graph.
type GraphStats struct {
	NodeCount   int            `json:"total_nodes"`
	EdgeCount   int            `json:"total_edges"`
	NodesByType map[string]int `json:"nodes_by_type"`
}

// Stats returns node/edge counts for a mission.
func (s *GraphStore) Stats(ctx context.Context, missionID string) (*GraphStats, error) {
	g, err := s.graphFor(ctx, missionID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := &GraphStats{
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.edges),
		NodesByType: make(map[string]int),
	}
	for _, n := range g.nodes {
		stats.NodesByType[string(n.Type)]++
	}
	return stats, nil
}

// DropMissionCache evicts a mission's in-memory graph and closes its bus
// subscribers. The durable rows are removed separately by mission deletion.
func (s *GraphStore) DropMissionCache(missionID string) {
	s.mu.Lock()
	delete(s.graphs, missionID)
	s.mu.Unlock()
	s.bus.DropMission(missionID)
}
