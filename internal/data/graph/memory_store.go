package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
)

// MemoryStore is an in-process Store used by tests and by deployments that
// have no graph database configured. It mirrors the Neo4j store's merge
// semantics exactly: upserts are atomic merge-by-id, one edge per
// (subject, object, type).
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*kg.Entity
	edges    map[string]*kg.Edge
	adjacent map[string][]*kg.Edge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: map[string]*kg.Entity{},
		edges:    map[string]*kg.Edge{},
		adjacent: map[string][]*kg.Edge{},
	}
}

func (s *MemoryStore) UpsertEntity(ctx context.Context, e *kg.Entity) error {
	if e == nil || e.EntityID == "" {
		return kgerr.New(kgerr.KindInvalidInput, "entity missing id")
	}
	if err := ctx.Err(); err != nil {
		return kgerr.Wrap(kgerr.KindTimeout, "upsert entity", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[e.EntityID]
	if !ok {
		cp := *e
		cp.SurfaceForms = append([]string(nil), e.SurfaceForms...)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		s.entities[e.EntityID] = &cp
		return nil
	}

	for _, sf := range e.SurfaceForms {
		if !existing.HasSurfaceForm(sf) {
			existing.SurfaceForms = append(existing.SurfaceForms, sf)
		}
	}
	existing.MentionCount += e.MentionCount
	if e.Confidence > existing.Confidence {
		existing.Confidence = e.Confidence
	}
	if len(e.CanonicalName) > len(existing.CanonicalName) {
		existing.CanonicalName = e.CanonicalName
	}
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, entityID string) (*kg.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.SurfaceForms = append([]string(nil), e.SurfaceForms...)
	return &cp, nil
}

func (s *MemoryStore) MissingEntities(ctx context.Context, entityIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	missing := make([]string, 0)
	for _, id := range entityIDs {
		if _, ok := s.entities[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *MemoryStore) FindEntitiesByName(ctx context.Context, name, entityType string) ([]*kg.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*kg.Entity
	for _, e := range s.entities {
		if e.EntityType != entityType {
			continue
		}
		if e.CanonicalName == name || e.HasSurfaceForm(name) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (s *MemoryStore) CreateEdge(ctx context.Context, e *kg.Edge) error {
	if e == nil || e.SubjectID == "" || e.ObjectID == "" || e.RelationshipType == "" {
		return kgerr.New(kgerr.KindInvalidInput, "edge missing subject, object or type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.SubjectID]; !ok {
		return kgerr.MissingEntities([]string{e.SubjectID})
	}
	if _, ok := s.entities[e.ObjectID]; !ok {
		return kgerr.MissingEntities([]string{e.ObjectID})
	}

	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	key := cp.DedupeKey()
	if old, ok := s.edges[key]; ok {
		// Merge-by-key: replace properties in place, keep adjacency intact.
		*old = cp
		return nil
	}
	s.edges[key] = &cp
	s.adjacent[cp.SubjectID] = append(s.adjacent[cp.SubjectID], &cp)
	s.adjacent[cp.ObjectID] = append(s.adjacent[cp.ObjectID], &cp)
	return nil
}

func (s *MemoryStore) EntityNames(ctx context.Context, limit int) ([]NameEntry, error) {
	if limit <= 0 {
		limit = defaultNameLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]NameEntry, 0, len(s.entities))
	for _, e := range s.entities {
		entries = append(entries, NameEntry{
			EntityID:      e.EntityID,
			CanonicalName: e.CanonicalName,
			EntityType:    e.EntityType,
			SurfaceForms:  append([]string(nil), e.SurfaceForms...),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EntityID < entries[j].EntityID })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) Paths(ctx context.Context, fromID, toID string, maxHops int) ([]*kg.Path, error) {
	maxHops = clampHops(maxHops)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[fromID]; !ok {
		return nil, nil
	}
	if _, ok := s.entities[toID]; !ok {
		return nil, nil
	}

	var paths []*kg.Path
	visited := map[string]bool{fromID: true}
	var walk func(current string, nodeIDs []string, types []string, weights []float64)
	walk = func(current string, nodeIDs []string, types []string, weights []float64) {
		if len(types) > 0 && current == toID {
			paths = append(paths, s.buildPath(nodeIDs, types, weights))
			return
		}
		if len(types) >= maxHops {
			return
		}
		for _, edge := range s.adjacent[current] {
			next := edge.ObjectID
			if next == current {
				next = edge.SubjectID
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			walk(next,
				append(nodeIDs, next),
				append(types, edge.RelationshipType),
				append(weights, edge.Weight))
			visited[next] = false
		}
	}
	walk(fromID, []string{fromID}, nil, nil)

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Hops() < paths[j].Hops() })
	return paths, nil
}

func (s *MemoryStore) buildPath(nodeIDs []string, types []string, weights []float64) *kg.Path {
	p := &kg.Path{
		EntityIDs:     append([]string(nil), nodeIDs...),
		RelationTypes: append([]string(nil), types...),
		EdgeWeights:   append([]float64(nil), weights...),
	}
	p.EntityNames = make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		name := id
		if e, ok := s.entities[id]; ok && e.CanonicalName != "" {
			name = e.CanonicalName
		}
		p.EntityNames = append(p.EntityNames, name)
	}
	return p
}

func (s *MemoryStore) Neighbors(ctx context.Context, entityID string, maxHops int) ([]*kg.Neighbor, error) {
	maxHops = clampHops(maxHops)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, nil
	}

	ranks := s.pagerank()

	// BFS out to maxHops.
	dist := map[string]int{entityID: 0}
	frontier := []string{entityID}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, edge := range s.adjacent[id] {
				other := edge.ObjectID
				if other == id {
					other = edge.SubjectID
				}
				if _, seen := dist[other]; seen {
					continue
				}
				dist[other] = depth
				next = append(next, other)
			}
		}
		frontier = next
	}

	var neighbors []*kg.Neighbor
	for id, d := range dist {
		if id == entityID {
			continue
		}
		e := s.entities[id]
		cp := *e
		neighbors = append(neighbors, &kg.Neighbor{
			Entity:          &cp,
			Distance:        d,
			ConnectionCount: len(s.adjacent[id]),
			Centrality:      ranks[id],
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Entity.EntityID < neighbors[j].Entity.EntityID
	})
	return neighbors, nil
}

const (
	pagerankDamping    = 0.85
	pagerankIterations = 20
)

// pagerank runs a fixed number of power iterations over the undirected
// graph. Scores are normalized so the best-connected node sits at 1.0.
func (s *MemoryStore) pagerank() map[string]float64 {
	n := len(s.entities)
	if n == 0 {
		return nil
	}
	ranks := make(map[string]float64, n)
	for id := range s.entities {
		ranks[id] = 1.0 / float64(n)
	}
	for i := 0; i < pagerankIterations; i++ {
		next := make(map[string]float64, n)
		base := (1.0 - pagerankDamping) / float64(n)
		for id := range s.entities {
			next[id] = base
		}
		for id, r := range ranks {
			degree := len(s.adjacent[id])
			if degree == 0 {
				continue
			}
			share := pagerankDamping * r / float64(degree)
			for _, edge := range s.adjacent[id] {
				other := edge.ObjectID
				if other == id {
					other = edge.SubjectID
				}
				next[other] += share
			}
		}
		ranks = next
	}
	best := 0.0
	for _, r := range ranks {
		if r > best {
			best = r
		}
	}
	if best > 0 {
		for id := range ranks {
			ranks[id] = ranks[id] / best
		}
	}
	return ranks
}

// Stats reports node/edge counts; used by the CLI summary.
func (s *MemoryStore) Stats() (entities, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.edges)
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*Neo4jStore)(nil)
