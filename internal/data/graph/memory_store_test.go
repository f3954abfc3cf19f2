package graph

import (
	"context"
	"testing"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
)

func upsert(t *testing.T, s *MemoryStore, e *kg.Entity) {
	t.Helper()
	if err := s.UpsertEntity(context.Background(), e); err != nil {
		t.Fatalf("UpsertEntity %s: %v", e.EntityID, err)
	}
}

func edge(t *testing.T, s *MemoryStore, subj, obj, relType string, weight float64) {
	t.Helper()
	err := s.CreateEdge(context.Background(), &kg.Edge{
		RelationshipType: relType,
		SubjectID:        subj,
		ObjectID:         obj,
		Weight:           weight,
		Confidence:       0.8,
	})
	if err != nil {
		t.Fatalf("CreateEdge %s->%s: %v", subj, obj, err)
	}
}

func entity(id, name string) *kg.Entity {
	return &kg.Entity{
		EntityID:      id,
		CanonicalName: name,
		EntityType:    "thing",
		SurfaceForms:  []string{name},
		MentionCount:  1,
		Confidence:    0.5,
	}
}

func TestUpsertMergesByID(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, &kg.Entity{
		EntityID: "e1", CanonicalName: "Acme", EntityType: "organization",
		SurfaceForms: []string{"Acme"}, MentionCount: 2, Confidence: 0.6,
	})
	upsert(t, s, &kg.Entity{
		EntityID: "e1", CanonicalName: "Acme Corporation", EntityType: "organization",
		SurfaceForms: []string{"Acme", "Acme Corporation"}, MentionCount: 3, Confidence: 0.4,
	})

	got, err := s.GetEntity(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.MentionCount != 5 {
		t.Fatalf("mention counts should add, got %d", got.MentionCount)
	}
	if got.Confidence != 0.6 {
		t.Fatalf("confidence only moves upward, got %v", got.Confidence)
	}
	if got.CanonicalName != "Acme Corporation" {
		t.Fatalf("canonical name should be the longest form, got %q", got.CanonicalName)
	}
	if len(got.SurfaceForms) != 2 {
		t.Fatalf("surface forms should union, got %v", got.SurfaceForms)
	}
}

func TestCreateEdgeRequiresEndpoints(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, entity("a", "A"))
	err := s.CreateEdge(context.Background(), &kg.Edge{
		RelationshipType: "KNOWS", SubjectID: "a", ObjectID: "ghost", Weight: 0.5,
	})
	if !kgerr.IsKind(err, kgerr.KindMissingEntity) {
		t.Fatalf("expected missing_entity, got %v", err)
	}
}

func TestEdgeMergesByKey(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, entity("a", "A"))
	upsert(t, s, entity("b", "B"))
	edge(t, s, "a", "b", "KNOWS", 0.5)
	edge(t, s, "a", "b", "KNOWS", 0.9)
	if _, edges := s.Stats(); edges != 1 {
		t.Fatalf("same (subject, object, type) must merge, got %d edges", edges)
	}
	paths, err := s.Paths(context.Background(), "a", "b", 1)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 1 || paths[0].EdgeWeights[0] != 0.9 {
		t.Fatalf("merged edge should carry the latest weight, got %+v", paths)
	}
}

func TestPathsTraverseBothDirections(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, entity("a", "A"))
	upsert(t, s, entity("b", "B"))
	edge(t, s, "a", "b", "KNOWS", 0.5)

	paths, err := s.Paths(context.Background(), "b", "a", 1)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("directed edge should be traversable backwards, got %d paths", len(paths))
	}
}

func TestPathsRespectMaxHops(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		upsert(t, s, entity(id, id))
	}
	edge(t, s, "a", "b", "R", 0.5)
	edge(t, s, "b", "c", "R", 0.5)
	edge(t, s, "c", "d", "R", 0.5)

	paths, err := s.Paths(context.Background(), "a", "d", 2)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("3-hop path must not appear under maxHops=2, got %d", len(paths))
	}

	paths, err = s.Paths(context.Background(), "a", "d", 3)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if len(paths) != 1 || paths[0].Hops() != 3 {
		t.Fatalf("expected the single 3-hop path, got %+v", paths)
	}
}

func TestNeighborsDistanceAndCentrality(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		upsert(t, s, entity(id, id))
	}
	edge(t, s, "a", "b", "R", 0.5)
	edge(t, s, "b", "c", "R", 0.5)

	neighbors, err := s.Neighbors(context.Background(), "a", 2)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(neighbors) != 2 {
		t.Fatalf("expected 2 neighbors, got %d", len(neighbors))
	}
	byID := map[string]*kg.Neighbor{}
	for _, n := range neighbors {
		byID[n.Entity.EntityID] = n
		if n.Centrality < 0 || n.Centrality > 1 {
			t.Fatalf("centrality out of range: %v", n.Centrality)
		}
	}
	if byID["b"].Distance != 1 || byID["c"].Distance != 2 {
		t.Fatalf("distances wrong: b=%d c=%d", byID["b"].Distance, byID["c"].Distance)
	}
	// b bridges the chain and is the best-connected node.
	if byID["b"].Centrality != 1.0 {
		t.Fatalf("hub centrality should normalize to 1.0, got %v", byID["b"].Centrality)
	}
	if byID["b"].ConnectionCount != 2 {
		t.Fatalf("connection count wrong: %d", byID["b"].ConnectionCount)
	}
}

func TestFindEntitiesByNameFiltersType(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, &kg.Entity{EntityID: "p", CanonicalName: "Jordan", EntityType: "person", SurfaceForms: []string{"Jordan"}})
	upsert(t, s, &kg.Entity{EntityID: "l", CanonicalName: "Jordan", EntityType: "location", SurfaceForms: []string{"Jordan"}})

	got, err := s.FindEntitiesByName(context.Background(), "Jordan", "person")
	if err != nil {
		t.Fatalf("FindEntitiesByName: %v", err)
	}
	if len(got) != 1 || got[0].EntityID != "p" {
		t.Fatalf("type filter broken, got %+v", got)
	}
}

func TestEntityNamesLimit(t *testing.T) {
	s := NewMemoryStore()
	upsert(t, s, entity("a", "A"))
	upsert(t, s, entity("b", "B"))
	entries, err := s.EntityNames(context.Background(), 1)
	if err != nil {
		t.Fatalf("EntityNames: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("limit not applied, got %d", len(entries))
	}
}
