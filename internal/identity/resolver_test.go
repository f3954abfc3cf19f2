package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/scoring"
)

func newTestResolver(t *testing.T) (*Resolver, *graph.MemoryStore) {
	t.Helper()
	store := graph.NewMemoryStore()
	r, err := NewResolver(store, scoring.New(scoring.DefaultConfig()), nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, store
}

func TestResolveGroupsByEntityID(t *testing.T) {
	r, _ := newTestResolver(t)
	mentions := []kg.Mention{
		{Text: "J. Smith", EntityType: "person", Confidence: 0.6, EntityID: "e1"},
		{Text: "John Smith", EntityType: "person", Confidence: 0.8, EntityID: "e1"},
	}
	out, err := r.Resolve(context.Background(), mentions)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one entity, got %d", len(out))
	}
	e := out["e1"]
	if e == nil {
		t.Fatalf("entity e1 missing from result")
	}
	if e.CanonicalName != "John Smith" {
		t.Fatalf("canonical name should be the longest surface form, got %q", e.CanonicalName)
	}
	if len(e.SurfaceForms) != 2 {
		t.Fatalf("expected 2 surface forms, got %v", e.SurfaceForms)
	}
	if e.MentionCount != 2 {
		t.Fatalf("expected mention count 2, got %d", e.MentionCount)
	}
}

func TestResolveKeylessClusterByTypeAndText(t *testing.T) {
	r, _ := newTestResolver(t)
	mentions := []kg.Mention{
		{Text: "Acme Corp", EntityType: "organization", Confidence: 0.9},
		{Text: "Acme Corp", EntityType: "organization", Confidence: 0.7},
		{Text: "Acme Corp", EntityType: "person", Confidence: 0.5},
	}
	out, err := r.Resolve(context.Background(), mentions)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Same text but different type never clusters.
	if len(out) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(out))
	}
}

func TestResolveFallbackMatcherReusesExisting(t *testing.T) {
	r, store := newTestResolver(t)
	seed := &kg.Entity{
		EntityID:      "org-1",
		CanonicalName: "Acme Corp",
		EntityType:    "organization",
		SurfaceForms:  []string{"Acme Corp"},
		MentionCount:  1,
		Confidence:    0.9,
	}
	if err := store.UpsertEntity(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := r.Resolve(context.Background(), []kg.Mention{
		{Text: "Acme Corp", EntityType: "organization", Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := out["org-1"]; !ok {
		t.Fatalf("keyless mention should land on the existing entity, got keys %v", keys(out))
	}
}

func TestConfidenceGrowsWithCorroboration(t *testing.T) {
	r, _ := newTestResolver(t)
	one, err := r.Resolve(context.Background(), []kg.Mention{
		{Text: "Seattle", EntityType: "location", Confidence: 0.5, EntityID: "l1"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r2, _ := newTestResolver(t)
	three, err := r2.Resolve(context.Background(), []kg.Mention{
		{Text: "Seattle", EntityType: "location", Confidence: 0.5, EntityID: "l1"},
		{Text: "Seattle", EntityType: "location", Confidence: 0.5, EntityID: "l1"},
		{Text: "Seattle", EntityType: "location", Confidence: 0.5, EntityID: "l1"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if three["l1"].Confidence <= one["l1"].Confidence {
		t.Fatalf("confidence should grow with mentions: %v <= %v",
			three["l1"].Confidence, one["l1"].Confidence)
	}
	if three["l1"].Confidence > 1.0 {
		t.Fatalf("confidence above 1.0: %v", three["l1"].Confidence)
	}
}

func TestMajorityTypeFirstOccurrenceTie(t *testing.T) {
	r, _ := newTestResolver(t)
	out, err := r.Resolve(context.Background(), []kg.Mention{
		{Text: "Jordan", EntityType: "person", Confidence: 0.8, EntityID: "x"},
		{Text: "Jordan", EntityType: "location", Confidence: 0.8, EntityID: "x"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out["x"].EntityType != "person" {
		t.Fatalf("tie should keep the first-seen type, got %q", out["x"].EntityType)
	}
}

func TestConcurrentResolveSingleEntity(t *testing.T) {
	store := graph.NewMemoryStore()
	scorer := scoring.New(scoring.DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := NewResolver(store, scorer, nil, logger.NewNop())
			if err != nil {
				t.Errorf("NewResolver: %v", err)
				return
			}
			_, err = r.Resolve(context.Background(), []kg.Mention{
				{Text: "John Smith", EntityType: "person", Confidence: 0.7, EntityID: "p1"},
			})
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	e, err := store.GetEntity(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if e == nil {
		t.Fatalf("entity p1 not created")
	}
	names, err := store.EntityNames(context.Background(), 0)
	if err != nil {
		t.Fatalf("EntityNames: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("concurrent resolves created %d entities, want 1", len(names))
	}
	if e.MentionCount != 8 {
		t.Fatalf("mention count should accumulate across writers, got %d", e.MentionCount)
	}
}

func keys(m map[string]*kg.Entity) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
