package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/query"
	"github.com/yungbote/graphmesh-backend/internal/scoring"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cfg := Config{
		Scoring:        scoring.DefaultConfig(),
		Query:          query.DefaultConfig(),
		ProvenancePath: filepath.Join(t.TempDir(), "provenance.db"),
	}
	c, err := New(context.Background(), cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestStoreDefaultsToMemory(t *testing.T) {
	c := newTestContext(t)
	store, err := c.Store(context.Background())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := store.(*graph.MemoryStore); !ok {
		t.Fatalf("no graph URI should yield the memory store, got %T", store)
	}
}

func TestConfigureAfterUseFails(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Store(context.Background()); err != nil {
		t.Fatalf("Store: %v", err)
	}
	err := c.ConfigureStore(graph.NewMemoryStore())
	if !kgerr.IsKind(err, kgerr.KindAlreadyInitialized) {
		t.Fatalf("expected already_initialized, got %v", err)
	}

	c.Scorer()
	err = c.ConfigureScorer(scoring.New(scoring.DefaultConfig()))
	if !kgerr.IsKind(err, kgerr.KindAlreadyInitialized) {
		t.Fatalf("expected already_initialized for scorer, got %v", err)
	}
}

func TestConfigureBeforeUseSucceeds(t *testing.T) {
	c := newTestContext(t)
	injected := graph.NewMemoryStore()
	if err := c.ConfigureStore(injected); err != nil {
		t.Fatalf("ConfigureStore: %v", err)
	}
	store, err := c.Store(context.Background())
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if store != graph.Store(injected) {
		t.Fatalf("configured store not returned")
	}
}

func TestCollaboratorsAreSingletons(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()

	e1, err := c.QueryEngine(ctx)
	if err != nil {
		t.Fatalf("QueryEngine: %v", err)
	}
	e2, err := c.QueryEngine(ctx)
	if err != nil {
		t.Fatalf("QueryEngine second call: %v", err)
	}
	if e1 != e2 {
		t.Fatalf("query engine should be built once")
	}

	r1, err := c.IdentityResolver(ctx)
	if err != nil {
		t.Fatalf("IdentityResolver: %v", err)
	}
	r2, err := c.IdentityResolver(ctx)
	if err != nil {
		t.Fatalf("IdentityResolver second call: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("identity resolver should be built once")
	}
}

func TestRefreshNameIndexCounts(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	n, err := c.RefreshNameIndex(ctx)
	if err != nil {
		t.Fatalf("RefreshNameIndex: %v", err)
	}
	if n != 0 {
		t.Fatalf("empty graph should index 0 entities, got %d", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestContext(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
