package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/edges"
	"github.com/yungbote/graphmesh-backend/internal/identity"
	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/platform/neo4jdb"
	"github.com/yungbote/graphmesh-backend/internal/provenance"
	"github.com/yungbote/graphmesh-backend/internal/query"
	"github.com/yungbote/graphmesh-backend/internal/scoring"
)

// Config gathers every knob the service context needs at construction.
type Config struct {
	Graph          neo4jdb.Config
	Scoring        scoring.Config
	Query          query.Config
	ProvenancePath string
	// UseRedisCache enables the redis name-index cache when REDIS_ADDR is
	// set; a failed connect degrades to no cache.
	UseRedisCache bool
}

func ConfigFromEnv() Config {
	return Config{
		Graph:          neo4jdb.ConfigFromEnv(),
		Scoring:        scoring.ConfigFromEnv(),
		Query:          query.ConfigFromEnv(),
		ProvenancePath: envutil.Str("PROVENANCE_DB_PATH", "provenance.db"),
		UseRedisCache:  envutil.Str("REDIS_ADDR", "") != "",
	}
}

// Context is the single lifecycle owner of the graph connection registry
// and the cross-cutting collaborators (identity, provenance, confidence).
// It is built once at process start and passed by reference; there is no
// hidden global instance.
//
// Collaborator configuration is one-time and pre-use: setters fail with an
// already_initialized error once the collaborator has been handed out. That
// fail-fast check replaces locking around every access; the setters are not
// meant to race with in-flight queries.
type Context struct {
	cfg Config
	log *logger.Logger

	registry *neo4jdb.Registry

	mu       sync.Mutex
	closed   bool
	scorer   *scoring.Scorer
	matcher  identity.Matcher
	store    graph.Store
	recorder provenance.Recorder
	cache    query.NameIndexCache
	resolver *identity.Resolver
	builder  *edges.Builder
	engine   *query.Engine

	scorerUsed   bool
	matcherUsed  bool
	storeUsed    bool
	recorderUsed bool
}

func New(ctx context.Context, cfg Config, log *logger.Logger) (*Context, error) {
	if log == nil {
		return nil, fmt.Errorf("services: logger required")
	}
	return &Context{
		cfg:      cfg,
		log:      log.With("component", "ServiceContext"),
		registry: neo4jdb.NewRegistry(log),
	}, nil
}

// ConfigureScorer replaces the confidence scorer; must happen before any
// collaborator that consumes it is first used.
func (c *Context) ConfigureScorer(s *scoring.Scorer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scorerUsed {
		return kgerr.New(kgerr.KindAlreadyInitialized, "confidence scorer already in use")
	}
	c.scorer = s
	return nil
}

// ConfigureMatcher replaces the identity fallback matcher; one-time,
// pre-use.
func (c *Context) ConfigureMatcher(m identity.Matcher) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matcherUsed {
		return kgerr.New(kgerr.KindAlreadyInitialized, "identity resolver already in use")
	}
	c.matcher = m
	return nil
}

// ConfigureStore injects a graph store (tests, or the in-memory mode);
// one-time, pre-use.
func (c *Context) ConfigureStore(s graph.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeUsed {
		return kgerr.New(kgerr.KindAlreadyInitialized, "graph store already in use")
	}
	c.store = s
	return nil
}

// ConfigureRecorder injects a provenance recorder; one-time, pre-use.
func (c *Context) ConfigureRecorder(r provenance.Recorder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recorderUsed {
		return kgerr.New(kgerr.KindAlreadyInitialized, "provenance recorder already in use")
	}
	c.recorder = r
	return nil
}

// GraphConnection acquires the shared driver for (uri,user); a changed
// config for the same key closes the stale client first.
func (c *Context) GraphConnection(ctx context.Context, cfg neo4jdb.Config) (*neo4jdb.Client, error) {
	return c.registry.Acquire(ctx, cfg)
}

func (c *Context) Scorer() *scoring.Scorer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scorerLocked()
}

func (c *Context) scorerLocked() *scoring.Scorer {
	if c.scorer == nil {
		c.scorer = scoring.New(c.cfg.Scoring)
	}
	c.scorerUsed = true
	return c.scorer
}

// Store returns the graph store: neo4j when a URI is configured, otherwise
// the in-memory store.
func (c *Context) Store(ctx context.Context) (graph.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(ctx)
}

func (c *Context) storeLocked(ctx context.Context) (graph.Store, error) {
	if c.store == nil {
		if c.cfg.Graph.URI != "" {
			client, err := c.registry.Acquire(ctx, c.cfg.Graph)
			if err != nil {
				return nil, err
			}
			store, err := graph.NewNeo4jStore(client, c.log)
			if err != nil {
				return nil, err
			}
			store.InitSchema(ctx)
			c.store = store
		} else {
			c.log.Info("no graph database configured, using in-memory store")
			c.store = graph.NewMemoryStore()
		}
	}
	c.storeUsed = true
	return c.store, nil
}

func (c *Context) Recorder() (provenance.Recorder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorderLocked()
}

func (c *Context) recorderLocked() (provenance.Recorder, error) {
	if c.recorder == nil {
		rec, err := provenance.NewSQLiteRecorder(c.cfg.ProvenancePath, c.log)
		if err != nil {
			return nil, err
		}
		c.recorder = rec
	}
	c.recorderUsed = true
	return c.recorder, nil
}

func (c *Context) IdentityResolver(ctx context.Context) (*identity.Resolver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolver != nil {
		return c.resolver, nil
	}
	store, err := c.storeLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.matcherUsed = true
	resolver, err := identity.NewResolver(store, c.scorerLocked(), c.matcher, c.log)
	if err != nil {
		return nil, err
	}
	c.resolver = resolver
	return c.resolver, nil
}

func (c *Context) EdgeBuilder(ctx context.Context) (*edges.Builder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builder != nil {
		return c.builder, nil
	}
	store, err := c.storeLocked(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := c.recorderLocked()
	if err != nil {
		return nil, err
	}
	builder, err := edges.NewBuilder(store, c.scorerLocked(), rec, c.log)
	if err != nil {
		return nil, err
	}
	c.builder = builder
	return c.builder, nil
}

func (c *Context) QueryEngine(ctx context.Context) (*query.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return c.engine, nil
	}
	store, err := c.storeLocked(ctx)
	if err != nil {
		return nil, err
	}
	if c.cache == nil && c.cfg.UseRedisCache {
		cache, err := query.NewRedisNameCache(c.log)
		if err != nil {
			c.log.Warn("redis name cache unavailable (continuing without)", "error", err)
		} else {
			c.cache = cache
		}
	}
	engine, err := query.NewEngine(store, c.scorerLocked(), c.cache, c.cfg.Query, c.log)
	if err != nil {
		return nil, err
	}
	c.engine = engine
	return c.engine, nil
}

// RefreshNameIndex drops the cached anchor name index so later queries
// see entities written since the last load. Returns the number of
// entries currently indexable.
func (c *Context) RefreshNameIndex(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		c.cache.Invalidate(ctx)
	}
	store, err := c.storeLocked(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := store.EntityNames(ctx, c.cfg.Query.NameLimit)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Close releases every held resource. Safe to call once; later calls are
// no-ops.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	if err := c.registry.Close(ctx); err != nil {
		first = err
	}
	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
