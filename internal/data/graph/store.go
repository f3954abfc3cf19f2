package graph

import (
	"context"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
)

// NameEntry is one entity's matchable names, used by the query engine to
// find anchors in free text.
type NameEntry struct {
	EntityID      string   `json:"entity_id"`
	CanonicalName string   `json:"canonical_name"`
	EntityType    string   `json:"entity_type"`
	SurfaceForms  []string `json:"surface_forms"`
}

// Store is the persisted knowledge graph. Writers (identity resolution,
// edge building) and readers (query engine) share one property layout, so
// both sides of the interface must come from the same implementation.
//
// UpsertEntity and CreateEdge each execute in their own transaction; the
// upsert is an atomic merge-by-id so two concurrent writers can never
// create distinct nodes for the same entity id.
type Store interface {
	// UpsertEntity merges the given aggregate into the node with the same
	// id. MentionCount is a delta (mentions observed by this writer);
	// surface forms are unioned, canonical name stays the longest known
	// form, and confidence only moves upward.
	UpsertEntity(ctx context.Context, e *kg.Entity) error

	GetEntity(ctx context.Context, entityID string) (*kg.Entity, error)

	// MissingEntities returns the subset of ids that have no node in the
	// graph, in the order given.
	MissingEntities(ctx context.Context, entityIDs []string) ([]string, error)

	// FindEntitiesByName returns entities of the given type carrying the
	// exact surface form. Used by the fallback matcher for mentions that
	// arrive without a pre-clustering key.
	FindEntitiesByName(ctx context.Context, name, entityType string) ([]*kg.Entity, error)

	// CreateEdge writes one directed edge in one transaction, merged by
	// (subject, object, relationship type).
	CreateEdge(ctx context.Context, e *kg.Edge) error

	// EntityNames lists matchable names for anchor extraction, capped at
	// limit (<=0 means the implementation default).
	EntityNames(ctx context.Context, limit int) ([]NameEntry, error)

	// Paths returns every path of 1..maxHops edges between the two
	// entities, traversing edges in either direction.
	Paths(ctx context.Context, fromID, toID string, maxHops int) ([]*kg.Path, error)

	// Neighbors returns entities reachable within maxHops of the anchor,
	// with per-neighbor distance, connection count and centrality score.
	Neighbors(ctx context.Context, entityID string, maxHops int) ([]*kg.Neighbor, error)
}
