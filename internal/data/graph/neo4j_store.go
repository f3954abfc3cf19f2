package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/platform/neo4jdb"
)

const defaultNameLimit = 10000

// Neo4jStore persists the knowledge graph as (:Entity) nodes connected by
// [:REL {relationship_type}] edges. The relationship type lives in a
// property because Cypher cannot parameterize relationship labels; readers
// in this package use the same layout.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, kgerr.New(kgerr.KindConnection, "neo4j client not configured")
	}
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &Neo4jStore{client: client, log: log.With("store", "Neo4jGraph")}, nil
}

// InitSchema creates the uniqueness constraint and lookup index. Best
// effort: restricted users may not hold schema privileges.
func (s *Neo4jStore) InitSchema(ctx context.Context) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE INDEX entity_type_idx IF NOT EXISTS FOR (e:Entity) ON (e.entity_type)`,
		`CREATE INDEX entity_name_idx IF NOT EXISTS FOR (e:Entity) ON (e.canonical_name)`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (s *Neo4jStore) UpsertEntity(ctx context.Context, e *kg.Entity) error {
	if e == nil || e.EntityID == "" {
		return kgerr.New(kgerr.KindInvalidInput, "entity missing id")
	}
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	params := map[string]any{
		"id":         e.EntityID,
		"name":       e.CanonicalName,
		"type":       e.EntityType,
		"forms":      e.SurfaceForms,
		"count":      int64(e.MentionCount),
		"confidence": e.Confidence,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (e:Entity {id: $id})
ON CREATE SET e.canonical_name = $name,
              e.entity_type = $type,
              e.surface_forms = $forms,
              e.mention_count = $count,
              e.confidence = $confidence,
              e.created_at = $created_at
ON MATCH SET  e.surface_forms = [x IN e.surface_forms WHERE NOT x IN $forms] + $forms,
              e.mention_count = e.mention_count + $count,
              e.confidence = CASE WHEN $confidence > e.confidence THEN $confidence ELSE e.confidence END,
              e.canonical_name = CASE WHEN size($name) > size(e.canonical_name) THEN $name ELSE e.canonical_name END
`, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return wrapNeo4jErr("upsert entity", err)
	}
	return nil
}

func (s *Neo4jStore) GetEntity(ctx context.Context, entityID string) (*kg.Entity, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {id: $id})
RETURN e.id, e.canonical_name, e.entity_type, e.surface_forms, e.mention_count, e.confidence, e.created_at
`, map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return entityFromRecord(rec.Values), nil
	})
	if err != nil {
		if isNoRecords(err) {
			return nil, nil
		}
		return nil, wrapNeo4jErr("get entity", err)
	}
	return out.(*kg.Entity), nil
}

func (s *Neo4jStore) MissingEntities(ctx context.Context, entityIDs []string) ([]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity) WHERE e.id IN $ids
RETURN e.id
`, map[string]any{"ids": entityIDs})
		if err != nil {
			return nil, err
		}
		found := map[string]bool{}
		for res.Next(ctx) {
			if id, ok := res.Record().Values[0].(string); ok {
				found[id] = true
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		missing := make([]string, 0)
		for _, id := range entityIDs {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return missing, nil
	})
	if err != nil {
		return nil, wrapNeo4jErr("existence check", err)
	}
	return out.([]string), nil
}

func (s *Neo4jStore) FindEntitiesByName(ctx context.Context, name, entityType string) ([]*kg.Entity, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {entity_type: $type})
WHERE $name IN e.surface_forms OR e.canonical_name = $name
RETURN e.id, e.canonical_name, e.entity_type, e.surface_forms, e.mention_count, e.confidence, e.created_at
`, map[string]any{"name": name, "type": entityType})
		if err != nil {
			return nil, err
		}
		var entities []*kg.Entity
		for res.Next(ctx) {
			entities = append(entities, entityFromRecord(res.Record().Values))
		}
		return entities, res.Err()
	})
	if err != nil {
		return nil, wrapNeo4jErr("find entities by name", err)
	}
	return out.([]*kg.Entity), nil
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, e *kg.Edge) error {
	if e == nil || e.SubjectID == "" || e.ObjectID == "" || e.RelationshipType == "" {
		return kgerr.New(kgerr.KindInvalidInput, "edge missing subject, object or type")
	}
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Entity {id: $subject_id})
MATCH (b:Entity {id: $object_id})
MERGE (a)-[r:REL {relationship_type: $type}]->(b)
SET r.relationship_id = $relationship_id,
    r.weight = $weight,
    r.confidence = $confidence,
    r.created_at = $created_at
RETURN count(r)
`, map[string]any{
			"subject_id":      e.SubjectID,
			"object_id":       e.ObjectID,
			"type":            e.RelationshipType,
			"relationship_id": e.RelationshipID,
			"weight":          e.Weight,
			"confidence":      e.Confidence,
			"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if n, ok := rec.Values[0].(int64); ok && n == 0 {
			return nil, kgerr.MissingEntities([]string{e.SubjectID, e.ObjectID})
		}
		return nil, nil
	})
	if err != nil {
		if kgerr.KindOf(err) != "" {
			return err
		}
		return wrapNeo4jErr("create edge", err)
	}
	return nil
}

func (s *Neo4jStore) EntityNames(ctx context.Context, limit int) ([]NameEntry, error) {
	if limit <= 0 {
		limit = defaultNameLimit
	}
	session := s.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (e:Entity)
RETURN e.id, e.canonical_name, e.entity_type, e.surface_forms
ORDER BY e.mention_count DESC
LIMIT %d
`, limit), nil)
		if err != nil {
			return nil, err
		}
		var entries []NameEntry
		for res.Next(ctx) {
			vals := res.Record().Values
			entries = append(entries, NameEntry{
				EntityID:      asString(vals[0]),
				CanonicalName: asString(vals[1]),
				EntityType:    asString(vals[2]),
				SurfaceForms:  asStrings(vals[3]),
			})
		}
		return entries, res.Err()
	})
	if err != nil {
		return nil, wrapNeo4jErr("entity names", err)
	}
	return out.([]NameEntry), nil
}

func (s *Neo4jStore) Paths(ctx context.Context, fromID, toID string, maxHops int) ([]*kg.Path, error) {
	maxHops = clampHops(maxHops)
	session := s.readSession(ctx)
	defer session.Close(ctx)

	// Hop bound cannot be a parameter; it is clamped to 1..3 above.
	query := fmt.Sprintf(`
MATCH p = (a:Entity {id: $from})-[:REL*1..%d]-(b:Entity {id: $to})
RETURN [n IN nodes(p) | n.id] AS ids,
       [n IN nodes(p) | n.canonical_name] AS names,
       [r IN relationships(p) | r.relationship_type] AS types,
       [r IN relationships(p) | r.weight] AS weights
`, maxHops)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"from": fromID, "to": toID})
		if err != nil {
			return nil, err
		}
		var paths []*kg.Path
		for res.Next(ctx) {
			vals := res.Record().Values
			paths = append(paths, &kg.Path{
				EntityIDs:     asStrings(vals[0]),
				EntityNames:   asStrings(vals[1]),
				RelationTypes: asStrings(vals[2]),
				EdgeWeights:   asFloats(vals[3]),
			})
		}
		return paths, res.Err()
	})
	if err != nil {
		return nil, wrapNeo4jErr("path search", err)
	}
	return out.([]*kg.Path), nil
}

func (s *Neo4jStore) Neighbors(ctx context.Context, entityID string, maxHops int) ([]*kg.Neighbor, error) {
	maxHops = clampHops(maxHops)
	session := s.readSession(ctx)
	defer session.Close(ctx)

	// Centrality is approximated by degree normalized against the highest
	// degree in the neighborhood; good enough for ranking without the GDS
	// plugin.
	query := fmt.Sprintf(`
MATCH p = (a:Entity {id: $id})-[:REL*1..%d]-(n:Entity)
WHERE n.id <> $id
WITH n, min(length(p)) AS dist
MATCH (n)-[r:REL]-()
WITH n, dist, count(r) AS degree
RETURN n.id, n.canonical_name, n.entity_type, n.surface_forms, n.mention_count, n.confidence, n.created_at, dist, degree
`, maxHops)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		var neighbors []*kg.Neighbor
		maxDegree := int64(0)
		type row struct {
			ent    *kg.Entity
			dist   int64
			degree int64
		}
		var rows []row
		for res.Next(ctx) {
			vals := res.Record().Values
			ent := entityFromRecord(vals[:7])
			dist, _ := vals[7].(int64)
			degree, _ := vals[8].(int64)
			if degree > maxDegree {
				maxDegree = degree
			}
			rows = append(rows, row{ent: ent, dist: dist, degree: degree})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		for _, r := range rows {
			centrality := 0.0
			if maxDegree > 0 {
				centrality = float64(r.degree) / float64(maxDegree)
			}
			neighbors = append(neighbors, &kg.Neighbor{
				Entity:          r.ent,
				Distance:        int(r.dist),
				ConnectionCount: int(r.degree),
				Centrality:      centrality,
			})
		}
		sort.SliceStable(neighbors, func(i, j int) bool { return neighbors[i].Distance < neighbors[j].Distance })
		return neighbors, nil
	})
	if err != nil {
		return nil, wrapNeo4jErr("neighbor lookup", err)
	}
	return out.([]*kg.Neighbor), nil
}

func (s *Neo4jStore) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func (s *Neo4jStore) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
}

func clampHops(maxHops int) int {
	if maxHops < 1 {
		return 1
	}
	if maxHops > 3 {
		return 3
	}
	return maxHops
}

func wrapNeo4jErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kgerr.Wrap(kgerr.KindTimeout, op, err)
	}
	if neo4j.IsConnectivityError(err) {
		return kgerr.Wrap(kgerr.KindConnection, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNoRecords(err error) bool {
	var usage *neo4j.UsageError
	return errors.As(err, &usage)
}

func entityFromRecord(vals []any) *kg.Entity {
	e := &kg.Entity{
		EntityID:      asString(vals[0]),
		CanonicalName: asString(vals[1]),
		EntityType:    asString(vals[2]),
		SurfaceForms:  asStrings(vals[3]),
	}
	if n, ok := vals[4].(int64); ok {
		e.MentionCount = int(n)
	}
	if c, ok := vals[5].(float64); ok {
		e.Confidence = c
	}
	if ts := asString(vals[6]); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.CreatedAt = t
		}
	}
	return e
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloats(v any) []float64 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		switch f := item.(type) {
		case float64:
			out = append(out, f)
		case int64:
			out = append(out, float64(f))
		}
	}
	return out
}
