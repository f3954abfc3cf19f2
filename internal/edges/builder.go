package edges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
	"github.com/yungbote/graphmesh-backend/internal/provenance"
)

// WeightScorer turns a relationship candidate into a clamped edge weight.
type WeightScorer interface {
	EdgeWeight(c *kg.RelationshipCandidate) float64
}

type BuildOptions struct {
	// VerifyEntities fails the whole batch with a missing-entity error when
	// any referenced entity id has no node in the graph (strict mode).
	// Without it the underlying store may still reject individual writes.
	VerifyEntities bool
}

// BuildResult is a partial-success report: edges committed before the first
// write failure stay committed. Callers must never assume batch atomicity.
type BuildResult struct {
	Created []*kg.Edge
	// Skipped counts candidates dropped by (subject, object, type) dedupe.
	Skipped int
	// FirstErr is the write error that aborted the remaining batch, nil
	// when every surviving edge was committed.
	FirstErr error
}

type Builder struct {
	store    graph.Store
	scorer   WeightScorer
	recorder provenance.Recorder
	log      *logger.Logger
}

func NewBuilder(store graph.Store, scorer WeightScorer, recorder provenance.Recorder, log *logger.Logger) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("edges: graph store required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("edges: scorer required")
	}
	if log == nil {
		return nil, fmt.Errorf("edges: logger required")
	}
	return &Builder{store: store, scorer: scorer, recorder: recorder, log: log.With("service", "EdgeBuilder")}, nil
}

// Build validates, weighs, deduplicates and persists a batch of candidate
// relationships. Validation is all-or-nothing: a single malformed candidate
// rejects the batch before any write. Each surviving edge is written in its
// own transaction; on a write failure the remaining writes are aborted and
// the result reports already-committed edges plus the first error.
func (b *Builder) Build(ctx context.Context, candidates []kg.RelationshipCandidate, opts BuildOptions) (*BuildResult, error) {
	if err := validate(candidates); err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer("graphmesh/edges").Start(ctx, "Builder.Build",
		trace.WithAttributes(
			attribute.Int("kg.candidates", len(candidates)),
			attribute.Bool("kg.verify_entities", opts.VerifyEntities)))
	defer span.End()

	opID, _ := b.beginOperation(ctx, candidates, opts)

	if opts.VerifyEntities {
		if err := b.verifyEntities(ctx, candidates); err != nil {
			b.sealOperation(ctx, opID, false, nil, err)
			return nil, err
		}
	}

	survivors := dedupe(candidates)

	result := &BuildResult{Skipped: len(candidates) - len(survivors)}
	now := time.Now().UTC()
	for _, c := range survivors {
		edge := &kg.Edge{
			RelationshipID:   relationshipID(c),
			RelationshipType: c.RelationshipType,
			SubjectID:        c.Subject.EntityID,
			ObjectID:         c.Object.EntityID,
			Weight:           b.scorer.EdgeWeight(&c),
			Confidence:       c.Confidence,
			CreatedAt:        now,
		}
		if err := b.store.CreateEdge(ctx, edge); err != nil {
			result.FirstErr = fmt.Errorf("edges: write %s: %w", edge.DedupeKey(), err)
			span.RecordError(result.FirstErr)
			break
		}
		result.Created = append(result.Created, edge)
	}

	b.sealOperation(ctx, opID, result.FirstErr == nil, map[string]any{
		"created": len(result.Created),
		"skipped": result.Skipped,
	}, result.FirstErr)

	b.log.Debug("edge batch built",
		"candidates", len(candidates),
		"created", len(result.Created),
		"skipped", result.Skipped,
		"failed", result.FirstErr != nil)
	return result, result.FirstErr
}

func validate(candidates []kg.RelationshipCandidate) error {
	for i, c := range candidates {
		switch {
		case strings.TrimSpace(c.Subject.EntityID) == "":
			return kgerr.Newf(kgerr.KindInvalidInput, "candidate %d: empty subject ref", i)
		case strings.TrimSpace(c.Object.EntityID) == "":
			return kgerr.Newf(kgerr.KindInvalidInput, "candidate %d: empty object ref", i)
		case strings.TrimSpace(c.RelationshipType) == "":
			return kgerr.Newf(kgerr.KindInvalidInput, "candidate %d: empty relationship type", i)
		}
	}
	return nil
}

func (b *Builder) verifyEntities(ctx context.Context, candidates []kg.RelationshipCandidate) error {
	seen := map[string]bool{}
	ids := make([]string, 0, len(candidates)*2)
	for _, c := range candidates {
		for _, id := range []string{c.Subject.EntityID, c.Object.EntityID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	missing, err := b.store.MissingEntities(ctx, ids)
	if err != nil {
		return fmt.Errorf("edges: existence check: %w", err)
	}
	if len(missing) > 0 {
		return kgerr.MissingEntities(missing)
	}
	return nil
}

// dedupe keeps the max-confidence candidate per (subject, object, type),
// preserving first-seen order of the surviving keys.
func dedupe(candidates []kg.RelationshipCandidate) []kg.RelationshipCandidate {
	best := map[string]int{}
	order := make([]string, 0, len(candidates))
	for i, c := range candidates {
		key := c.Subject.EntityID + "|" + c.Object.EntityID + "|" + c.RelationshipType
		if j, ok := best[key]; ok {
			if c.Confidence > candidates[j].Confidence {
				best[key] = i
			}
			continue
		}
		best[key] = i
		order = append(order, key)
	}
	out := make([]kg.RelationshipCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, candidates[best[key]])
	}
	return out
}

func relationshipID(c kg.RelationshipCandidate) string {
	if strings.TrimSpace(c.RelationshipID) != "" {
		return c.RelationshipID
	}
	return uuid.NewString()
}

func (b *Builder) beginOperation(ctx context.Context, candidates []kg.RelationshipCandidate, opts BuildOptions) (uuid.UUID, error) {
	if b.recorder == nil {
		return uuid.Nil, nil
	}
	opID, err := b.recorder.Begin(ctx, "edge_builder", "build_edges", map[string]any{
		"candidates":      len(candidates),
		"verify_entities": opts.VerifyEntities,
	})
	if err != nil {
		b.log.Warn("provenance begin failed (continuing)", "error", err)
		return uuid.Nil, err
	}
	return opID, nil
}

func (b *Builder) sealOperation(ctx context.Context, opID uuid.UUID, success bool, outputs map[string]any, opErr error) {
	if b.recorder == nil || opID == uuid.Nil {
		return
	}
	if err := b.recorder.Seal(ctx, opID, success, outputs, opErr); err != nil {
		b.log.Warn("provenance seal failed", "error", err)
	}
}
