package identity

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
)

// ConfidenceScorer computes entity confidence from the number of
// corroborating mentions.
type ConfidenceScorer interface {
	MentionConfidence(base float64, mentionCount int) float64
}

// Matcher assigns an existing entity id to a mention that arrived without a
// pre-clustering key. Returning ok=false means no match; the resolver then
// mints a fresh id. Fuzzy/embedding matchers plug in here.
type Matcher interface {
	Match(ctx context.Context, m kg.Mention) (entityID string, ok bool, err error)
}

// ExactMatcher matches on exact surface form within the same entity type.
// This is the minimum conformant fallback behavior.
type ExactMatcher struct {
	Store graph.Store
}

func (em *ExactMatcher) Match(ctx context.Context, m kg.Mention) (string, bool, error) {
	name := strings.TrimSpace(m.Text)
	if name == "" {
		return "", false, nil
	}
	matches, err := em.Store.FindEntitiesByName(ctx, name, m.EntityType)
	if err != nil {
		return "", false, err
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	return matches[0].EntityID, true, nil
}

type Resolver struct {
	store   graph.Store
	scorer  ConfidenceScorer
	matcher Matcher
	log     *logger.Logger
}

func NewResolver(store graph.Store, scorer ConfidenceScorer, matcher Matcher, log *logger.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: graph store required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("identity: scorer required")
	}
	if log == nil {
		return nil, fmt.Errorf("identity: logger required")
	}
	if matcher == nil {
		matcher = &ExactMatcher{Store: store}
	}
	return &Resolver{store: store, scorer: scorer, matcher: matcher, log: log.With("service", "IdentityResolver")}, nil
}

// Resolve turns raw mentions into canonical entities and upserts each one
// in its own merge-by-id transaction. The returned map is keyed by entity
// id. Mentions sharing a pre-clustering key always land on one entity;
// keyless mentions go through the fallback matcher, then cluster with
// identical (type, text) pairs inside the batch, then get a fresh id.
func (r *Resolver) Resolve(ctx context.Context, mentions []kg.Mention) (map[string]*kg.Entity, error) {
	if len(mentions) == 0 {
		return map[string]*kg.Entity{}, nil
	}
	ctx, span := otel.Tracer("graphmesh/identity").Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(attribute.Int("kg.mentions", len(mentions))))
	defer span.End()

	groups := map[string][]kg.Mention{}
	order := make([]string, 0, len(mentions))
	local := map[string]string{} // (type|text) -> minted id for this batch

	for _, m := range mentions {
		id := strings.TrimSpace(m.EntityID)
		if id == "" {
			matched, ok, err := r.matcher.Match(ctx, m)
			if err != nil {
				return nil, fmt.Errorf("identity: fallback match %q: %w", m.Text, err)
			}
			if ok {
				id = matched
			} else {
				key := m.EntityType + "|" + strings.TrimSpace(m.Text)
				if minted, seen := local[key]; seen {
					id = minted
				} else {
					id = uuid.NewString()
					local[key] = id
				}
			}
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], m)
	}

	out := make(map[string]*kg.Entity, len(groups))
	for _, id := range order {
		entity, err := r.resolveGroup(id, groups[id])
		if err != nil {
			return nil, err
		}
		if err := r.store.UpsertEntity(ctx, entity); err != nil {
			return nil, fmt.Errorf("identity: upsert %s: %w", id, err)
		}
		out[id] = entity
	}
	r.log.Debug("resolved mentions", "mentions", len(mentions), "entities", len(out))
	return out, nil
}

// resolveGroup folds one mention group into an entity aggregate. Canonical
// name is the longest surface form (first seen wins ties); entity type is
// the majority label (first occurrence wins ties); confidence saturates
// with the mention count.
func (r *Resolver) resolveGroup(entityID string, group []kg.Mention) (*kg.Entity, error) {
	if len(group) == 0 {
		// Group derivation guarantees non-empty; defensive only.
		return nil, kgerr.Newf(kgerr.KindEmptyGroup, "entity %s has no mentions", entityID)
	}

	canonical := ""
	surfaceForms := make([]string, 0, len(group))
	seenForms := map[string]bool{}
	typeCounts := map[string]int{}
	typeOrder := make([]string, 0, 4)
	baseSum := 0.0

	for _, m := range group {
		text := strings.TrimSpace(m.Text)
		if text != "" && !seenForms[text] {
			seenForms[text] = true
			surfaceForms = append(surfaceForms, text)
		}
		if len(text) > len(canonical) {
			canonical = text
		}
		if _, seen := typeCounts[m.EntityType]; !seen {
			typeOrder = append(typeOrder, m.EntityType)
		}
		typeCounts[m.EntityType]++
		baseSum += m.Confidence
	}
	if len(surfaceForms) == 0 {
		return nil, kgerr.Newf(kgerr.KindEmptyGroup, "entity %s has only empty mention texts", entityID)
	}

	entityType := typeOrder[0]
	for _, t := range typeOrder {
		if typeCounts[t] > typeCounts[entityType] {
			entityType = t
		}
	}

	base := baseSum / float64(len(group))
	return &kg.Entity{
		EntityID:      entityID,
		CanonicalName: canonical,
		EntityType:    entityType,
		SurfaceForms:  surfaceForms,
		MentionCount:  len(group),
		Confidence:    r.scorer.MentionConfidence(base, len(group)),
		CreatedAt:     time.Now().UTC(),
	}, nil
}
