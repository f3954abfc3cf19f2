package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/graphmesh-backend/internal/data/graph"
	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

// RankScorer supplies the weighting strategies the engine needs; the
// default implementation lives in internal/scoring.
type RankScorer interface {
	PathWeight(edgeWeights []float64) float64
	RelatedConfidence(centrality float64, connectionCount int, anchorConfidence float64) float64
}

type Config struct {
	// MinQueryLen rejects shorter query texts as invalid.
	MinQueryLen int
	// PartialMatchConfidence is the anchor confidence assigned to partial
	// (token) matches; exact name matches always score 1.0.
	PartialMatchConfidence float64
	// AnchorThreshold drops anchors below this confidence.
	AnchorThreshold float64
	// NameLimit caps the name index loaded for anchor extraction.
	NameLimit int
	// DefaultLimit applies when the caller passes resultLimit <= 0.
	DefaultLimit int
}

func DefaultConfig() Config {
	return Config{
		MinQueryLen:            3,
		PartialMatchConfidence: 0.6,
		AnchorThreshold:        0.5,
		NameLimit:              10000,
		DefaultLimit:           10,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MinQueryLen = envutil.Int("KG_QUERY_MIN_LEN", cfg.MinQueryLen)
	cfg.PartialMatchConfidence = envutil.Float("KG_PARTIAL_MATCH_CONFIDENCE", cfg.PartialMatchConfidence)
	cfg.AnchorThreshold = envutil.Float("KG_ANCHOR_THRESHOLD", cfg.AnchorThreshold)
	cfg.NameLimit = envutil.Int("KG_NAME_INDEX_LIMIT", cfg.NameLimit)
	cfg.DefaultLimit = envutil.Int("KG_QUERY_DEFAULT_LIMIT", cfg.DefaultLimit)
	return cfg
}

// Anchor is an entity matched in the query text, used as a traversal start.
type Anchor struct {
	EntityID    string
	Name        string
	MatchedText string
	Confidence  float64
}

type Engine struct {
	store  graph.Store
	scorer RankScorer
	cache  NameIndexCache
	cfg    Config
	log    *logger.Logger
}

// NewEngine builds a query engine. cache may be nil; the name index is then
// loaded from the store on every query.
func NewEngine(store graph.Store, scorer RankScorer, cache NameIndexCache, cfg Config, log *logger.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("query: graph store required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("query: scorer required")
	}
	if log == nil {
		return nil, fmt.Errorf("query: logger required")
	}
	if cfg.MinQueryLen <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, scorer: scorer, cache: cache, cfg: cfg, log: log.With("service", "QueryEngine")}, nil
}

// Query answers a natural-language-anchored multi-hop question. Two or more
// anchors trigger bounded path search between every pair; exactly one
// anchor yields related-entity expansion. No anchors is a successful empty
// result, not an error. No returned path ever exceeds maxHops edges.
func (e *Engine) Query(ctx context.Context, text string, maxHops, resultLimit int) ([]kg.RankedResult, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < e.cfg.MinQueryLen {
		return nil, kgerr.Newf(kgerr.KindInvalidQuery, "query text shorter than %d characters", e.cfg.MinQueryLen)
	}
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > 3 {
		maxHops = 3
	}
	if resultLimit <= 0 {
		resultLimit = e.cfg.DefaultLimit
	}
	ctx, span := otel.Tracer("graphmesh/query").Start(ctx, "Engine.Query",
		trace.WithAttributes(
			attribute.Int("kg.max_hops", maxHops),
			attribute.Int("kg.limit", resultLimit)))
	defer span.End()

	anchors, err := e.ExtractAnchors(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("kg.anchors", len(anchors)))
	if len(anchors) == 0 {
		e.log.Debug("no anchors found", "query_len", len(trimmed))
		return []kg.RankedResult{}, nil
	}

	var results []kg.RankedResult
	if len(anchors) >= 2 {
		results, err = e.pathResults(ctx, anchors, maxHops)
	} else {
		results, err = e.relatedResults(ctx, anchors[0], maxHops)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > resultLimit {
		results = results[:resultLimit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// ExtractAnchors matches substrings of the query against known canonical
// names and surface forms. A full name present in the query scores 1.0; a
// name whose leading token appears in the query scores the configured
// partial confidence. Anchors below the threshold are dropped, best match
// per entity wins.
func (e *Engine) ExtractAnchors(ctx context.Context, text string) ([]Anchor, error) {
	entries, err := e.nameIndex(ctx)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(text)

	best := map[string]Anchor{}
	for _, entry := range entries {
		names := make([]string, 0, len(entry.SurfaceForms)+1)
		if entry.CanonicalName != "" {
			names = append(names, entry.CanonicalName)
		}
		names = append(names, entry.SurfaceForms...)

		for _, name := range names {
			conf, matched := e.matchName(lowered, name)
			if conf < e.cfg.AnchorThreshold {
				continue
			}
			prev, ok := best[entry.EntityID]
			if !ok || conf > prev.Confidence || (conf == prev.Confidence && len(matched) > len(prev.MatchedText)) {
				best[entry.EntityID] = Anchor{
					EntityID:    entry.EntityID,
					Name:        entry.CanonicalName,
					MatchedText: matched,
					Confidence:  conf,
				}
			}
		}
	}

	anchors := make([]Anchor, 0, len(best))
	for _, a := range best {
		anchors = append(anchors, a)
	}
	sort.SliceStable(anchors, func(i, j int) bool {
		if anchors[i].Confidence != anchors[j].Confidence {
			return anchors[i].Confidence > anchors[j].Confidence
		}
		return anchors[i].EntityID < anchors[j].EntityID
	})
	return anchors, nil
}

func (e *Engine) matchName(loweredQuery, name string) (float64, string) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return 0, ""
	}
	if strings.Contains(loweredQuery, n) {
		return 1.0, name
	}
	// Partial: leading token of a multi-word name appearing on its own.
	if tok, _, ok := strings.Cut(n, " "); ok && len(tok) >= 3 && strings.Contains(loweredQuery, tok) {
		return e.cfg.PartialMatchConfidence, tok
	}
	return 0, ""
}

func (e *Engine) pathResults(ctx context.Context, anchors []Anchor, maxHops int) ([]kg.RankedResult, error) {
	var results []kg.RankedResult
	for i := 0; i < len(anchors); i++ {
		for j := i + 1; j < len(anchors); j++ {
			paths, err := e.store.Paths(ctx, anchors[i].EntityID, anchors[j].EntityID, maxHops)
			if err != nil {
				return nil, fmt.Errorf("query: path search %s->%s: %w", anchors[i].EntityID, anchors[j].EntityID, err)
			}
			anchorConf := anchors[i].Confidence
			if anchors[j].Confidence < anchorConf {
				anchorConf = anchors[j].Confidence
			}
			for _, p := range paths {
				if p.Hops() > maxHops {
					continue
				}
				weight := e.scorer.PathWeight(p.EdgeWeights)
				results = append(results, kg.RankedResult{
					Kind:        kg.ResultPath,
					Score:       rankingScore(weight, anchorConf, p.Hops()),
					Confidence:  anchorConf,
					Explanation: explainPath(p),
					Path:        p,
				})
			}
		}
	}
	return results, nil
}

func (e *Engine) relatedResults(ctx context.Context, anchor Anchor, maxHops int) ([]kg.RankedResult, error) {
	neighbors, err := e.store.Neighbors(ctx, anchor.EntityID, maxHops)
	if err != nil {
		return nil, fmt.Errorf("query: neighbor lookup %s: %w", anchor.EntityID, err)
	}
	results := make([]kg.RankedResult, 0, len(neighbors))
	for _, n := range neighbors {
		conf := e.scorer.RelatedConfidence(n.Centrality, n.ConnectionCount, anchor.Confidence)
		results = append(results, kg.RankedResult{
			Kind:        kg.ResultRelatedEntity,
			Score:       rankingScore(conf, anchor.Confidence, n.Distance),
			Confidence:  conf,
			Explanation: explainRelated(anchor, n),
			Related:     n,
		})
	}
	return results, nil
}

// rankingScore combines connection strength and confidence with a length
// penalty: at equal weight, shorter paths rank higher.
func rankingScore(weight, confidence float64, hops int) float64 {
	if hops < 1 {
		hops = 1
	}
	return (0.6*weight + 0.4*confidence) / (1.0 + 0.1*float64(hops-1))
}

// explainPath renders "A works for B, B is located in C" from the node and
// relation sequences.
func explainPath(p *kg.Path) string {
	if p == nil || len(p.EntityNames) < 2 || len(p.RelationTypes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.RelationTypes))
	for i, rel := range p.RelationTypes {
		if i+1 >= len(p.EntityNames) {
			break
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", p.EntityNames[i], humanizeRelation(rel), p.EntityNames[i+1]))
	}
	return strings.Join(parts, ", ")
}

func explainRelated(anchor Anchor, n *kg.Neighbor) string {
	name := n.Entity.CanonicalName
	if name == "" {
		name = n.Entity.EntityID
	}
	hops := "hop"
	if n.Distance != 1 {
		hops = "hops"
	}
	return fmt.Sprintf("%s is connected to %s within %d %s through %d relationships",
		name, anchor.Name, n.Distance, hops, n.ConnectionCount)
}

func humanizeRelation(rel string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(rel), "_", " "))
}

func (e *Engine) nameIndex(ctx context.Context) ([]graph.NameEntry, error) {
	if e.cache != nil {
		if entries, ok := e.cache.Get(ctx); ok {
			return entries, nil
		}
	}
	entries, err := e.store.EntityNames(ctx, e.cfg.NameLimit)
	if err != nil {
		return nil, fmt.Errorf("query: load name index: %w", err)
	}
	if e.cache != nil {
		e.cache.Set(ctx, entries)
	}
	return entries, nil
}
