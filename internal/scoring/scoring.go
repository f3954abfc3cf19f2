package scoring

import (
	"math"
	"strings"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
)

// Config carries every tunable used by the default scorer. All factors are
// documented next to the formula that consumes them so behavior stays
// reproducible across deployments.
type Config struct {
	// Edge weight bounds; computed weights are always clamped into them.
	MinWeight float64
	MaxWeight float64

	// EvidenceFloor is the quality of empty evidence; quality rises
	// linearly with evidence length until EvidenceSaturation runes, then
	// stays at 1.0.
	EvidenceFloor      float64
	EvidenceSaturation int

	// DistanceScale controls how fast weight decays as the textual
	// distance between subject and object grows.
	DistanceScale float64

	// LengthDecay is the per-extra-hop multiplier applied to path weights.
	LengthDecay float64

	// PageRankBoost amplifies graph centrality in related-entity scores.
	PageRankBoost float64

	// ConnectionSaturation is the connection count past which more edges
	// stop raising a related-entity score.
	ConnectionSaturation int
}

func DefaultConfig() Config {
	return Config{
		MinWeight:            0.1,
		MaxWeight:            1.0,
		EvidenceFloor:        0.5,
		EvidenceSaturation:   200,
		DistanceScale:        50,
		LengthDecay:          0.85,
		PageRankBoost:        1.5,
		ConnectionSaturation: 10,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MinWeight = envutil.Float("KG_MIN_EDGE_WEIGHT", cfg.MinWeight)
	cfg.MaxWeight = envutil.Float("KG_MAX_EDGE_WEIGHT", cfg.MaxWeight)
	cfg.EvidenceFloor = envutil.Float("KG_EVIDENCE_FLOOR", cfg.EvidenceFloor)
	cfg.EvidenceSaturation = envutil.Int("KG_EVIDENCE_SATURATION", cfg.EvidenceSaturation)
	cfg.DistanceScale = envutil.Float("KG_DISTANCE_SCALE", cfg.DistanceScale)
	cfg.LengthDecay = envutil.Float("KG_LENGTH_DECAY", cfg.LengthDecay)
	cfg.PageRankBoost = envutil.Float("KG_PAGERANK_BOOST", cfg.PageRankBoost)
	cfg.ConnectionSaturation = envutil.Int("KG_CONNECTION_SATURATION", cfg.ConnectionSaturation)
	return cfg
}

// Scorer is the default strategy set. Components depend on the narrow
// interfaces they need (identity.ConfidenceScorer, edges.WeightScorer,
// query.RankScorer); Scorer satisfies all of them.
type Scorer struct {
	cfg Config
}

func New(cfg Config) *Scorer {
	if cfg.MaxWeight <= cfg.MinWeight {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Config() Config { return s.cfg }

// MentionConfidence boosts entity confidence monotonically with the number
// of corroborating mentions: 1 - (1-base)^count, capped at 1.0.
func (s *Scorer) MentionConfidence(base float64, mentionCount int) float64 {
	if mentionCount < 1 {
		mentionCount = 1
	}
	base = clamp01(base)
	return clamp01(1.0 - math.Pow(1.0-base, float64(mentionCount)))
}

// EdgeWeight combines candidate confidence with evidence quality, distance
// decay and method reliability, clamped into [MinWeight, MaxWeight].
func (s *Scorer) EdgeWeight(c *kg.RelationshipCandidate) float64 {
	w := c.Confidence *
		s.EvidenceQuality(c.EvidenceText) *
		s.DistanceDecay(c.EntityDistance) *
		s.MethodReliability(c.ExtractionMethod)
	return s.ClampWeight(w)
}

func (s *Scorer) ClampWeight(w float64) float64 {
	if w < s.cfg.MinWeight {
		return s.cfg.MinWeight
	}
	if w > s.cfg.MaxWeight {
		return s.cfg.MaxWeight
	}
	return w
}

// EvidenceQuality rises from the floor with evidence length and saturates
// at 1.0 once the evidence reaches EvidenceSaturation runes.
func (s *Scorer) EvidenceQuality(evidence string) float64 {
	n := len([]rune(strings.TrimSpace(evidence)))
	if n <= 0 {
		return s.cfg.EvidenceFloor
	}
	frac := float64(n) / float64(s.cfg.EvidenceSaturation)
	if frac > 1 {
		frac = 1
	}
	return s.cfg.EvidenceFloor + (1.0-s.cfg.EvidenceFloor)*frac
}

// DistanceDecay shrinks weight as the textual distance between subject and
// object grows: 1 / (1 + distance/scale).
func (s *Scorer) DistanceDecay(distance int) float64 {
	if distance <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + float64(distance)/s.cfg.DistanceScale)
}

// Extraction method multipliers: syntactic parses beat surface patterns,
// which beat bare proximity.
const (
	MethodDependencyParse = "dependency_parse"
	MethodPattern         = "pattern"
	MethodProximity       = "proximity"
)

func (s *Scorer) MethodReliability(method string) float64 {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case MethodDependencyParse:
		return 1.0
	case MethodPattern:
		return 0.85
	case MethodProximity:
		return 0.7
	default:
		return 0.6
	}
}

// PathWeight is the product of the constituent edge weights, decayed by
// LengthDecay once per hop past the first.
func (s *Scorer) PathWeight(edgeWeights []float64) float64 {
	if len(edgeWeights) == 0 {
		return 0
	}
	w := 1.0
	for _, ew := range edgeWeights {
		w *= ew
	}
	for i := 1; i < len(edgeWeights); i++ {
		w *= s.cfg.LengthDecay
	}
	return w
}

// RelatedConfidence scores a related-entity result: it grows with graph
// centrality (pagerank-style score amplified by PageRankBoost) and with the
// number of connecting edges (saturating), scaled by the anchor confidence.
func (s *Scorer) RelatedConfidence(centrality float64, connectionCount int, anchorConfidence float64) float64 {
	if connectionCount < 0 {
		connectionCount = 0
	}
	connFrac := float64(connectionCount) / float64(s.cfg.ConnectionSaturation)
	if connFrac > 1 {
		connFrac = 1
	}
	boosted := clamp01(centrality * s.cfg.PageRankBoost)
	return clamp01(anchorConfidence * (0.4*boosted + 0.6*connFrac))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
