// Package tools registers the built-in DAG tools the CLI exposes. Each
// tool is a thin adapter from orchestrator inputs onto one service call.
package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/graphmesh-backend/internal/domain/kg"
	"github.com/yungbote/graphmesh-backend/internal/edges"
	"github.com/yungbote/graphmesh-backend/internal/jobs/orchestrator"
	"github.com/yungbote/graphmesh-backend/internal/platform/kgerr"
	"github.com/yungbote/graphmesh-backend/internal/services"
)

// RegisterAll wires the built-in tools into the registry.
func RegisterAll(reg *orchestrator.Registry, svc *services.Context) error {
	all := []orchestrator.Tool{
		orchestrator.ToolFunc{ToolID: "ingest", Fn: ingest},
		orchestrator.ToolFunc{ToolID: "resolve", Fn: resolveTool(svc)},
		orchestrator.ToolFunc{ToolID: "build_edges", Fn: buildEdgesTool(svc)},
		orchestrator.ToolFunc{ToolID: "query", Fn: queryTool(svc)},
		orchestrator.ToolFunc{ToolID: "consolidate", Fn: consolidateTool(svc)},
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// dataset is the on-disk shape consumed by the ingest tool: extraction
// output (mentions plus relationship candidates) in one YAML document.
type dataset struct {
	Mentions []struct {
		Text       string  `yaml:"text"`
		EntityType string  `yaml:"entity_type"`
		StartPos   int     `yaml:"start_pos"`
		EndPos     int     `yaml:"end_pos"`
		SourceRef  string  `yaml:"source_ref"`
		Confidence float64 `yaml:"confidence"`
		EntityID   string  `yaml:"entity_id"`
	} `yaml:"mentions"`
	Candidates []struct {
		RelationshipType string  `yaml:"relationship_type"`
		SubjectName      string  `yaml:"subject"`
		ObjectName       string  `yaml:"object"`
		Confidence       float64 `yaml:"confidence"`
		ExtractionMethod string  `yaml:"extraction_method"`
		EvidenceText     string  `yaml:"evidence_text"`
		EntityDistance   int     `yaml:"entity_distance"`
		SourceRef        string  `yaml:"source_ref"`
	} `yaml:"candidates"`
}

// ingest loads a dataset file and hands its mentions and candidates to
// downstream nodes. Candidates name their endpoints; ids are attached by
// build_edges after resolution.
func ingest(ctx context.Context, in orchestrator.ToolInput) (map[string]any, error) {
	path, _ := in.Params["path"].(string)
	if path == "" {
		return nil, kgerr.New(kgerr.KindInvalidInput, "ingest: missing path param")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	var ds dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("ingest: parse %s: %w", path, err)
	}

	mentions := make([]kg.Mention, 0, len(ds.Mentions))
	for _, m := range ds.Mentions {
		mentions = append(mentions, kg.Mention{
			Text:       m.Text,
			EntityType: m.EntityType,
			StartPos:   m.StartPos,
			EndPos:     m.EndPos,
			SourceRef:  m.SourceRef,
			Confidence: m.Confidence,
			EntityID:   m.EntityID,
		})
	}
	candidates := make([]kg.RelationshipCandidate, 0, len(ds.Candidates))
	for _, c := range ds.Candidates {
		candidates = append(candidates, kg.RelationshipCandidate{
			RelationshipType: c.RelationshipType,
			Subject:          kg.EntityRef{Name: c.SubjectName},
			Object:           kg.EntityRef{Name: c.ObjectName},
			Confidence:       c.Confidence,
			ExtractionMethod: c.ExtractionMethod,
			EvidenceText:     c.EvidenceText,
			EntityDistance:   c.EntityDistance,
			SourceRef:        c.SourceRef,
		})
	}
	return map[string]any{
		"mentions":        mentions,
		"candidates":      candidates,
		"mention_count":   len(mentions),
		"candidate_count": len(candidates),
	}, nil
}

func resolveTool(svc *services.Context) func(context.Context, orchestrator.ToolInput) (map[string]any, error) {
	return func(ctx context.Context, in orchestrator.ToolInput) (map[string]any, error) {
		mentions, ok := upstreamValue[[]kg.Mention](in, "mentions")
		if !ok {
			return nil, kgerr.New(kgerr.KindInvalidInput, "resolve: no upstream mentions")
		}
		resolver, err := svc.IdentityResolver(ctx)
		if err != nil {
			return nil, err
		}
		entities, err := resolver.Resolve(ctx, mentions)
		if err != nil {
			return nil, err
		}
		byName := map[string]string{}
		for id, e := range entities {
			byName[strings.ToLower(e.CanonicalName)] = id
			for _, sf := range e.SurfaceForms {
				byName[strings.ToLower(sf)] = id
			}
		}
		return map[string]any{
			"entities":     entities,
			"ids_by_name":  byName,
			"entity_count": len(entities),
		}, nil
	}
}

func buildEdgesTool(svc *services.Context) func(context.Context, orchestrator.ToolInput) (map[string]any, error) {
	return func(ctx context.Context, in orchestrator.ToolInput) (map[string]any, error) {
		candidates, ok := upstreamValue[[]kg.RelationshipCandidate](in, "candidates")
		if !ok {
			return nil, kgerr.New(kgerr.KindInvalidInput, "build_edges: no upstream candidates")
		}
		byName, _ := upstreamValue[map[string]string](in, "ids_by_name")

		bound := make([]kg.RelationshipCandidate, 0, len(candidates))
		var unresolved []string
		for _, c := range candidates {
			c.Subject.EntityID = refID(c.Subject, byName)
			c.Object.EntityID = refID(c.Object, byName)
			if c.Subject.EntityID == "" || c.Object.EntityID == "" {
				unresolved = append(unresolved, c.Subject.Name+" -> "+c.Object.Name)
				continue
			}
			bound = append(bound, c)
		}

		builder, err := svc.EdgeBuilder(ctx)
		if err != nil {
			return nil, err
		}
		verify, _ := in.Params["verify_entities"].(bool)
		result, err := builder.Build(ctx, bound, edges.BuildOptions{VerifyEntities: verify})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"created":    len(result.Created),
			"skipped":    result.Skipped,
			"unresolved": unresolved,
		}, nil
	}
}

func queryTool(svc *services.Context) func(context.Context, orchestrator.ToolInput) (map[string]any, error) {
	return func(ctx context.Context, in orchestrator.ToolInput) (map[string]any, error) {
		text, _ := in.Params["text"].(string)
		if text == "" {
			text, _ = in.RunInputs["query"].(string)
		}
		maxHops := intParam(in.Params, "max_hops", 2)
		limit := intParam(in.Params, "limit", 0)

		engine, err := svc.QueryEngine(ctx)
		if err != nil {
			return nil, err
		}
		results, err := engine.Query(ctx, text, maxHops, limit)
		if err != nil {
			return nil, err
		}
		explanations := make([]string, 0, len(results))
		for _, r := range results {
			explanations = append(explanations, fmt.Sprintf("%d. [%.3f] %s", r.Rank, r.Score, r.Explanation))
		}
		return map[string]any{
			"results":      results,
			"explanations": explanations,
			"result_count": len(results),
		}, nil
	}
}

func consolidateTool(svc *services.Context) func(context.Context, orchestrator.ToolInput) (map[string]any, error) {
	return func(ctx context.Context, in orchestrator.ToolInput) (map[string]any, error) {
		indexed, err := svc.RefreshNameIndex(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"indexed_entities": indexed}, nil
	}
}

// upstreamValue finds the first output of type T under the given key across
// all dependency outputs.
func upstreamValue[T any](in orchestrator.ToolInput, key string) (T, bool) {
	for _, outs := range in.Upstream {
		if v, ok := outs[key].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func refID(ref kg.EntityRef, byName map[string]string) string {
	if ref.EntityID != "" {
		return ref.EntityID
	}
	if byName == nil {
		return ""
	}
	return byName[strings.ToLower(strings.TrimSpace(ref.Name))]
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
