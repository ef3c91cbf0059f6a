package memengine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// keywordIndex is the fuzzy/exact keyword arm of hybrid retrieval,
// indexing Edge fact_text rather than entity names — generalized from
// teacher internal/entity/bleve_index.go, which indexed only the
// "name" field for entity resolution.
type keywordIndex struct {
	index  bleve.Index
	config KeywordConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

// KeywordConfig mirrors the teacher's entity.Config shape.
type KeywordConfig struct {
	IndexPath string
	InMemory  bool
	Fuzziness int
}

func newKeywordIndex(cfg KeywordConfig, logger *zap.Logger) (*keywordIndex, error) {
	if cfg.Fuzziness <= 0 {
		cfg.Fuzziness = 2
	}
	ki := &keywordIndex{config: cfg, logger: logger.Named("memengine.keyword")}

	var err error
	if cfg.InMemory {
		ki.index, err = bleve.NewMemOnly(ki.mapping())
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index directory: %w", err)
		}
		ki.index, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			ki.index, err = bleve.New(cfg.IndexPath, ki.mapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open/create keyword index: %w", err)
	}
	return ki, nil
}

func (ki *keywordIndex) mapping() mapping.IndexMapping {
	factMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Index = true
	textField.Store = true
	textField.IncludeTermVectors = true
	textField.IncludeInAll = true
	factMapping.AddFieldMappingsAt("fact_text", textField)

	ownerField := bleve.NewTextFieldMapping()
	ownerField.Index = true
	ownerField.Store = true
	ownerField.IncludeInAll = false
	factMapping.AddFieldMappingsAt("user_id", ownerField)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping("fact", factMapping)
	m.DefaultAnalyzer = "standard"
	return m
}

// factDoc is the document shape stored per indexed edge.
type factDoc struct {
	EdgeUID  string `json:"edge_uid"`
	FactText string `json:"fact_text"`
	UserID   string `json:"user_id"`
}

func (ki *keywordIndex) indexFact(edgeUID, userID, factText string) error {
	ki.mu.Lock()
	defer ki.mu.Unlock()
	return ki.index.Index(edgeUID, factDoc{EdgeUID: edgeUID, FactText: factText, UserID: userID})
}

// keywordHit is one scored candidate.
type keywordHit struct {
	EdgeUID string
	Score   float64
}

func (ki *keywordIndex) search(userID, text string, limit int) ([]keywordHit, error) {
	fuzzy := query.NewFuzzyQuery(text)
	fuzzy.SetField("fact_text")
	fuzzy.SetFuzziness(ki.config.Fuzziness)

	ownerQuery := query.NewTermQuery(userID)
	ownerQuery.SetField("user_id")

	combined := query.NewConjunctionQuery([]query.Query{fuzzy, ownerQuery})

	req := bleve.NewSearchRequest(combined)
	req.Size = limit
	req.Fields = []string{"edge_uid", "fact_text"}

	result, err := ki.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]keywordHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		edgeUID, _ := h.Fields["edge_uid"].(string)
		if edgeUID == "" {
			edgeUID = h.ID
		}
		hits = append(hits, keywordHit{EdgeUID: edgeUID, Score: h.Score})
	}
	return hits, nil
}

func (ki *keywordIndex) delete(edgeUID string) error {
	ki.mu.Lock()
	defer ki.mu.Unlock()
	return ki.index.Delete(edgeUID)
}

func (ki *keywordIndex) close() error {
	ki.mu.Lock()
	defer ki.mu.Unlock()
	return ki.index.Close()
}
