package memengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// vectorStore is the vector arm of hybrid retrieval: one Qdrant
// collection per deployment, points keyed by edge/entity uid,
// partitioned by a user_id payload field rather than by collection —
// grounded on the real qdrant/go-client SDK usage in
// intelligencedev-manifold's qdrant_vector.go, not the teacher's raw
// HTTP wrapper.
type vectorStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *zap.Logger
}

// VectorConfig selects the Qdrant endpoint and collection geometry.
type VectorConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	Dimension  int
}

func newVectorStore(ctx context.Context, cfg VectorConfig, logger *zap.Logger) (*vectorStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("memengine: vector collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("memengine: vector dimension must be > 0")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	v := &vectorStore{client: client, collection: cfg.Collection, dimension: cfg.Dimension, logger: logger.Named("memengine.vector")}
	if err := v.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return v, nil
}

func (v *vectorStore) ensureCollection(ctx context.Context) error {
	exists, err := v.client.CollectionExists(ctx, v.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(v.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// pointID derives a deterministic UUID from an edge/entity uid, since
// Qdrant point IDs must be UUIDs or unsigned integers.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// upsertFact indexes one edge's fact text embedding, tagged with
// userID and edgeUID so search results can be resolved back to the
// owning EdgeRecord via graph.GetEdgeRecord.
func (v *vectorStore) upsertFact(ctx context.Context, userID, edgeUID string, vector []float32) error {
	payload := qdrant.NewValueMap(map[string]any{
		"user_id":  userID,
		"edge_uid": edgeUID,
	})
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointID(edgeUID)),
		Vectors: qdrant.NewVectorsDense(vector),
		Payload: payload,
	}}
	_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: v.collection, Points: points})
	if err != nil {
		return fmt.Errorf("upsert fact vector: %w", err)
	}
	return nil
}

// vectorHit is one scored candidate with its edge_uid payload resolved.
type vectorHit struct {
	EdgeUID string
	Score   float64
}

func (v *vectorStore) search(ctx context.Context, userID string, query []float32, limit int) ([]vectorHit, error) {
	if limit <= 0 {
		limit = 10
	}
	l := uint64(limit)
	result, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQueryDense(query),
		Limit:          &l,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query fact vectors: %w", err)
	}
	hits := make([]vectorHit, 0, len(result))
	for _, p := range result {
		edgeUID := ""
		if p.Payload != nil {
			if v, ok := p.Payload["edge_uid"]; ok {
				edgeUID = v.GetStringValue()
			}
		}
		if edgeUID == "" {
			continue
		}
		hits = append(hits, vectorHit{EdgeUID: edgeUID, Score: float64(p.Score)})
	}
	return hits, nil
}

func (v *vectorStore) delete(ctx context.Context, edgeUID string) error {
	_, err := v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: v.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(edgeUID))),
	})
	return err
}

func (v *vectorStore) close() error {
	v.client.Close()
	return nil
}
