package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant server.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantProvider stores vectors in a remote Qdrant server over gRPC. Use it
// when the corpus outgrows the embedded store.
type QdrantProvider struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{client: client, cfg: cfg}, nil
}

func (p *QdrantProvider) Name() string { return "qdrant" }

func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := p.ensureCollection(ctx, collection, len(docs[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			val, err := qdrant.NewValue(v)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", k, err)
			}
			payload[k] = val
		}
		contentVal, _ := qdrant.NewValue(d.Content)
		keyVal, _ := qdrant.NewValue(d.ID)
		payload["content"] = contentVal
		payload["doc_key"] = keyVal

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(qdrantPointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Vector...),
			Payload: payload,
		}
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Get(ctx context.Context, collection string, id string) (*Document, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return nil, err
	}

	points, err := p.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(qdrantPointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	result := payloadToResult(points[0].Id, points[0].Payload, 0)
	return &Document{
		ID:       result.ID,
		Content:  result.Content,
		Metadata: result.Metadata,
	}, nil
}

func (p *QdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]Result, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = buildQdrantFilter(filter)
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		results = append(results, payloadToResult(point.Id, point.Payload, point.Score))
	}
	return results, nil
}

func (p *QdrantProvider) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(qdrantPointID(id))
	}

	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (p *QdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (p *QdrantProvider) Count(ctx context.Context, collection string) (int, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil || !exists {
		return 0, err
	}

	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func buildQdrantFilter(filter map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func payloadToResult(id *qdrant.PointId, payload map[string]*qdrant.Value, score float32) Result {
	result := Result{Score: score, Metadata: make(map[string]string)}

	for key, value := range payload {
		switch key {
		case "content":
			result.Content = value.GetStringValue()
		case "doc_key":
			result.ID = value.GetStringValue()
		default:
			result.Metadata[key] = value.GetStringValue()
		}
	}

	if result.ID == "" && id != nil {
		if u := id.GetUuid(); u != "" {
			result.ID = u
		} else {
			result.ID = fmt.Sprintf("%d", id.GetNum())
		}
	}
	return result
}

// qdrantPointID derives a deterministic UUID from a document key so
// arbitrary string keys map to valid Qdrant point IDs.
func qdrantPointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

var _ Provider = (*QdrantProvider)(nil)
