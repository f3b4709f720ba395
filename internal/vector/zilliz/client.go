package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/vector"
	"github.com/resumemate/backend/pkg/logger"
)

var outputFields = []string{"chunk_id", "text", "section", "source", "lang"}

// Client is a vector.Store over a Milvus or Zilliz Cloud collection
// indexed with the COSINE metric.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.EnableTLSAuth = true
	}

	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// Ready reports whether the collection exists and is loaded.
func (z *Client) Ready(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return fmt.Errorf("collection %s does not exist", z.collectionName)
	}
	return nil
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	err = z.client.CreateCollection(ctx, schema(z.collectionName, z.vectorDim), entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func schema(name string, dim int) *entity.Schema {
	varchar := func(field string, maxLen int, pk bool) *entity.Field {
		return &entity.Field{
			Name:       field,
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: pk,
			TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
		}
	}
	return &entity.Schema{
		CollectionName: name,
		Description:    "Resume knowledge base passages",
		Fields: []*entity.Field{
			varchar("chunk_id", 128, true),
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", dim),
				},
			},
			varchar("text", 4096, false),
			varchar("section", 128, false),
			varchar("source", 256, false),
			varchar("lang", 16, false),
			{
				Name:     "timestamp",
				DataType: entity.FieldTypeInt64,
			},
		},
	}
}

// Upsert replaces chunks by id.
func (z *Client) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	sections := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	langs := make([]string, len(chunks))
	timestamps := make([]int64, len(chunks))

	now := time.Now().Unix()
	for i, chunk := range chunks {
		if len(chunk.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s: %w", chunk.ID, vector.ErrDimensionMismatch)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		sections[i] = chunk.Metadata["section"]
		sources[i] = chunk.Metadata["source"]
		langs[i] = chunk.Metadata["lang"]
		timestamps[i] = now
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", z.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("section", sections),
		entity.NewColumnVarChar("source", sources),
		entity.NewColumnVarChar("lang", langs),
		entity.NewColumnInt64("timestamp", timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

func (z *Client) Query(ctx context.Context, vec []float32, k int) ([]vector.Match, error) {
	if len(vec) != z.vectorDim {
		return nil, vector.ErrDimensionMismatch
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding",
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]vector.Match, 0, k)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			m := vector.Match{
				// COSINE scores are similarities in [-1,1].
				Distance: 1 - float64(sr.Scores[i]),
				Metadata: make(map[string]any, len(outputFields)),
			}
			for _, name := range outputFields {
				col := sr.Fields.GetColumn(name)
				if col == nil {
					continue
				}
				v, err := col.GetAsString(i)
				if err != nil {
					continue
				}
				switch name {
				case "chunk_id":
					m.ID = v
				case "text":
					m.Text = v
				default:
					if v != "" {
						m.Metadata[name] = v
					}
				}
			}
			if m.ID == "" && sr.IDs != nil {
				m.ID, _ = sr.IDs.GetAsString(i)
			}
			matches = append(matches, m)
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("k", k),
		zap.Int("results", len(matches)),
	)

	return matches, nil
}
