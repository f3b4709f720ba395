// Package ingestion loads resume sections into the vector index.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/models"
	storemodels "github.com/resumemate/backend/internal/storage/models"
	"github.com/resumemate/backend/internal/vector"
	"github.com/resumemate/backend/pkg/logger"
	"github.com/resumemate/backend/pkg/utils"
)

const (
	defaultChunkSize    = 500
	defaultChunkOverlap = 50
)

var ErrNoSections = errors.New("no resume sections to ingest")

// Section is one entry of the resume seed file.
type Section struct {
	ID       string `json:"id"`
	Title    string `json:"section"`
	Source   string `json:"source"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore keeps a readable copy of every indexed chunk.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, chunk *storemodels.ResumeChunk) error
}

type Processor struct {
	embedder     Embedder
	index        vector.Indexer
	store        ChunkStore
	chunkSize    int
	chunkOverlap int
	afterIngest  func(ctx context.Context)
}

type Option func(*Processor)

// WithChunking sets the chunk size and overlap, both in runes.
func WithChunking(size, overlap int) Option {
	return func(p *Processor) {
		if size > 0 && overlap >= 0 && overlap < size {
			p.chunkSize = size
			p.chunkOverlap = overlap
		}
	}
}

// OnIngest runs fn after every successful ingest, typically to drop
// cached answers that predate the new chunks.
func OnIngest(fn func(ctx context.Context)) Option {
	return func(p *Processor) { p.afterIngest = fn }
}

// NewProcessor builds a processor. store may be nil.
func NewProcessor(embedder Embedder, index vector.Indexer, store ChunkStore, opts ...Option) *Processor {
	p := &Processor{
		embedder:     embedder,
		index:        index,
		store:        store,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadFile ingests a JSON array of sections.
func (p *Processor) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read resume file: %w", err)
	}

	var sections []Section
	if err := json.Unmarshal(data, &sections); err != nil {
		return 0, fmt.Errorf("failed to parse resume file: %w", err)
	}

	return p.Ingest(ctx, sections)
}

// Ingest chunks, embeds and indexes the sections. Re-ingesting the same
// section replaces its chunks by id.
func (p *Processor) Ingest(ctx context.Context, sections []Section) (int, error) {
	var chunks []vector.Chunk
	var records []storemodels.ResumeChunk

	for i, s := range sections {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		sectionID := s.ID
		if sectionID == "" {
			sectionID = utils.ShortHash(fmt.Sprintf("%s|%s|%d", s.Title, s.Source, i))
		}
		lang := string(models.ParseLanguage(s.Language))

		for j, piece := range chunkText(text, p.chunkSize, p.chunkOverlap) {
			id := fmt.Sprintf("%s_chunk_%d", sectionID, j)
			chunks = append(chunks, vector.Chunk{
				ID:   id,
				Text: piece,
				Metadata: map[string]string{
					"section": s.Title,
					"source":  s.Source,
					"lang":    lang,
				},
			})
			records = append(records, storemodels.ResumeChunk{
				ID:       id,
				Section:  s.Title,
				Source:   s.Source,
				Language: lang,
				Text:     piece,
			})
		}
	}

	if len(chunks) == 0 {
		return 0, ErrNoSections
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	if err := p.index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to index chunks: %w", err)
	}

	if p.store != nil {
		now := time.Now()
		for i := range records {
			records[i].CreatedAt = now
			if err := p.store.UpsertChunk(ctx, &records[i]); err != nil {
				return 0, err
			}
		}
	}

	if p.afterIngest != nil {
		p.afterIngest(ctx)
	}

	logger.Info("Resume ingested",
		zap.Int("sections", len(sections)),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

// chunkText packs paragraphs into chunks of at most size runes. A
// paragraph longer than size is cut into windows that overlap by overlap
// runes.
func chunkText(text string, size, overlap int) []string {
	var chunks []string
	var current []rune

	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	for _, para := range strings.Split(text, "\n") {
		r := []rune(strings.TrimSpace(para))
		if len(r) == 0 {
			continue
		}

		if len(r) > size {
			flush()
			for start := 0; start < len(r); start += size - overlap {
				end := start + size
				if end > len(r) {
					end = len(r)
				}
				chunks = append(chunks, string(r[start:end]))
				if end == len(r) {
					break
				}
			}
			continue
		}

		if len(current)+len(r)+1 > size {
			flush()
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, r...)
	}
	flush()

	return chunks
}
