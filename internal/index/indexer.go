package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/llm"
)

// DefaultBatchSize bounds how many chunk texts go into one embedding call.
const DefaultBatchSize = 64

// Indexer embeds summary chunks and upserts them into the vector store.
type Indexer struct {
	embedder  llm.Embedder
	store     VectorStore
	batchSize int
	logger    *slog.Logger
}

// NewIndexer wires an embedder and a vector store. batchSize <= 0 uses the
// default.
func NewIndexer(embedder llm.Embedder, store VectorStore, batchSize int, logger *slog.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{embedder: embedder, store: store, batchSize: batchSize, logger: logger}
}

// IndexSummary derives chunks from a completed summary, embeds them in
// batches, and upserts them keyed by their deterministic IDs. Re-running on
// the same summary rewrites the same rows.
func (ix *Indexer) IndexSummary(ctx context.Context, videoID string, summary *diary.DailySummary) (int, error) {
	chunks := ChunksFromSummary(videoID, summary)
	if len(chunks) == 0 {
		ix.logger.Info("no indexable content in summary", "video_id", videoID)
		return 0, nil
	}

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if err := ix.store.Upsert(ctx, batch, vectors); err != nil {
			return 0, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
	}

	ix.logger.Info("summary indexed", "video_id", videoID, "chunks", len(chunks))
	return len(chunks), nil
}
