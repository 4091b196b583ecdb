package index

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Compile-time check that MemStore implements VectorStore.
var _ VectorStore = (*MemStore)(nil)

type memEntry struct {
	chunk  Chunk
	vector []float32
}

// MemStore is an in-memory VectorStore for tests. Similarity uses the same
// L2-to-similarity mapping as the SQLite implementation.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry

	// FailUpserts forces Upsert to fail; used to exercise the best-effort
	// indexing path.
	FailUpserts bool
}

// NewMemStore creates an empty in-memory vector store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

// Upsert stores chunks with their vectors.
func (s *MemStore) Upsert(_ context.Context, chunks []Chunk, vectors [][]float32) error {
	if s.FailUpserts {
		return ErrEmptyVector
	}
	if len(chunks) != len(vectors) {
		return ErrEmptyVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return ErrEmptyVector
		}
		s.entries[chunk.ChunkID] = memEntry{chunk: chunk, vector: append([]float32(nil), vectors[i]...)}
	}
	return nil
}

// Query returns the topK nearest chunks by L2 distance.
func (s *MemStore) Query(_ context.Context, vector []float32, topK int, videoID string) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, e := range s.entries {
		if videoID != "" && e.chunk.VideoID != videoID {
			continue
		}
		results = append(results, SearchResult{
			Chunk:      e.chunk,
			Similarity: l2Similarity(l2Distance(vector, e.vector)),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes chunks by ID.
func (s *MemStore) Delete(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.entries, id)
	}
	return nil
}

// DeleteByVideoID removes every chunk of one video.
func (s *MemStore) DeleteByVideoID(_ context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.chunk.VideoID == videoID {
			delete(s.entries, id)
		}
	}
	return nil
}

// ListChunks returns chunks whose video ID starts with prefix.
func (s *MemStore) ListChunks(_ context.Context, prefix string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []Chunk
	for _, e := range s.entries {
		if strings.HasPrefix(e.chunk.VideoID, prefix) {
			chunks = append(chunks, e.chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].VideoID != chunks[j].VideoID {
			return chunks[i].VideoID < chunks[j].VideoID
		}
		return chunks[i].StartSeconds < chunks[j].StartSeconds
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func l2Distance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
