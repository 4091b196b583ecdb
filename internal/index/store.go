package index

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
)

// Sentinel errors for vector-store operations.
var (
	ErrEmptyVector     = errors.New("index: empty vector")
	ErrDimensionChange = errors.New("index: vector dimension does not match store")
)

// SearchResult is one vector-store match.
type SearchResult struct {
	Chunk      Chunk
	Similarity float32
}

// VectorStore persists embedded chunks and answers similarity queries.
type VectorStore interface {
	// Upsert writes chunks and their vectors; chunks[i] pairs with
	// vectors[i]. Existing chunk IDs are replaced.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Query returns up to topK chunks by similarity to the query vector,
	// optionally restricted to one video.
	Query(ctx context.Context, vector []float32, topK int, videoID string) ([]SearchResult, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteByVideoID removes every chunk belonging to a video.
	DeleteByVideoID(ctx context.Context, videoID string) error

	// ListChunks returns stored chunks whose video ID starts with prefix.
	ListChunks(ctx context.Context, prefix string, limit int) ([]Chunk, error)
}

// serializeVector encodes a vector as the little-endian FLOAT32 blob the
// vec0 virtual table expects.
func serializeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// l2Similarity converts an L2 distance between normalized vectors (range
// [0, 2]) to a similarity in [0, 1].
func l2Similarity(distance float32) float32 {
	s := 1.0 - distance/2.0
	if s < 0 {
		return 0
	}
	return s
}
