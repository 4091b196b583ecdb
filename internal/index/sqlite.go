package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore implements VectorStore on SQLite with the sqlite-vec
// extension. Chunk metadata lives in a plain table; vectors live in a vec0
// virtual table joined by chunk ID.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
}

// NewSQLiteStore opens (or creates) the vector database at path.
// dimensions fixes the vec0 column width and must match the embedding
// model's output size.
func NewSQLiteStore(path string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("index: invalid dimensions %d", dimensions)
	}

	sqlite_vec.Auto()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, dimensions: dimensions}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id      TEXT PRIMARY KEY,
			video_id      TEXT NOT NULL,
			source_kind   TEXT NOT NULL,
			text          TEXT NOT NULL,
			start_seconds REAL NOT NULL,
			end_seconds   REAL NOT NULL,
			speakers      TEXT,
			date          TEXT,
			activity      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_video ON chunks(video_id)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			chunk_id TEXT PRIMARY KEY,
			embedding FLOAT[%d]
		)`, s.dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("index: migrate: %w", err)
		}
	}
	return nil
}

// Upsert writes chunks and their vectors in one transaction. The vec0
// table does not support UPSERT, so rows are deleted then inserted.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, chunk := range chunks {
		vec := vectors[i]
		if len(vec) == 0 {
			return fmt.Errorf("%w: chunk %s", ErrEmptyVector, chunk.ChunkID)
		}
		if len(vec) != s.dimensions {
			return fmt.Errorf("%w: got %d, store is %d", ErrDimensionChange, len(vec), s.dimensions)
		}

		speakers, err := json.Marshal(chunk.Speakers)
		if err != nil {
			return fmt.Errorf("index: marshal speakers: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (chunk_id, video_id, source_kind, text,
				start_seconds, end_seconds, speakers, date, activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				video_id = excluded.video_id,
				source_kind = excluded.source_kind,
				text = excluded.text,
				start_seconds = excluded.start_seconds,
				end_seconds = excluded.end_seconds,
				speakers = excluded.speakers,
				date = excluded.date,
				activity = excluded.activity`,
			chunk.ChunkID, chunk.VideoID, string(chunk.Kind), chunk.Text,
			chunk.StartSeconds, chunk.EndSeconds, string(speakers), chunk.Date, chunk.Activity,
		)
		if err != nil {
			return fmt.Errorf("index: upsert chunk %s: %w", chunk.ChunkID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id = ?`, chunk.ChunkID); err != nil {
			return fmt.Errorf("index: clear vector %s: %w", chunk.ChunkID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)`,
			chunk.ChunkID, serializeVector(vec),
		); err != nil {
			return fmt.Errorf("index: insert vector %s: %w", chunk.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit upsert: %w", err)
	}
	return nil
}

// Query returns up to topK chunks by L2 distance to the query vector.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topK int, videoID string) ([]SearchResult, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if topK <= 0 {
		topK = 10
	}

	query := `
		SELECT c.chunk_id, c.video_id, c.source_kind, c.text,
		       c.start_seconds, c.end_seconds, c.speakers, c.date, c.activity,
		       vec_distance_L2(v.embedding, ?) AS distance
		FROM vec_chunks v
		JOIN chunks c ON c.chunk_id = v.chunk_id`
	args := []interface{}{serializeVector(vector)}
	if videoID != "" {
		query += ` WHERE c.video_id = ?`
		args = append(args, videoID)
	}
	query += ` ORDER BY distance LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			chunk    Chunk
			kind     string
			speakers sql.NullString
			distance float32
		)
		err := rows.Scan(&chunk.ChunkID, &chunk.VideoID, &kind, &chunk.Text,
			&chunk.StartSeconds, &chunk.EndSeconds, &speakers, &chunk.Date, &chunk.Activity,
			&distance)
		if err != nil {
			return nil, fmt.Errorf("index: scan result: %w", err)
		}
		chunk.Kind = SourceKind(kind)
		if speakers.Valid && speakers.String != "" {
			_ = json.Unmarshal([]byte(speakers.String), &chunk.Speakers)
		}
		results = append(results, SearchResult{Chunk: chunk, Similarity: l2Similarity(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate results: %w", err)
	}
	return results, nil
}

// Delete removes chunks and their vectors by ID.
func (s *SQLiteStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("index: delete vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("index: delete chunks: %w", err)
	}
	return tx.Commit()
}

// DeleteByVideoID removes every chunk belonging to one video.
func (s *SQLiteStore) DeleteByVideoID(ctx context.Context, videoID string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE video_id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("index: list video chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("index: scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("index: iterate chunk ids: %w", err)
	}
	return s.Delete(ctx, ids)
}

// ListChunks returns stored chunks whose video ID starts with prefix.
func (s *SQLiteStore) ListChunks(ctx context.Context, prefix string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, video_id, source_kind, text,
		       start_seconds, end_seconds, speakers, date, activity
		FROM chunks
		WHERE video_id LIKE ? || '%'
		ORDER BY video_id, start_seconds
		LIMIT ?`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []Chunk
	for rows.Next() {
		var (
			chunk    Chunk
			kind     string
			speakers sql.NullString
		)
		err := rows.Scan(&chunk.ChunkID, &chunk.VideoID, &kind, &chunk.Text,
			&chunk.StartSeconds, &chunk.EndSeconds, &speakers, &chunk.Date, &chunk.Activity)
		if err != nil {
			return nil, fmt.Errorf("index: scan chunk: %w", err)
		}
		chunk.Kind = SourceKind(kind)
		if speakers.Valid && speakers.String != "" {
			_ = json.Unmarshal([]byte(speakers.String), &chunk.Speakers)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate chunks: %w", err)
	}
	return chunks, nil
}
