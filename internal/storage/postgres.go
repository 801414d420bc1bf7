package storage

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/egogaze/internal/config"
	"github.com/bdougie/egogaze/internal/embeddings"
	"github.com/bdougie/egogaze/internal/models"
)

// RunInfo describes one evaluation run
type RunInfo struct {
	Mode  string
	Model string
}

// PostgresStorage records results and salience embeddings for one run
type PostgresStorage struct {
	pool     *pgxpool.Pool
	embedder *embeddings.Service
	runID    uuid.UUID
}

// OpenPostgres connects to the database without starting a run, for
// read-only use such as SearchSimilar
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, embedder *embeddings.Service) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStorage{pool: pool, embedder: embedder}, nil
}

// NewPostgresStorage connects to the database and registers a new run
func NewPostgresStorage(ctx context.Context, cfg config.PostgresConfig, embedder *embeddings.Service, run RunInfo) (*PostgresStorage, error) {
	storage, err := OpenPostgres(ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}
	storage.runID = uuid.New()

	_, err = storage.pool.Exec(ctx,
		"INSERT INTO runs (id, mode, model, started_at) VALUES ($1, $2, $3, $4)",
		storage.runID.String(), run.Mode, run.Model, time.Now())
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to create run entry: %w", err)
	}

	return storage, nil
}

// RunID identifies the rows written by this storage
func (s *PostgresStorage) RunID() uuid.UUID {
	return s.runID
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// AddResult stores one answer
func (s *PostgresStorage) AddResult(ctx context.Context, result models.EvalResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO results
        (run_id, video_id, clip_name, question, answer_options, model_answer, reference_answer, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.runID.String(), result.VideoID, result.ClipName, result.Question, result.AnswerOptions,
		result.ModelAnswer, result.ReferenceAnswer, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

func (s *PostgresStorage) embed(ctx context.Context, key string, m *image.Gray) ([]float32, error) {
	select {
	case res := <-s.embedder.GetEmbedding(key, m):
		return res.Embedding, res.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddSalience stores the embedding of a rendered salience map, replacing any
// earlier map for the same group
func (s *PostgresStorage) AddSalience(ctx context.Context, videoID, groupKey, question string, m *image.Gray) error {
	embedding, err := s.embed(ctx, videoID+"/"+groupKey, m)
	if err != nil {
		return fmt.Errorf("failed to embed salience map: %w", err)
	}
	if embeddings.IsZero(embedding) {
		// a map with no gaze has no trajectory to compare
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO salience_maps (video_id, group_key, question, embedding, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (video_id, group_key)
        DO UPDATE SET question = EXCLUDED.question, embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at`,
		videoID, groupKey, question, pgvector.NewVector(embedding), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store salience map: %w", err)
	}
	return nil
}

// SearchSimilar finds stored gaze trajectories whose salience maps are
// closest to m by cosine distance
func (s *PostgresStorage) SearchSimilar(ctx context.Context, m *image.Gray, limit int) ([]models.SimilarTrajectory, error) {
	query, err := embeddings.Embed(m)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query map: %w", err)
	}
	if embeddings.IsZero(query) {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT video_id, group_key, question, 1 - (embedding <=> $1) AS similarity
        FROM salience_maps
        ORDER BY embedding <=> $1
        LIMIT $2`,
		pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search salience maps: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SimilarTrajectory, error) {
		var t models.SimilarTrajectory
		err := row.Scan(&t.VideoID, &t.GroupKey, &t.Question, &t.Similarity)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan search results: %w", err)
	}
	return results, nil
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, cfg config.PostgresConfig) error {
	conn, err := pgx.Connect(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS runs (
            id UUID PRIMARY KEY,
            mode VARCHAR(32) NOT NULL,
            model VARCHAR(255) NOT NULL,
            started_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS results (
            id SERIAL PRIMARY KEY,
            run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
            video_id VARCHAR(255) NOT NULL,
            clip_name VARCHAR(255) NOT NULL DEFAULT '',
            question TEXT NOT NULL,
            answer_options TEXT NOT NULL,
            model_answer TEXT NOT NULL,
            reference_answer TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS salience_maps (
            id SERIAL PRIMARY KEY,
            video_id VARCHAR(255) NOT NULL,
            group_key VARCHAR(255) NOT NULL,
            question TEXT NOT NULL,
            embedding vector(%d),
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(video_id, group_key)
        );
    `, embeddings.Dimensions))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id);
        CREATE INDEX IF NOT EXISTS idx_salience_embedding ON salience_maps USING hnsw (embedding vector_cosine_ops);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
