// Package archive persists sentiment signals to Postgres for offline
// analysis and backtests. Archiving is optional and best-effort: the cache
// stays the source of truth for the live strategy.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/schema"
)

const createTableDDL = `
CREATE TABLE IF NOT EXISTS sentiment_signals (
	id           BIGSERIAL PRIMARY KEY,
	article_id   TEXT        NOT NULL,
	pair         TEXT        NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	label        TEXT        NOT NULL,
	headline     TEXT        NOT NULL,
	source       TEXT        NOT NULL,
	model        TEXT        NOT NULL,
	fallback     BOOLEAN     NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	analyzed_at  TIMESTAMPTZ NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (article_id, pair)
)`

const insertSQL = `
INSERT INTO sentiment_signals
	(article_id, pair, score, label, headline, source, model, fallback, published_at, analyzed_at)
VALUES
	(:article_id, :pair, :score, :label, :headline, :source, :model, :fallback, :published_at, :analyzed_at)
ON CONFLICT (article_id, pair) DO NOTHING`

// Store archives signals into the sentiment_signals table.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, createTableDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ensure table: %w", err)
	}
	log.Info().Msg("signal archive ready")
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type signalRecord struct {
	ArticleID   string    `db:"article_id"`
	Pair        string    `db:"pair"`
	Score       float64   `db:"score"`
	Label       string    `db:"label"`
	Headline    string    `db:"headline"`
	Source      string    `db:"source"`
	Model       string    `db:"model"`
	Fallback    bool      `db:"fallback"`
	PublishedAt time.Time `db:"published_at"`
	AnalyzedAt  time.Time `db:"analyzed_at"`
}

// Insert archives one signal. Re-inserting the same article and pair is a
// no-op, so requeued messages cannot duplicate rows.
func (s *Store) Insert(ctx context.Context, signal *schema.SentimentSignalMessage) error {
	record := signalRecord{
		ArticleID:   signal.ArticleID,
		Pair:        signal.Pair,
		Score:       signal.Score,
		Label:       signal.Label,
		Headline:    signal.Headline,
		Source:      signal.Source,
		Model:       signal.Model,
		Fallback:    signal.FallbackUsed,
		PublishedAt: signal.Timestamp.UTC(),
		AnalyzedAt:  signal.AnalyzedAt.UTC(),
	}
	if _, err := s.db.NamedExecContext(ctx, insertSQL, record); err != nil {
		return fmt.Errorf("archive: insert %s/%s: %w", signal.ArticleID, signal.Pair, err)
	}
	return nil
}

// CountByPair reports archived signal counts, used by the status command.
func (s *Store) CountByPair(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT pair, COUNT(*) AS n FROM sentiment_signals GROUP BY pair ORDER BY pair`)
	if err != nil {
		return nil, fmt.Errorf("archive: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var pair string
		var n int64
		if err := rows.Scan(&pair, &n); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		counts[pair] = n
	}
	return counts, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
