package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/common"
)

// DB is the subset of pgxpool.Pool used by Postgres, satisfied by pgxmock
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createCacheTable = `CREATE TABLE IF NOT EXISTS extraction_cache (
	fingerprint TEXT PRIMARY KEY,
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectCacheEntry = `SELECT result FROM extraction_cache WHERE fingerprint = $1`
	insertCacheEntry = `INSERT INTO extraction_cache (fingerprint, result, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (fingerprint) DO NOTHING`
)

// Postgres is a Store backed by the extraction_cache table.
type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres creates a connection pool for dsn and makes sure the cache
// table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{db: pool, pool: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the cache table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createCacheTable); err != nil {
		return fmt.Errorf("create extraction_cache: %w", err)
	}
	return nil
}

func (p *Postgres) Lookup(
	ctx context.Context,
	fp common.Fingerprint,
) (common.ExtractionResult, bool, error) {
	var raw []byte
	err := p.db.QueryRow(ctx, selectCacheEntry, string(fp)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ExtractionResult{}, false, nil
	}
	if err != nil {
		return common.ExtractionResult{}, false, fmt.Errorf("select cache entry: %w", err)
	}

	var result common.ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return common.ExtractionResult{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return result, true, nil
}

func (p *Postgres) Store(
	ctx context.Context,
	fp common.Fingerprint,
	result common.ExtractionResult,
) error {
	e := newEntry(fp, sanitizeResult(result))
	raw, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = p.db.Exec(ctx, insertCacheEntry, string(fp), string(raw), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// sanitizeResult strips what JSONB rejects from the text fields. It runs
// before encoding since json.Marshal escapes NUL as \u0000.
func sanitizeResult(r common.ExtractionResult) common.ExtractionResult {
	out := r.Clone()
	for _, list := range [][]common.Entity{out.Concepts, out.Themes, out.People, out.Emotions} {
		for i := range list {
			list[i].Name = util.SanitizePostgresText(list[i].Name)
			list[i].NormalizedName = util.SanitizePostgresText(list[i].NormalizedName)
		}
	}
	out.Summary = util.SanitizePostgresText(out.Summary)
	return out
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
