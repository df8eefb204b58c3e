package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists directory records in a single table keyed by
// (entity_type, id) with the entity fields in a JSONB column. The registry is
// the schema authority; the store is pure I/O.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, entityType, id string) (Record, error) {
	query := `
		SELECT id, data, created_at, updated_at, deleted_at
		FROM directory_records
		WHERE entity_type = $1 AND id = $2
	`
	var (
		rec     Record
		payload []byte
	)
	err := s.pool.QueryRow(ctx, query, entityType, id).
		Scan(&rec.ID, &payload, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	if err := json.Unmarshal(payload, &rec.Data); err != nil {
		return Record{}, fmt.Errorf("decode record data: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, entityType string, data map[string]any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode record data: %w", err)
	}
	id := uuid.NewString()
	now := time.Now()
	query := `
		INSERT INTO directory_records (entity_type, id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`
	if _, err := s.pool.Exec(ctx, query, entityType, id, payload, now); err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, entityType, id string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode record data: %w", err)
	}
	query := `
		UPDATE directory_records
		SET data = data || $3::jsonb, updated_at = $4
		WHERE entity_type = $1 AND id = $2 AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, entityType, id, payload, time.Now())
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, entityType, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM directory_records WHERE entity_type = $1 AND id = $2`, entityType, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, entityType, id string) error {
	query := `
		UPDATE directory_records
		SET deleted_at = $3, updated_at = $3
		WHERE entity_type = $1 AND id = $2 AND deleted_at IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, entityType, id, time.Now())
	if err != nil {
		return fmt.Errorf("soft delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, entityType string, opts ListOptions) ([]Record, error) {
	where, args := buildFilter(entityType, opts)

	query := fmt.Sprintf(`
		SELECT id, data, created_at, updated_at, deleted_at
		FROM directory_records
		%s
		ORDER BY %s %s
		OFFSET $%d
	`, where, sortExpr(opts.SortBy), sortDirection(opts.SortOrder), len(args)+1)
	args = append(args, opts.Offset)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &payload, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode record data: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, entityType string, opts ListOptions) (int, error) {
	where, args := buildFilter(entityType, opts)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM directory_records `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

func buildFilter(entityType string, opts ListOptions) (string, []any) {
	clauses := []string{"entity_type = $1"}
	args := []any{entityType}

	if !opts.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if opts.Search != "" && len(opts.SearchFields) > 0 {
		args = append(args, "%"+opts.Search+"%")
		var fields []string
		for _, f := range opts.SearchFields {
			fields = append(fields, fmt.Sprintf("data->>%s ILIKE $%d", quoteLiteral(f), len(args)))
		}
		clauses = append(clauses, "("+strings.Join(fields, " OR ")+")")
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// sortExpr renders the ORDER BY expression. Sort fields are validated against
// the registry before reaching the store, so the name can be inlined safely;
// quoteLiteral guards against catalogue mistakes regardless.
func sortExpr(sortBy string) string {
	switch sortBy {
	case "", "id":
		return "id"
	case "created_at":
		return "created_at"
	case "updated_at":
		return "updated_at"
	default:
		return "data->>" + quoteLiteral(sortBy)
	}
}

func sortDirection(order SortOrder) string {
	if order == SortDesc {
		return "DESC"
	}
	return "ASC"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Schema is the DDL for the directory records table. Applied by the migration
// tooling and by integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS directory_records (
	entity_type text NOT NULL,
	id          text NOT NULL,
	data        jsonb NOT NULL,
	created_at  timestamptz NOT NULL,
	updated_at  timestamptz NOT NULL,
	deleted_at  timestamptz,
	PRIMARY KEY (entity_type, id)
);
CREATE INDEX IF NOT EXISTS directory_records_type_idx ON directory_records (entity_type, deleted_at);
`
