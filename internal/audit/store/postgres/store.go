package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"kosherdir/internal/audit"
)

// Store persists audit records in PostgreSQL. Pure I/O; redaction has already
// happened in the audit service by the time a record arrives here.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	oldData, err := marshalNullable(rec.OldData)
	if err != nil {
		return fmt.Errorf("encode old data: %w", err)
	}
	newData, err := marshalNullable(rec.NewData)
	if err != nil {
		return fmt.Errorf("encode new data: %w", err)
	}
	metadata, err := marshalNullable(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO audit_records (id, actor, action, entity_type, entity_id, old_data, new_data, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Actor,
		rec.Action,
		rec.EntityType,
		rec.EntityID,
		oldData,
		newData,
		metadata,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter, page, pageSize int) ([]audit.Record, error) {
	clauses := []string{"1=1"}
	var args []any

	if filter.Actor != "" {
		args = append(args, filter.Actor)
		clauses = append(clauses, fmt.Sprintf("actor = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		clauses = append(clauses, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`
		SELECT id, actor, action, entity_type, COALESCE(entity_id, ''), old_data, new_data, metadata, created_at
		FROM audit_records
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var (
			rec                        audit.Record
			oldData, newData, metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.EntityType, &rec.EntityID,
			&oldData, &newData, &metadata, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := unmarshalNullable(oldData, &rec.OldData); err != nil {
			return nil, fmt.Errorf("decode old data: %w", err)
		}
		if err := unmarshalNullable(newData, &rec.NewData); err != nil {
			return nil, fmt.Errorf("decode new data: %w", err)
		}
		if err := unmarshalNullable(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalNullable(data map[string]any) (any, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

func unmarshalNullable(payload []byte, dst *map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, dst)
}

// Schema is the DDL for the audit table. Applied by migration tooling and by
// integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id          text PRIMARY KEY,
	actor       text NOT NULL,
	action      text NOT NULL,
	entity_type text NOT NULL,
	entity_id   text,
	old_data    jsonb,
	new_data    jsonb,
	metadata    jsonb,
	created_at  timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_records_actor_idx ON audit_records (actor, created_at DESC);
CREATE INDEX IF NOT EXISTS audit_records_entity_idx ON audit_records (entity_type, created_at DESC);
`
