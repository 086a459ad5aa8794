package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"shopfloor/api/internal/backend"
)

var ErrUnknownColumn = errors.New("unknown column")

// Records are read as to_jsonb(row) so every table decodes the same way.
// Parameters are always sent as text and cast to the column type in SQL.

func schemaFor(table string) (tableSchema, error) {
	s, ok := schemas[table]
	if !ok {
		return tableSchema{}, fmt.Errorf("%w: %q", backend.ErrUnknownTable, table)
	}
	return s, nil
}

type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) param(col Column, value any) (string, error) {
	text, isNull, err := textValue(value)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", col.Name, err)
	}
	if isNull {
		return "NULL", nil
	}
	b.args = append(b.args, text)
	return fmt.Sprintf("$%d::text::%s", len(b.args), col.SQLType), nil
}

func (b *sqlBuilder) where(schema tableSchema, filters []backend.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		col, ok := schema.column(f.Column)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownColumn, f.Column)
		}
		op := "="
		if f.Op == backend.FilterGte {
			op = ">="
		}
		if f.Value == nil && op == "=" {
			clauses = append(clauses, fmt.Sprintf("t.%s IS NULL", quote(col.Name)))
			continue
		}
		p, err := b.param(col, f.Value)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, fmt.Sprintf("t.%s %s %s", quote(col.Name), op, p))
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func buildSelect(table string, q backend.Query) (string, []any, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	where, err := b.where(schema, q.Filters)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("SELECT to_jsonb(t) FROM ")
	sb.WriteString(quote(table))
	sb.WriteString(" AS t")
	sb.WriteString(where)
	orders := make([]string, 0, len(q.Order)+1)
	for _, o := range q.Order {
		col, ok := schema.column(o.Column)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownColumn, o.Column)
		}
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		orders = append(orders, fmt.Sprintf("t.%s %s", quote(col.Name), dir))
	}
	orders = append(orders, "t.id ASC")
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(orders, ", "))
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), b.args, nil
}

func buildCount(table string, q backend.Query) (string, []any, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	where, err := b.where(schema, q.Filters)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + quote(table) + " AS t" + where, b.args, nil
}

func buildInsert(table string, rec backend.Record) (string, []any, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	names := writableKeys(rec)
	cols := make([]string, 0, len(names))
	vals := make([]string, 0, len(names))
	for _, name := range names {
		col, ok := schema.column(name)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if col.ReadOnly {
			continue
		}
		p, err := b.param(col, rec[name])
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, quote(col.Name))
		vals = append(vals, p)
	}
	if len(cols) == 0 {
		return "INSERT INTO " + quote(table) + " AS t DEFAULT VALUES RETURNING to_jsonb(t)", nil, nil
	}
	query := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t)",
		quote(table), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return query, b.args, nil
}

func buildUpdate(table, id string, fields backend.Record) (string, []any, error) {
	schema, err := schemaFor(table)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	var sets []string
	for _, name := range writableKeys(fields) {
		col, ok := schema.column(name)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if col.ReadOnly {
			continue
		}
		p, err := b.param(col, fields[name])
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", quote(col.Name), p))
	}
	if _, ok := schema.column("updated_at"); ok {
		sets = append(sets, "updated_at = NOW()")
	}
	if len(sets) == 0 {
		return "", nil, errors.New("no writable fields")
	}
	b.args = append(b.args, id)
	query := fmt.Sprintf("UPDATE %s AS t SET %s WHERE t.id = $%d::text::bigint RETURNING to_jsonb(t)",
		quote(table), strings.Join(sets, ", "), len(b.args))
	return query, b.args, nil
}

// writableKeys returns rec's keys except id, sorted so generated SQL is
// stable.
func writableKeys(rec backend.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func textValue(v any) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return val, false, nil
	case bool:
		return strconv.FormatBool(val), false, nil
	case int:
		return strconv.Itoa(val), false, nil
	case int64:
		return strconv.FormatInt(val, 10), false, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), false, nil
	case json.Number:
		return val.String(), false, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), false, nil
	case map[string]any, []any, backend.Record:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", false, err
		}
		return string(raw), false, nil
	default:
		return fmt.Sprint(val), false, nil
	}
}

func decodeRecord(raw []byte) (backend.Record, error) {
	var rec backend.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Read(ctx context.Context, table string, q backend.Query) ([]backend.Record, error) {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := []backend.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, table string, q backend.Query) (int, error) {
	query, args, err := buildCount(table, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *PostgresStore) Insert(ctx context.Context, table string, rec backend.Record) (backend.Record, error) {
	query, args, err := buildInsert(table, rec)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return decodeRecord(raw)
}

func (s *PostgresStore) Update(ctx context.Context, table, id string, fields backend.Record) (backend.Record, error) {
	query, args, err := buildUpdate(table, id, fields)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	return decodeRecord(raw)
}

func (s *PostgresStore) Delete(ctx context.Context, table, id string) error {
	if _, err := schemaFor(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quote(table)+" WHERE id = $1::text::bigint", id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

var _ backend.Data = (*PostgresStore)(nil)
