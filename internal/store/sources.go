package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/querysql"
)

// Column is a typed column of a data source.
type Column struct {
	Name string
	Kind cube.Kind
}

func sqlType(k cube.Kind) (string, error) {
	switch k {
	case cube.KindString:
		return "TEXT", nil
	case cube.KindNumber:
		return "REAL", nil
	case cube.KindTime, cube.KindBoolean:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("unknown column kind %q", k)
	}
}

// CreateSource creates the table of a new data source.
func (s *Store) CreateSource(ctx context.Context, name string, columns []Column) error {
	if name == "" {
		return fmt.Errorf("create source: name is required")
	}
	if len(columns) == 0 {
		return fmt.Errorf("create source %q: no columns", name)
	}
	seen := map[string]bool{}
	defs := make([]string, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return fmt.Errorf("create source %q: column %d has no name", name, i)
		}
		if seen[c.Name] {
			return fmt.Errorf("create source %q: duplicate column %q", name, c.Name)
		}
		seen[c.Name] = true
		t, err := sqlType(c.Kind)
		if err != nil {
			return fmt.Errorf("create source %q: column %q: %w", name, c.Name, err)
		}
		defs[i] = querysql.QuoteIdent(c.Name) + " " + t
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create source %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sources (name, seq) VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sources))`,
		name,
	); err != nil {
		return fmt.Errorf("create source %q: %w", name, err)
	}
	for i, c := range columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_columns (source, position, name, kind) VALUES (?, ?, ?, ?)`,
			name, i, c.Name, string(c.Kind),
		); err != nil {
			return fmt.Errorf("create source %q: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+querysql.QuoteIdent(name)+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create source %q: %w", name, err)
	}
	return tx.Commit()
}

// Sources lists the data sources in creation order.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sources ORDER BY seq ASC, name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Columns returns the columns of source in declaration order.
func (s *Store) Columns(ctx context.Context, source string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind FROM source_columns WHERE source = ? ORDER BY position ASC, name COLLATE BINARY ASC`,
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("columns of %q: %w", source, err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var c Column
		var kind string
		if err := rows.Scan(&c.Name, &kind); err != nil {
			return nil, fmt.Errorf("columns of %q: %w", source, err)
		}
		c.Kind = cube.Kind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("source %q: %w", source, ErrNotFound)
	}
	return out, nil
}

// InsertRows appends rows to source. Values line up with the source
// columns; times may be time.Time or RFC 3339 strings.
func (s *Store) InsertRows(ctx context.Context, source string, rows [][]any) (int, error) {
	cols, err := s.Columns(ctx, source)
	if err != nil {
		return 0, err
	}
	return s.insert(ctx, source, cols, rows)
}

func (s *Store) insert(ctx context.Context, source string, cols []Column, rows [][]any) (int, error) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = querysql.QuoteIdent(c.Name)
		marks[i] = "?"
	}
	stmtSQL := "INSERT INTO " + querysql.QuoteIdent(source) +
		" (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", source, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", source, err)
	}
	defer stmt.Close()

	for n, row := range rows {
		if len(row) != len(cols) {
			return 0, fmt.Errorf("insert into %q: row %d has %d values, want %d", source, n, len(row), len(cols))
		}
		args := make([]any, len(row))
		for i, v := range row {
			stored, err := toStored(v, cols[i].Kind)
			if err != nil {
				return 0, fmt.Errorf("insert into %q: row %d, column %q: %w", source, n, cols[i].Name, err)
			}
			args[i] = stored
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert into %q: row %d: %w", source, n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert into %q: %w", source, err)
	}
	return len(rows), nil
}

// toStored converts a value to its stored form for a column kind.
func toStored(v any, kind cube.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case cube.KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UnixMilli(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, err
			}
			return parsed.UnixMilli(), nil
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		}
	case cube.KindNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			return strconv.ParseFloat(n, 64)
		}
	case cube.KindBoolean:
		switch b := v.(type) {
		case bool:
			return querysql.Param(b)
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, err
			}
			return querysql.Param(parsed)
		}
	case cube.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, kind)
}

// FromStored converts a value read from a source table back to the Go
// value of its kind: time.Time, float64, bool or string.
func FromStored(v any, kind cube.Kind) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int64:
		switch kind {
		case cube.KindTime:
			return time.UnixMilli(x).UTC()
		case cube.KindBoolean:
			return x != 0
		}
		return float64(x)
	case float64:
		switch kind {
		case cube.KindTime:
			return time.UnixMilli(int64(x)).UTC()
		case cube.KindBoolean:
			return x != 0
		}
	}
	return v
}

// LoadCSV appends the rows of a CSV file to source. The header names the
// columns; an entry "name:kind" declares the column kind, and a missing
// source is created when every entry declares one. Empty cells are null.
func (s *Store) LoadCSV(ctx context.Context, source string, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("load %q: read header: %w", source, err)
	}

	declared := make([]Column, len(header))
	allDeclared := true
	for i, h := range header {
		name, kind, ok := strings.Cut(strings.TrimSpace(h), ":")
		declared[i] = Column{Name: name, Kind: cube.Kind(kind)}
		allDeclared = allDeclared && ok
	}

	existing, err := s.Columns(ctx, source)
	switch {
	case errors.Is(err, ErrNotFound) && allDeclared:
		if err := s.CreateSource(ctx, source, declared); err != nil {
			return 0, err
		}
		existing = declared
	case err != nil:
		return 0, fmt.Errorf("load %q: %w", source, err)
	}

	// map header positions onto the source columns
	byName := map[string]int{}
	for i, c := range existing {
		byName[c.Name] = i
	}
	positions := make([]int, len(declared))
	for i, d := range declared {
		p, ok := byName[d.Name]
		if !ok {
			return 0, fmt.Errorf("load %q: unknown column %q", source, d.Name)
		}
		if d.Kind != "" && d.Kind != existing[p].Kind {
			return 0, fmt.Errorf("load %q: column %q is %s, header says %s", source, d.Name, existing[p].Kind, d.Kind)
		}
		positions[i] = p
	}

	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("load %q: %w", source, err)
		}
		row := make([]any, len(existing))
		for i, cell := range rec {
			if cell != "" {
				row[positions[i]] = cell
			}
		}
		rows = append(rows, row)
	}
	return s.insert(ctx, source, existing, rows)
}

// MaxTime returns the latest value of a time column. ok is false when the
// column has no values.
func (s *Store) MaxTime(ctx context.Context, source, column string) (t time.Time, ok bool, err error) {
	var ms sql.NullInt64
	q := "SELECT MAX(" + querysql.QuoteIdent(column) + ") FROM " + querysql.QuoteIdent(source)
	if err := s.db.QueryRowContext(ctx, q).Scan(&ms); err != nil {
		return time.Time{}, false, fmt.Errorf("max time of %q.%q: %w", source, column, err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), true, nil
}
