package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/pivot/internal/ir"
)

// View is a saved view definition.
type View struct {
	ID         string          `json:"id"`
	DataCube   string          `json:"dataCube"`
	Title      string          `json:"title,omitempty"`
	Definition json.RawMessage `json:"definition"`
	Seq        int64           `json:"seq"`
}

// SaveView stores a view definition and returns its content-addressed id.
// Saving the same definition twice is a no-op returning the same id.
func (s *Store) SaveView(ctx context.Context, dataCube, title string, definition []byte) (string, error) {
	val, err := ir.FromJSON(definition)
	if err != nil {
		return "", fmt.Errorf("save view: decode definition: %w", err)
	}
	id, err := ir.ViewID(dataCube, val)
	if err != nil {
		return "", fmt.Errorf("save view: %w", err)
	}
	canonical, err := ir.MarshalCanonical(val)
	if err != nil {
		return "", fmt.Errorf("save view: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO views (id, data_cube, title, definition, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM views))
		ON CONFLICT(id) DO NOTHING
	`, id, dataCube, title, string(canonical))
	if err != nil {
		return "", fmt.Errorf("save view %s: %w", id, err)
	}
	return id, nil
}

// GetView returns the view with the given id or ErrNotFound.
func (s *Store) GetView(ctx context.Context, id string) (View, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data_cube, title, definition, seq FROM views WHERE id = ?`, id)
	v, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return View{}, fmt.Errorf("view %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return View{}, fmt.Errorf("view %s: %w", id, err)
	}
	return v, nil
}

// ListViews returns the views saved for a data cube in save order. An empty
// dataCube lists every view.
func (s *Store) ListViews(ctx context.Context, dataCube string) ([]View, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data_cube, title, definition, seq FROM views
		WHERE ? = '' OR data_cube = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, dataCube, dataCube)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()

	var out []View
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("list views: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanView(row scanner) (View, error) {
	var v View
	var def string
	if err := row.Scan(&v.ID, &v.DataCube, &v.Title, &def, &v.Seq); err != nil {
		return View{}, err
	}
	v.Definition = json.RawMessage(def)
	return v, nil
}
