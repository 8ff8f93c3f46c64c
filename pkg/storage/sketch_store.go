package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/moralespanitz/compass-project/pkg/logging"
	"github.com/moralespanitz/compass-project/pkg/sketches"
	"github.com/moralespanitz/compass-project/pkg/summary"
)

// SketchInfo contains metadata about a stored sketch.
type SketchInfo struct {
	Type         sketches.SketchType `json:"type"`
	Table        string              `json:"table"`
	Column       string              `json:"column"`
	Depth        int                 `json:"depth"`
	Width        int                 `json:"width"`
	DistinctKeys uint64              `json:"distinct_keys"`
	KeyCount     int64               `json:"key_count"`
	SizeBytes    int                 `json:"size_bytes"`
	CreatedAt    int64               `json:"created_at"`
}

// SaveSummary persists the sketch of sum under sum.Relation and column, and
// records its row count hint.
func (s *Store) SaveSummary(ctx context.Context, column string, sum *summary.RelationSummary) (SketchInfo, error) {
	data, err := sum.Sketch.MarshalBinary()
	if err != nil {
		return SketchInfo{}, err
	}
	shape := sum.Sketch.Shape()
	info := SketchInfo{
		Type:         sketches.AGMSType,
		Table:        sum.Relation,
		Column:       column,
		Depth:        shape.Depth,
		Width:        shape.Width,
		DistinctKeys: sum.DistinctKeys,
		KeyCount:     int64(sum.Keys),
		SizeBytes:    len(data),
		CreatedAt:    time.Now().Unix(),
	}
	err = s.exec(ctx, `
		INSERT INTO compass_sketches(table_name, column_name, sketch_type, sketch_data, depth, width, distinct_keys, key_count, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, column_name, sketch_type)
		DO UPDATE SET sketch_data = excluded.sketch_data, depth = excluded.depth, width = excluded.width,
			distinct_keys = excluded.distinct_keys, key_count = excluded.key_count, created_at = excluded.created_at`,
		info.Table, info.Column, string(info.Type), data, info.Depth, info.Width,
		int64(info.DistinctKeys), info.KeyCount, info.CreatedAt)
	if err != nil {
		return SketchInfo{}, errors.Wrapf(err, "storing sketch of %s.%s", sum.Relation, column)
	}
	if sum.HasCardinality {
		if err := s.UpsertTableRowCount(ctx, sum.Relation, sum.Cardinality); err != nil {
			return SketchInfo{}, err
		}
	}
	s.cache.Remove(sketchKey{sum.Relation, column})
	return info, nil
}

// LoadSummary rebuilds the summary of table.column from the stored sketch
// and row count.
func (s *Store) LoadSummary(ctx context.Context, table, column string) (*summary.RelationSummary, error) {
	var distinct int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT distinct_keys FROM compass_sketches
		WHERE table_name = ? AND column_name = ? AND sketch_type = ?`),
		table, column, string(sketches.AGMSType)).Scan(&distinct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrSketchNotFound, "%s.%s", table, column)
	}
	if err != nil {
		return nil, err
	}
	sk, err := s.GetSketch(ctx, table, column)
	if err != nil {
		return nil, err
	}
	card, _, err := s.TableRowCount(ctx, table)
	if err != nil {
		return nil, err
	}
	return summary.FromSketch(table, sk, card, uint64(distinct))
}

// LoadRegistry loads the stored summaries of tables into one registry. A
// table without a stored sketch yields summary.ErrUnknownRelation.
func (s *Store) LoadRegistry(ctx context.Context, column string, tables []string) (*summary.Registry, error) {
	reg := summary.NewRegistry()
	for _, t := range tables {
		sum, err := s.LoadSummary(ctx, t, column)
		if errors.Is(err, ErrSketchNotFound) {
			return nil, errors.Wrapf(summary.ErrUnknownRelation, "no stored sketch for %s.%s", t, column)
		}
		if err != nil {
			return nil, err
		}
		if err := reg.Put(sum); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// GetSketch returns the decoded AGMS sketch of table.column. Decoded
// sketches are cached until the next save of the same key.
func (s *Store) GetSketch(ctx context.Context, table, column string) (*sketches.Sketch, error) {
	key := sketchKey{table, column}
	if sk, ok := s.cache.Get(key); ok {
		return sk, nil
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT sketch_data FROM compass_sketches
		WHERE table_name = ? AND column_name = ? AND sketch_type = ?`),
		table, column, string(sketches.AGMSType)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrSketchNotFound, "%s.%s", table, column)
	}
	if err != nil {
		return nil, err
	}
	sk, err := sketches.Unmarshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding sketch of %s.%s", table, column)
	}
	s.cache.Add(key, sk)
	logging.WithRelation(table).Debug("sketch loaded", "column", column, "bytes", len(data))
	return sk, nil
}

// ListSketches returns stored sketch metadata, newest first. An empty table
// lists every table.
func (s *Store) ListSketches(ctx context.Context, table string) ([]SketchInfo, error) {
	query := `SELECT table_name, column_name, sketch_type, depth, width, distinct_keys, key_count,
			length(sketch_data), created_at
		FROM compass_sketches`
	var args []any
	if table != "" {
		query += ` WHERE table_name = ?`
		args = append(args, table)
	}
	query += ` ORDER BY created_at DESC, table_name, column_name`

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SketchInfo{}
	for rows.Next() {
		var info SketchInfo
		var sketchType string
		var distinct int64
		if err := rows.Scan(&info.Table, &info.Column, &sketchType, &info.Depth, &info.Width,
			&distinct, &info.KeyCount, &info.SizeBytes, &info.CreatedAt); err != nil {
			return nil, err
		}
		info.Type = sketches.SketchType(sketchType)
		info.DistinctKeys = uint64(distinct)
		out = append(out, info)
	}
	return out, rows.Err()
}
