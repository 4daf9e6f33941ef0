package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// lookupChunk bounds the IN list of one lookup query.
const lookupChunk = 500

// ExistingSourceIDs returns the subset of ids present in the catalog table.
func (s *Store) ExistingSourceIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	err := s.lookup(ctx, TableGaia, models.ColumnSourceID, models.ColumnSourceID, ids, func(rows *sql.Rows) error {
		var id, ignored string
		if err := rows.Scan(&id, &ignored); err != nil {
			return err
		}
		out[id] = struct{}{}
		return nil
	})
	return out, err
}

// SourceIDsForDesignations maps secondary survey designations to catalog
// source_ids through the crossmatch table. Unknown designations are absent.
func (s *Store) SourceIDsForDesignations(ctx context.Context, designations []string) (map[string]string, error) {
	out := make(map[string]string, len(designations))
	err := s.lookup(ctx, TableCrossmatch, models.ColumnTmassDesignation, models.ColumnSourceID, designations, func(rows *sql.Rows) error {
		var designation, id string
		if err := rows.Scan(&designation, &id); err != nil {
			return err
		}
		out[designation] = id
		return nil
	})
	return out, err
}

// HasCrossmatch reports whether sourceID has a crossmatch association.
func (s *Store) HasCrossmatch(ctx context.Context, sourceID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s",
		s.dialect.quote(TableCrossmatch), s.dialect.quote(models.ColumnSourceID), s.dialect.placeholder(1))
	var one int
	err := s.db.QueryRowContext(ctx, query, sourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeStore, "failed to look up crossmatch of %s", sourceID)
	}
	return true, nil
}

// lookup selects (keyColumn, valueColumn) for keys in chunks. Each chunk's
// rows are fully read before the next query.
func (s *Store) lookup(ctx context.Context, table, keyColumn, valueColumn string, keys []string, scan func(*sql.Rows) error) error {
	keys = dedupe(keys)
	for start := 0; start < len(keys); start += lookupChunk {
		end := start + lookupChunk
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
			s.dialect.quote(keyColumn), s.dialect.quote(valueColumn), s.dialect.quote(table),
			s.dialect.quote(keyColumn), s.dialect.placeholders(1, len(chunk)))
		args := make([]interface{}, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		if err := s.scanAll(ctx, query, args, scan); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStore, "failed to look up %s in %s", keyColumn, table)
		}
	}
	return nil
}

func (s *Store) scanAll(ctx context.Context, query string, args []interface{}, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
