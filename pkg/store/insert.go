package store

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// InsertGaiaRecords inserts catalog records in one transaction, skipping
// source_ids already stored. Columns missing from a record, and values
// that are not numbers, are stored as NULL. It returns the number of rows
// actually inserted.
func (s *Store) InsertGaiaRecords(ctx context.Context, batch models.Batch) (int64, error) {
	cols := s.gaiaColumns
	return s.insertRows(ctx, TableGaia, cols, len(batch), func(i int, args []interface{}) {
		rec := batch[i]
		args[0] = rec.SourceID()
		for j := 1; j < len(cols); j++ {
			v, _ := rec.Get(cols[j])
			args[j] = v.NumericSQL()
		}
	})
}

var crossmatchColumns = []string{models.ColumnSourceID, models.ColumnTmassDesignation, models.ColumnAngularDistance}

// InsertCrossmatchRecords inserts best-neighbour associations in one
// transaction, skipping source_ids already associated.
func (s *Store) InsertCrossmatchRecords(ctx context.Context, records []models.CrossmatchRecord) (int64, error) {
	return s.insertRows(ctx, TableCrossmatch, crossmatchColumns, len(records), func(i int, args []interface{}) {
		r := records[i]
		args[0] = r.SourceID
		args[1] = r.Designation
		args[2] = r.AngularDistance.SQL()
	})
}

var photometryColumns = []string{models.ColumnSourceID, models.ColumnJ, models.ColumnH, models.ColumnK}

// InsertPhotometryRecords inserts J/H/K magnitudes in one transaction,
// skipping source_ids already stored. Missing bands are NULL.
func (s *Store) InsertPhotometryRecords(ctx context.Context, records []models.PhotometryRecord) (int64, error) {
	return s.insertRows(ctx, TablePhotometry, photometryColumns, len(records), func(i int, args []interface{}) {
		r := records[i]
		args[0] = r.SourceID
		args[1] = r.J.SQL()
		args[2] = r.H.SQL()
		args[3] = r.K.SQL()
	})
}

// InsertSecondary inserts crossmatch rows and then photometry rows in a
// single transaction.
func (s *Store) InsertSecondary(ctx context.Context, xmatch []models.CrossmatchRecord, phot []models.PhotometryRecord) (int64, int64, error) {
	var nx, np int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		nx, err = s.execInsert(ctx, tx, TableCrossmatch, crossmatchColumns, len(xmatch), func(i int, args []interface{}) {
			args[0] = xmatch[i].SourceID
			args[1] = xmatch[i].Designation
			args[2] = xmatch[i].AngularDistance.SQL()
		})
		if err != nil {
			return err
		}
		np, err = s.execInsert(ctx, tx, TablePhotometry, photometryColumns, len(phot), func(i int, args []interface{}) {
			args[0] = phot[i].SourceID
			args[1] = phot[i].J.SQL()
			args[2] = phot[i].H.SQL()
			args[3] = phot[i].K.SQL()
		})
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return nx, np, nil
}

func (s *Store) insertRows(ctx context.Context, table string, cols []string, n int, bind func(i int, args []interface{})) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = s.execInsert(ctx, tx, table, cols, n, bind)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("rows inserted",
		zap.String("table", table),
		zap.Int("rows", n),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

func (s *Store) execInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, n int, bind func(i int, args []interface{})) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.insertIgnore(table, models.ColumnSourceID, cols))
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeStore, "failed to prepare insert into %s", table)
	}
	defer stmt.Close()

	args := make([]interface{}, len(cols))
	var inserted int64
	for i := 0; i < n; i++ {
		bind(i, args)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeStore, "failed to insert into %s", table).
				WithDetail("source_id", args[0])
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeStore, "failed to read affected rows of %s", table)
		}
		inserted += affected
	}
	return inserted, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to commit transaction")
	}
	return nil
}
