package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
	"github.com/ajitpratap0/gaiadb/pkg/models"
)

// maxErrorLength bounds the stored failure reason.
const maxErrorLength = 2000

// truncateReason cuts reason to at most maxErrorLength bytes on a rune
// boundary.
func truncateReason(reason string) string {
	if len(reason) <= maxErrorLength {
		return reason
	}
	n := maxErrorLength
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// InitializeTracking records every url as pending. Existing entries keep
// their status, so completed files are never re-processed.
func (s *Store) InitializeTracking(ctx context.Context, dataset Dataset, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	table := dataset.TrackingTable()
	stmt := s.dialect.insertIgnore(table, "url", []string{"url", "status", "attempts", "last_error", "updated_at"})
	now := timestamp(time.Now())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		prepared, err := tx.PrepareContext(ctx, stmt)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStore, "failed to prepare tracking insert into %s", table)
		}
		defer prepared.Close()
		for _, u := range urls {
			if _, err := prepared.ExecContext(ctx, u, string(models.FileStatusPending), 0, "", now); err != nil {
				return errors.Wrapf(err, errors.ErrorTypeStore, "failed to track %s", u)
			}
		}
		return nil
	})
}

// IsFileProcessed reports whether url is marked completed.
func (s *Store) IsFileProcessed(ctx context.Context, dataset Dataset, url string) (bool, error) {
	var status string
	query := fmt.Sprintf("SELECT status FROM %s WHERE url = %s", s.dialect.quote(dataset.TrackingTable()), s.dialect.placeholder(1))
	err := s.db.QueryRowContext(ctx, query, url).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeStore, "failed to read tracking status of %s", url)
	}
	return models.FileStatus(status) == models.FileStatusCompleted, nil
}

// CompletedURLs returns every url marked completed.
func (s *Store) CompletedURLs(ctx context.Context, dataset Dataset) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT url FROM %s WHERE status = %s", s.dialect.quote(dataset.TrackingTable()), s.dialect.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, string(models.FileStatusCompleted))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStore, "failed to list completed files of %s", dataset)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to scan tracking row")
		}
		out[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read tracking rows")
	}
	return out, nil
}

// MarkFileCompleted marks url completed and counts the attempt.
func (s *Store) MarkFileCompleted(ctx context.Context, dataset Dataset, url string) error {
	return s.markFiles(ctx, dataset, []string{url}, models.FileStatusCompleted, "")
}

// MarkFilesCompleted marks every url completed in one transaction.
func (s *Store) MarkFilesCompleted(ctx context.Context, dataset Dataset, urls []string) error {
	return s.markFiles(ctx, dataset, urls, models.FileStatusCompleted, "")
}

// MarkFileFailed marks url failed with reason and counts the attempt.
func (s *Store) MarkFileFailed(ctx context.Context, dataset Dataset, url, reason string) error {
	return s.markFiles(ctx, dataset, []string{url}, models.FileStatusFailed, truncateReason(reason))
}

func (s *Store) markFiles(ctx context.Context, dataset Dataset, urls []string, status models.FileStatus, reason string) error {
	if len(urls) == 0 {
		return nil
	}
	table := dataset.TrackingTable()
	now := timestamp(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		prepared, err := tx.PrepareContext(ctx, s.dialect.upsertTracking(table))
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStore, "failed to prepare tracking update of %s", table)
		}
		defer prepared.Close()
		for _, u := range urls {
			if _, err := prepared.ExecContext(ctx, u, string(status), reason, now); err != nil {
				return errors.Wrapf(err, errors.ErrorTypeStore, "failed to mark %s %s", u, status)
			}
		}
		return nil
	})
}

// GetTrackingProgress counts tracked files by status.
func (s *Store) GetTrackingProgress(ctx context.Context, dataset Dataset) (models.TrackingProgress, error) {
	var p models.TrackingProgress
	query := fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", s.dialect.quote(dataset.TrackingTable()))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return p, errors.Wrapf(err, errors.ErrorTypeStore, "failed to read progress of %s", dataset)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return p, errors.Wrap(err, errors.ErrorTypeStore, "failed to scan progress row")
		}
		switch models.FileStatus(status) {
		case models.FileStatusCompleted:
			p.Completed += n
		case models.FileStatusFailed:
			p.Failed += n
		default:
			p.Pending += n
		}
		p.Total += n
	}
	if err := rows.Err(); err != nil {
		return p, errors.Wrap(err, errors.ErrorTypeStore, "failed to read progress rows")
	}
	return p, nil
}

// TrackingEntries returns every tracked file ordered by url.
func (s *Store) TrackingEntries(ctx context.Context, dataset Dataset) ([]models.FileTrackingEntry, error) {
	query := fmt.Sprintf("SELECT url, status, attempts, last_error, updated_at FROM %s ORDER BY url",
		s.dialect.quote(dataset.TrackingTable()))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStore, "failed to list tracking entries of %s", dataset)
	}
	defer rows.Close()

	var out []models.FileTrackingEntry
	for rows.Next() {
		var (
			e         models.FileTrackingEntry
			status    string
			lastError sql.NullString
			updated   string
		)
		if err := rows.Scan(&e.URL, &status, &e.Attempts, &lastError, &updated); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to scan tracking entry")
		}
		e.Status = models.FileStatus(status)
		e.LastError = lastError.String
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			e.UpdatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read tracking entries")
	}
	return out, nil
}
