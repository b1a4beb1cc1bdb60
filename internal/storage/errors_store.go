package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentwatch/agentwatch/pkg/models"
)

// ErrorRecordStore handles persistence of error records. Messages are sealed
// because gateway errors routinely echo prompt fragments.
type ErrorRecordStore struct {
	db     *DB
	sealer *Sealer
}

// NewErrorRecordStore creates a new error record store
func NewErrorRecordStore(db *DB, sealer *Sealer) *ErrorRecordStore {
	return &ErrorRecordStore{db: db, sealer: sealer}
}

// Create persists a new error record, generating an ID when empty
func (s *ErrorRecordStore) Create(ctx context.Context, rec *models.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	sealed, err := s.sealer.Seal([]byte(rec.Message), rec.ID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO error_records (
			id, ts, entity_id, error_type, error_code, message, request_id,
			retry_count, resolved, resolution_notes, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp.UTC().UnixNano(),
		rec.EntityID,
		string(rec.ErrorType),
		nullString(rec.ErrorCode),
		sealed,
		nullString(rec.RequestID),
		rec.RetryCount,
		boolToInt(rec.Resolved),
		nullString(rec.ResolutionNotes),
		nullUnixNano(rec.ResolvedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create error record: %w", err)
	}
	return nil
}

// Get retrieves an error record by ID
func (s *ErrorRecordStore) Get(ctx context.Context, id string) (*models.ErrorRecord, error) {
	query := `
		SELECT id, ts, entity_id, error_type, error_code, message, request_id,
			retry_count, resolved, resolution_notes, resolved_at
		FROM error_records WHERE id = ?
	`
	rec, err := s.scan(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// IncrementRetryCount bumps the retry counter of a record
func (s *ErrorRecordStore) IncrementRetryCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_records SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	return requireAffected(res)
}

// MarkResolved flags a record as resolved. Resolving an already resolved
// record keeps its original resolution time.
func (s *ErrorRecordStore) MarkResolved(ctx context.Context, id, notes string, at time.Time) error {
	query := `
		UPDATE error_records
		SET resolved = 1,
			resolution_notes = ?,
			resolved_at = COALESCE(resolved_at, ?)
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, nullString(notes), at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark error resolved: %w", err)
	}
	return requireAffected(res)
}

// ErrorRecordFilter narrows ListSince results
type ErrorRecordFilter struct {
	EntityID   string
	ErrorType  models.ErrorType
	Unresolved bool
	Limit      int
}

// ListSince returns records with timestamp >= since, newest first
func (s *ErrorRecordStore) ListSince(ctx context.Context, since time.Time, filter ErrorRecordFilter) ([]*models.ErrorRecord, error) {
	query := `
		SELECT id, ts, entity_id, error_type, error_code, message, request_id,
			retry_count, resolved, resolution_notes, resolved_at
		FROM error_records WHERE ts >= ?
	`
	args := []interface{}{since.UTC().UnixNano()}

	if filter.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	if filter.ErrorType != "" {
		query += " AND error_type = ?"
		args = append(args, string(filter.ErrorType))
	}
	if filter.Unresolved {
		query += " AND resolved = 0"
	}

	query += " ORDER BY ts DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list error records: %w", err)
	}
	defer rows.Close()

	var records []*models.ErrorRecord
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate error records: %w", err)
	}

	return records, nil
}

// CountUnresolvedSince counts unresolved records newer than since
func (s *ErrorRecordStore) CountUnresolvedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM error_records WHERE resolved = 0 AND ts >= ?`,
		since.UTC().UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved errors: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *ErrorRecordStore) scan(row rowScanner) (*models.ErrorRecord, error) {
	var (
		rec                         models.ErrorRecord
		ts                          int64
		errorType                   string
		errorCode, requestID, notes sql.NullString
		sealed                      []byte
		resolved                    int
		resolvedAt                  sql.NullInt64
	)

	err := row.Scan(
		&rec.ID, &ts, &rec.EntityID, &errorType, &errorCode, &sealed, &requestID,
		&rec.RetryCount, &resolved, &notes, &resolvedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan error record: %w", err)
	}

	msg, err := s.sealer.Open(sealed, rec.ID)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.ErrorType = models.ErrorType(errorType)
	rec.ErrorCode = errorCode.String
	rec.Message = string(msg)
	rec.RequestID = requestID.String
	rec.Resolved = resolved != 0
	rec.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := time.Unix(0, resolvedAt.Int64).UTC()
		rec.ResolvedAt = &t
	}

	return &rec, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
