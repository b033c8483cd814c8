package store

import (
    "context"
    "database/sql"

    "github.com/hamzaKhattat/contact-center-api/internal/models"
    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

// ErrVersionConflict is returned when a versioned update matched zero rows:
// another writer committed first and the caller must re-read.
var ErrVersionConflict = errors.New(errors.ErrDatabase, "call version conflict")

// CallStore persists call records. Every mutation is guarded by the version
// column so concurrent writers cannot overwrite each other.
type CallStore struct {
    db *sql.DB
}

func NewCallStore(db *sql.DB) *CallStore {
    return &CallStore{db: db}
}

const callColumns = `id, call_id, phone_number, caller_id, status, context, extension,
    priority, timeout, COALESCE(channel, ''), COALESCE(unique_id, ''), created_at,
    dialed_at, answered_at, ended_at, duration, billable_duration,
    COALESCE(failure_reason, ''), attempt_number, max_attempts, call_metadata, version`

func scanCall(row interface{ Scan(...interface{}) error }) (*models.Call, error) {
    var call models.Call
    var metadata sql.NullString

    err := row.Scan(
        &call.ID, &call.CallID, &call.PhoneNumber, &call.CallerID, &call.Status,
        &call.Context, &call.Extension, &call.Priority, &call.Timeout,
        &call.Channel, &call.UniqueID, &call.CreatedAt,
        &call.DialedAt, &call.AnsweredAt, &call.EndedAt,
        &call.Duration, &call.BillableDuration, &call.FailureReason,
        &call.AttemptNumber, &call.MaxAttempts, &metadata, &call.Version,
    )
    if err != nil {
        return nil, err
    }

    if metadata.Valid && metadata.String != "" {
        if err := call.Metadata.Scan([]byte(metadata.String)); err != nil {
            call.Metadata = nil
        }
    }

    return &call, nil
}

// Insert writes a new PENDING call with version 0.
func (s *CallStore) Insert(ctx context.Context, call *models.Call) error {
    var metadata interface{}
    if call.Metadata != nil {
        v, err := call.Metadata.Value()
        if err != nil {
            return errors.Wrap(err, errors.ErrInternal, "failed to encode call metadata")
        }
        metadata = v
    }

    result, err := s.db.ExecContext(ctx, `
        INSERT INTO calls (call_id, phone_number, caller_id, status, context, extension,
            priority, timeout, attempt_number, max_attempts, call_metadata, version)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
        call.CallID, call.PhoneNumber, call.CallerID, call.Status,
        call.Context, call.Extension, call.Priority, call.Timeout,
        call.AttemptNumber, call.MaxAttempts, metadata,
    )
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to insert call")
    }

    id, err := result.LastInsertId()
    if err == nil {
        call.ID = id
    }
    call.Version = 0

    return nil
}

func (s *CallStore) GetByCallID(ctx context.Context, callID string) (*models.Call, error) {
    row := s.db.QueryRowContext(ctx,
        `SELECT `+callColumns+` FROM calls WHERE call_id = ?`, callID)

    call, err := scanCall(row)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrCallNotFound, "call not found").WithStatusCode(404)
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query call")
    }
    return call, nil
}

func (s *CallStore) GetByChannel(ctx context.Context, channelID string) (*models.Call, error) {
    row := s.db.QueryRowContext(ctx,
        `SELECT `+callColumns+` FROM calls WHERE channel = ?`, channelID)

    call, err := scanCall(row)
    if err == sql.ErrNoRows {
        return nil, errors.New(errors.ErrCallNotFound, "no call for channel").WithStatusCode(404)
    }
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query call by channel")
    }
    return call, nil
}

// Update persists the staged mutation with an optimistic version check.
// prevVersion is the version the caller read; on success the row carries
// prevVersion+1 and call.Version is updated to match. Zero affected rows
// means the caller lost the race and gets ErrVersionConflict.
func (s *CallStore) Update(ctx context.Context, call *models.Call, prevVersion int64) error {
    var channel interface{}
    if call.Channel != "" {
        channel = call.Channel
    }
    var failureReason interface{}
    if call.FailureReason != "" {
        failureReason = call.FailureReason
    }

    result, err := s.db.ExecContext(ctx, `
        UPDATE calls
        SET status = ?, channel = COALESCE(channel, ?), dialed_at = ?, answered_at = ?,
            ended_at = ?, duration = ?, billable_duration = ?, failure_reason = ?,
            attempt_number = ?, version = version + 1
        WHERE id = ? AND version = ?`,
        call.Status, channel, call.DialedAt, call.AnsweredAt,
        call.EndedAt, call.Duration, call.BillableDuration, failureReason,
        call.AttemptNumber, call.ID, prevVersion,
    )
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to update call")
    }

    affected, err := result.RowsAffected()
    if err != nil {
        return errors.Wrap(err, errors.ErrDatabase, "failed to read affected rows")
    }
    if affected == 0 {
        return ErrVersionConflict
    }

    call.Version = prevVersion + 1
    return nil
}

// List returns the most recent calls, newest first.
func (s *CallStore) List(ctx context.Context, limit int) ([]*models.Call, error) {
    if limit <= 0 {
        limit = 50
    }

    rows, err := s.db.QueryContext(ctx,
        `SELECT `+callColumns+` FROM calls ORDER BY created_at DESC LIMIT ?`, limit)
    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to list calls")
    }
    defer rows.Close()

    var calls []*models.Call
    for rows.Next() {
        call, err := scanCall(rows)
        if err != nil {
            return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan call")
        }
        calls = append(calls, call)
    }

    return calls, rows.Err()
}
