// Package postgres implements the Message Log Store (spec.md §4.A) and the
// Postgres-backed User Directory (spec.md §4.B) on top of jackc/pgx/v5,
// generalizing the teacher's internal/repo/postgres/jobs_repo.go: the same
// prepared-statement-per-operation shape, the same pgconn unique-violation
// check, the same Prom-wrapped "observe" helper around every query.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	"github.com/occasionhub/birthdaysvc/internal/observability"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (code 23505) — the functional signal behind I1, not an error to
// propagate (spec.md §7: Idempotency-conflict is consumed silently).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type MessageLogsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMessageLogsRepo(pool *pgxpool.Pool, prom *observability.Prom) *MessageLogsRepo {
	return &MessageLogsRepo{pool: pool, prom: prom}
}

func (r *MessageLogsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const selectColumns = `id, user_id, message_type, message_content, scheduled_send_time,
	actual_send_time, status, retry_count, last_retry_at, idempotency_key,
	api_response_code, api_response_body, error_message, created_at, updated_at`

// scanInto scans a row and sets the typed Status/MessageType fields.
func scanInto(row pgx.Row) (messagelog.MessageLog, error) {
	var m messagelog.MessageLog
	var status, msgType string

	err := row.Scan(
		&m.ID, &m.UserID, &msgType, &m.MessageContent, &m.ScheduledSendTime,
		&m.ActualSendTime, &status, &m.RetryCount, &m.LastRetryAt, &m.IdempotencyKey,
		&m.APIResponseCode, &m.APIResponseBody, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return messagelog.MessageLog{}, err
	}

	m.Status = messagelog.Status(status)
	m.MessageType = messagelog.MessageType(msgType)
	return m, nil
}

// InsertScheduled implements insert_scheduled (spec.md §4.A). A duplicate
// idempotency_key returns messagelog.ErrIdempotentSkip — the success signal
// for I1, never a storage-fatal error.
func (r *MessageLogsRepo) InsertScheduled(ctx context.Context, m messagelog.MessageLog) error {
	op := "message_logs.insert_scheduled"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO message_logs (
				id, user_id, message_type, message_content, scheduled_send_time,
				status, retry_count, idempotency_key, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, m.ID, m.UserID, string(m.MessageType), m.MessageContent, m.ScheduledSendTime,
			string(m.Status), m.RetryCount, m.IdempotencyKey, m.CreatedAt, m.UpdatedAt)

		if err != nil {
			if IsUniqueViolation(err) {
				return messagelog.ErrIdempotentSkip
			}
			return err
		}
		return nil
	})
}

// FindDueForEnqueue implements find_due_for_enqueue (spec.md §4.A): rows
// SCHEDULED in [from, to), ordered by scheduled_send_time asc, using the
// (status, scheduled_send_time) composite index.
func (r *MessageLogsRepo) FindDueForEnqueue(ctx context.Context, from, to time.Time) ([]messagelog.MessageLog, error) {
	op := "message_logs.find_due_for_enqueue"

	var out []messagelog.MessageLog
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM message_logs
			WHERE status = $1 AND scheduled_send_time >= $2 AND scheduled_send_time < $3
			ORDER BY scheduled_send_time ASC
		`, string(messagelog.StatusScheduled), from, to)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			m, serr := scanInto(rows)
			if serr != nil {
				return serr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// FindStranded implements find_stranded (spec.md §4.A): rows in
// {SCHEDULED, QUEUED, RETRYING} with scheduled_send_time < cutoff. SENDING
// rows are not returned here; the recovery scheduler finds stale SENDING
// claims separately through FindStaleSending, by updated_at.
func (r *MessageLogsRepo) FindStranded(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error) {
	op := "message_logs.find_stranded"

	var out []messagelog.MessageLog
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM message_logs
			WHERE status IN ($1,$2,$3) AND scheduled_send_time < $4
			ORDER BY scheduled_send_time ASC
		`, string(messagelog.StatusScheduled), string(messagelog.StatusQueued), string(messagelog.StatusRetrying), cutoff)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			m, serr := scanInto(rows)
			if serr != nil {
				return serr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// FindStaleSending returns SENDING rows whose last update predates cutoff —
// candidates for "a worker crashed mid-flight" in the recovery scheduler
// (spec.md §4.G).
func (r *MessageLogsRepo) FindStaleSending(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error) {
	op := "message_logs.find_stale_sending"

	var out []messagelog.MessageLog
	err := r.observe(op, func() error {
		rows, qerr := r.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM message_logs
			WHERE status = $1 AND updated_at < $2
			ORDER BY scheduled_send_time ASC
		`, string(messagelog.StatusSending), cutoff)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			m, serr := scanInto(rows)
			if serr != nil {
				return serr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// ByID fetches a row for the worker's authoritative re-read (spec.md §4.H step 1).
func (r *MessageLogsRepo) ByID(ctx context.Context, id string) (messagelog.MessageLog, error) {
	op := "message_logs.by_id"

	var m messagelog.MessageLog
	err := r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM message_logs WHERE id = $1`, id)
		var serr error
		m, serr = scanInto(row)
		return serr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return messagelog.MessageLog{}, messagelog.ErrNotFound
		}
		return messagelog.MessageLog{}, err
	}
	return m, nil
}

// cas performs a single-row compare-and-set: update only if id's current
// status equals expected (spec.md §4.A design note, I5).
func (r *MessageLogsRepo) cas(ctx context.Context, op, sql string, args ...any) error {
	var tag pgconn.CommandTag
	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, sql, args...)
		return execErr
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return messagelog.ErrStaleCAS
	}
	return nil
}

// CASToQueued moves a row from the caller's expected status to QUEUED. Both
// the minute scheduler (spec.md §4.F step 2a) and the recovery scheduler
// call it with SCHEDULED; the recovery scheduler republishes QUEUED and
// RETRYING rows without any status change.
func (r *MessageLogsRepo) CASToQueued(ctx context.Context, id string, expected messagelog.Status) error {
	return r.cas(ctx, "message_logs.cas_queued", `
		UPDATE message_logs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(messagelog.StatusQueued), id, string(expected))
}

// CASToScheduled reverts a QUEUED row back to SCHEDULED — the compensating
// transition when a publish fails (spec.md §4.F step 2b).
func (r *MessageLogsRepo) CASToScheduled(ctx context.Context, id string) error {
	return r.cas(ctx, "message_logs.cas_scheduled", `
		UPDATE message_logs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(messagelog.StatusScheduled), id, string(messagelog.StatusQueued))
}

// ClaimForSend implements claim_for_send (spec.md §4.A): CAS from an
// expected prior status to SENDING.
func (r *MessageLogsRepo) ClaimForSend(ctx context.Context, id string, expected messagelog.Status) error {
	return r.cas(ctx, "message_logs.claim_for_send", `
		UPDATE message_logs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(messagelog.StatusSending), id, string(expected))
}

// RequeueStaleSending is the recovery scheduler's CAS back to QUEUED with an
// incremented retry_count (spec.md §4.G, "a worker crashed mid-flight").
func (r *MessageLogsRepo) RequeueStaleSending(ctx context.Context, id string) error {
	return r.cas(ctx, "message_logs.requeue_stale_sending", `
		UPDATE message_logs
		SET status = $1, retry_count = retry_count + 1, last_retry_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(messagelog.StatusQueued), id, string(messagelog.StatusSending))
}

// MarkSent implements mark_sent (spec.md §4.A): CAS SENDING -> SENT (I2).
func (r *MessageLogsRepo) MarkSent(ctx context.Context, id string, responseCode int, responseBody string) error {
	return r.cas(ctx, "message_logs.mark_sent", `
		UPDATE message_logs
		SET status = $1, actual_send_time = NOW(), api_response_code = $2,
		    api_response_body = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, string(messagelog.StatusSent), responseCode, responseBody, id, string(messagelog.StatusSending))
}

// MarkRetry implements mark_retry (spec.md §4.A): CAS SENDING -> RETRYING,
// increments retry_count (I4), stamps last_retry_at, stores the error.
func (r *MessageLogsRepo) MarkRetry(ctx context.Context, id string, errMsg string) error {
	return r.cas(ctx, "message_logs.mark_retry", `
		UPDATE message_logs
		SET status = $1, retry_count = retry_count + 1, last_retry_at = NOW(),
		    error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, string(messagelog.StatusRetrying), errMsg, id, string(messagelog.StatusSending))
}

// MarkFailed implements mark_failed (spec.md §4.A): CAS -> FAILED (I3),
// allowed from any non-terminal status (the caller is always a worker or
// recovery scheduler that has already observed that status).
func (r *MessageLogsRepo) MarkFailed(ctx context.Context, id string, expected messagelog.Status, errMsg string) error {
	return r.cas(ctx, "message_logs.mark_failed", `
		UPDATE message_logs
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, string(messagelog.StatusFailed), errMsg, id, string(expected))
}

// AdminList supports the read-only admin inspection surface (SPEC_FULL.md
// §9), generalizing the teacher's JobsRepo.ListCursor keyset pagination.
func (r *MessageLogsRepo) AdminList(ctx context.Context, status *string, limit int, afterUpdatedAt time.Time, afterID string) ([]messagelog.MessageLog, error) {
	op := "message_logs.admin.list"

	var out []messagelog.MessageLog
	err := r.observe(op, func() error {
		var rows pgx.Rows
		var qerr error

		if status != nil {
			rows, qerr = r.pool.Query(ctx, `
				SELECT `+selectColumns+` FROM message_logs
				WHERE status = $1 AND (updated_at, id) < ($2, $3)
				ORDER BY updated_at DESC, id DESC
				LIMIT $4
			`, *status, afterUpdatedAt, afterID, limit)
		} else {
			rows, qerr = r.pool.Query(ctx, `
				SELECT `+selectColumns+` FROM message_logs
				WHERE (updated_at, id) < ($1, $2)
				ORDER BY updated_at DESC, id DESC
				LIMIT $3
			`, afterUpdatedAt, afterID, limit)
		}
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			m, serr := scanInto(rows)
			if serr != nil {
				return serr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}
