package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queue row states. Terminal states keep their rows for audit.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// QueuedMessage is one durable outbound message.
type QueuedMessage struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	NotBefore int64  `json:"not_before"` // unix millis
	CreatedAt int64  `json:"created_at"` // unix millis
	SentAt    int64  `json:"sent_at"`    // unix millis, 0 until sent/failed
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// computeNotBefore derives the earliest eligible send time for a new or
// rescheduled row: after now, after every outstanding row plus one pacing
// interval, and after the last real send plus one pacing interval. This
// keeps not_before monotonically non-decreasing in id order, which is the
// queue's core ordering invariant.
func computeNotBefore(ctx context.Context, tx *sql.Tx, roomID int64, earliest, now, pacing int64) (int64, error) {
	base := now
	if earliest > base {
		base = earliest
	}

	var pendingMax sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`SELECT MAX(not_before) FROM outbox WHERE room_id = ? AND status IN ('pending','sending')`,
		roomID).Scan(&pendingMax)
	if err != nil {
		return 0, err
	}
	if pendingMax.Valid && pendingMax.Int64+pacing > base {
		base = pendingMax.Int64 + pacing
	}

	var lastSent sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT last_sent_at FROM outbox_meta WHERE room_id = ?`, roomID).Scan(&lastSent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if lastSent.Valid && lastSent.Int64+pacing > base {
		base = lastSent.Int64 + pacing
	}
	return base, nil
}

// Enqueue appends a pending message scheduled at least one pacing
// interval after everything outstanding and after the last real send.
func (s *Store) Enqueue(ctx context.Context, roomID int64, body string, pacing time.Duration) (int64, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	notBefore, err := computeNotBefore(ctx, tx, roomID, 0, now, pacing.Milliseconds())
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO outbox(room_id, body, status, not_before, created_at) VALUES(?,?,?,?,?)`,
		roomID, body, StatusPending, notBefore, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ClaimNext atomically claims the single oldest eligible pending row and
// flips it to sending. Returns nil when nothing is eligible yet. Two
// concurrent callers never win the same row.
func (s *Store) ClaimNext(ctx context.Context, roomID int64) (*QueuedMessage, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var m QueuedMessage
	var lastErr sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, room_id, body, not_before, created_at, attempts, last_error
		 FROM outbox
		 WHERE room_id = ? AND status = ? AND not_before <= ?
		 ORDER BY not_before ASC, id ASC LIMIT 1`,
		roomID, StatusPending, now).
		Scan(&m.ID, &m.RoomID, &m.Body, &m.NotBefore, &m.CreatedAt, &m.Attempts, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}
	m.Status = StatusSending
	m.LastError = lastErr.String

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE id = ?`, StatusSending, m.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NextAvailableDelay returns the wait until the earliest pending row
// becomes eligible. ok is false when the room has no pending rows.
func (s *Store) NextAvailableDelay(ctx context.Context, roomID int64) (time.Duration, bool, error) {
	var minNB sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(not_before) FROM outbox WHERE room_id = ? AND status = ?`,
		roomID, StatusPending).Scan(&minNB)
	if err != nil {
		return 0, false, err
	}
	if !minNB.Valid {
		return 0, false, nil
	}
	d := time.Duration(minNB.Int64-time.Now().UnixMilli()) * time.Millisecond
	if d < 0 {
		d = 0
	}
	return d, true, nil
}

// MarkSent finalizes a successful delivery and anchors the room's pacing
// meta to the send completion time.
func (s *Store) MarkSent(ctx context.Context, id, roomID int64) error {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET status = ?, sent_at = ? WHERE id = ?`, StatusSent, now, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_meta(room_id, last_sent_at) VALUES(?,?)
		 ON CONFLICT(room_id) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
		roomID, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Reschedule pushes a sending row back to pending with a fresh
// not_before at least one pacing interval out, beyond all outstanding
// load. countAttempt distinguishes real delivery failures (recorded and
// bounded) from throttling back-offs (free).
func (s *Store) Reschedule(ctx context.Context, id, roomID int64, sendErr string, pacing time.Duration, countAttempt bool) (int, error) {
	now := time.Now().UnixMilli()
	p := pacing.Milliseconds()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	notBefore, err := computeNotBefore(ctx, tx, roomID, now+p, now, p)
	if err != nil {
		return 0, err
	}

	attemptDelta := 0
	if countAttempt {
		attemptDelta = 1
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox SET status = ?, not_before = ?, attempts = attempts + ?, last_error = ?
		 WHERE id = ?`,
		StatusPending, notBefore, attemptDelta, nullStr(sendErr), id); err != nil {
		return 0, err
	}

	var attempts int
	if err := tx.QueryRowContext(ctx,
		`SELECT attempts FROM outbox WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return attempts, nil
}

// MarkFailed is terminal: the row stays for audit and is never retried.
func (s *Store) MarkFailed(ctx context.Context, id int64, sendErr string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, sent_at = ?, last_error = ? WHERE id = ?`,
		StatusFailed, now, nullStr(sendErr), id)
	return err
}

// RecoverStale resets rows a crashed process left in sending state.
// Run it before the first claim loop.
func (s *Store) RecoverStale(ctx context.Context, roomID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE room_id = ? AND status = ?`,
		StatusPending, roomID, StatusSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasPending reports whether the room has undelivered work.
func (s *Store) HasPending(ctx context.Context, roomID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM outbox WHERE room_id = ? AND status IN ('pending','sending')`,
		roomID).Scan(&n)
	return n > 0, err
}

// QueueMessages returns recent rows for the dashboard, newest first.
func (s *Store) QueueMessages(ctx context.Context, roomID int64, limit int) ([]QueuedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, body, status, not_before, created_at,
		        COALESCE(sent_at,0), attempts, COALESCE(last_error,'')
		 FROM outbox WHERE room_id = ? ORDER BY id DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Body, &m.Status, &m.NotBefore,
			&m.CreatedAt, &m.SentAt, &m.Attempts, &m.LastError); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastSentAt returns the room's pacing anchor; zero time when no send
// has ever completed.
func (s *Store) LastSentAt(ctx context.Context, roomID int64) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sent_at FROM outbox_meta WHERE room_id = ?`, roomID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (!ms.Valid || ms.Int64 == 0)) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read outbox meta: %w", err)
	}
	return time.UnixMilli(ms.Int64), nil
}
