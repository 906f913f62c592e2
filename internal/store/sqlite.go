package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"membot/internal/segment"
	"membot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	pendingLimit int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	limit := cfg.PendingLimit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	st := &sqliteStore{db: db, log: log, pendingLimit: limit}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Scheduled broadcasts ----

const broadcastCols = `id, status, created_at, updated_at, scheduled_time, sent_at, failed_at, cancelled_at,
	target_language, segment, payload, created_by, failure_reason, stat_sent, stat_failed, stat_skipped`

func (s *sqliteStore) CanSchedule(ctx context.Context) (bool, error) {
	n, err := s.PendingCount(ctx)
	if err != nil {
		return false, err
	}
	return n < s.pendingLimit, nil
}

func (s *sqliteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broadcasts WHERE status = ?`, StatusPending).Scan(&n)
	return n, err
}

func validateSpec(spec BroadcastSpec, now time.Time) error {
	if !spec.ScheduledTime.After(now) {
		return &ValidationError{Field: "scheduled_time", Reason: "must be in the future"}
	}
	if _, err := segment.PresetByKey(spec.Segment); err != nil {
		return &ValidationError{Field: "segment", Reason: err.Error()}
	}
	return validatePayload(spec.Payload)
}

func validatePayload(p Payload) error {
	switch p.Kind {
	case PayloadText:
		if strings.TrimSpace(p.Text) == "" {
			return &ValidationError{Field: "payload.text", Reason: "text payload is empty"}
		}
	case PayloadMedia:
		if p.Media == nil || strings.TrimSpace(p.Media.FileID) == "" {
			return &ValidationError{Field: "payload.media", Reason: "media payload without file reference"}
		}
	default:
		return &ValidationError{Field: "payload.kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
	return nil
}

func (s *sqliteStore) CreateBroadcast(ctx context.Context, spec BroadcastSpec) (string, error) {
	now := time.Now()
	if err := validateSpec(spec, now); err != nil {
		return "", err
	}
	lang := strings.TrimSpace(spec.TargetLanguage)
	if lang == "" {
		lang = TargetLanguageAll
	}
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return "", err
	}

	// Count-then-insert in one transaction so concurrent authors cannot
	// push the pending set past the ceiling.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM broadcasts WHERE status = ?`, StatusPending).Scan(&pending); err != nil {
		return "", err
	}
	if pending >= s.pendingLimit {
		return "", fmt.Errorf("%w (%d pending, limit %d)", ErrCapacity, pending, s.pendingLimit)
	}

	id := fmt.Sprintf("bc-%d", now.UnixNano())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO broadcasts(id, status, created_at, updated_at, scheduled_time,
		 target_language, segment, payload, created_by)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		id, StatusPending, now.UnixMilli(), now.UnixMilli(), spec.ScheduledTime.UnixMilli(),
		lang, spec.Segment, string(payload), nullStr(spec.CreatedBy),
	)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.log.Info("broadcast scheduled",
		logx.String("id", id),
		logx.String("segment", spec.Segment),
		logx.Time("at", spec.ScheduledTime))
	return id, nil
}

func (s *sqliteStore) GetBroadcast(ctx context.Context, id string) (Broadcast, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+broadcastCols+` FROM broadcasts WHERE id = ?`, id)
	bc, err := scanBroadcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Broadcast{}, fmt.Errorf("broadcast %s: %w", id, ErrNotFound)
	}
	return bc, err
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]Broadcast, error) {
	return s.queryBroadcasts(ctx,
		`SELECT `+broadcastCols+` FROM broadcasts WHERE status = ?
		 ORDER BY scheduled_time ASC, created_at ASC, id ASC`, StatusPending)
}

func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) ([]Broadcast, error) {
	return s.queryBroadcasts(ctx,
		`SELECT `+broadcastCols+` FROM broadcasts WHERE status = ? AND scheduled_time <= ?
		 ORDER BY scheduled_time ASC, created_at ASC, id ASC`, StatusPending, now.UnixMilli())
}

func (s *sqliteStore) queryBroadcasts(ctx context.Context, query string, args ...any) ([]Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		bc, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CancelBroadcast(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		StatusCancelled, now, now, id, StatusPending)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.notPendingErr(ctx, id)
	}
	s.log.Info("broadcast cancelled", logx.String("id", id))
	return nil
}

func (s *sqliteStore) UpdateBroadcast(ctx context.Context, id string, patch BroadcastPatch) error {
	if patch.ScheduledTime != nil && !patch.ScheduledTime.After(time.Now()) {
		return &ValidationError{Field: "scheduled_time", Reason: "must be in the future"}
	}
	if patch.Segment != nil {
		if _, err := segment.PresetByKey(*patch.Segment); err != nil {
			return &ValidationError{Field: "segment", Reason: err.Error()}
		}
	}
	if patch.Payload != nil {
		if err := validatePayload(*patch.Payload); err != nil {
			return err
		}
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UnixMilli()}
	if patch.ScheduledTime != nil {
		sets = append(sets, "scheduled_time = ?")
		args = append(args, patch.ScheduledTime.UnixMilli())
	}
	if patch.TargetLanguage != nil {
		sets = append(sets, "target_language = ?")
		args = append(args, *patch.TargetLanguage)
	}
	if patch.Segment != nil {
		sets = append(sets, "segment = ?")
		args = append(args, *patch.Segment)
	}
	if patch.Payload != nil {
		b, err := json.Marshal(*patch.Payload)
		if err != nil {
			return err
		}
		sets = append(sets, "payload = ?")
		args = append(args, string(b))
	}
	args = append(args, id, StatusPending)

	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.notPendingErr(ctx, id)
	}
	return nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, stats Stats) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, sent_at = ?, updated_at = ?,
		 stat_sent = ?, stat_failed = ?, stat_skipped = ?
		 WHERE id = ? AND status = ?`,
		StatusSent, now, now, stats.Sent, stats.Failed, stats.Skipped, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already terminal (cancelled mid-dispatch, or a duplicate sweep
		// invocation). The transition is a no-op, not an error.
		return s.terminalNoop(ctx, id, "mark sent")
	}
	return nil
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, reason string, stats Stats) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET status = ?, failed_at = ?, updated_at = ?, failure_reason = ?,
		 stat_sent = ?, stat_failed = ?, stat_skipped = ?
		 WHERE id = ? AND status = ?`,
		StatusFailed, now, now, nullStr(reason), stats.Sent, stats.Failed, stats.Skipped, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.terminalNoop(ctx, id, "mark failed")
	}
	return nil
}

// terminalNoop distinguishes "record gone" from "record already terminal".
func (s *sqliteStore) terminalNoop(ctx context.Context, id, op string) error {
	bc, err := s.GetBroadcast(ctx, id)
	if err != nil {
		return err
	}
	s.log.Debug("status transition skipped",
		logx.String("op", op),
		logx.String("id", id),
		logx.String("status", string(bc.Status)))
	return nil
}

func (s *sqliteStore) notPendingErr(ctx context.Context, id string) error {
	if _, err := s.GetBroadcast(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("broadcast %s: %w", id, ErrNotPending)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroadcast(row rowScanner) (Broadcast, error) {
	var (
		bc                            Broadcast
		createdAt, updatedAt, schedAt int64
		sentAt, failedAt, cancelledAt sql.NullInt64
		createdBy, failureReason      sql.NullString
		payload                       string
	)
	err := row.Scan(&bc.ID, &bc.Status, &createdAt, &updatedAt, &schedAt,
		&sentAt, &failedAt, &cancelledAt,
		&bc.TargetLanguage, &bc.Segment, &payload, &createdBy, &failureReason,
		&bc.Stats.Sent, &bc.Stats.Failed, &bc.Stats.Skipped)
	if err != nil {
		return Broadcast{}, err
	}
	bc.CreatedAt = time.UnixMilli(createdAt)
	bc.UpdatedAt = time.UnixMilli(updatedAt)
	bc.ScheduledTime = time.UnixMilli(schedAt)
	bc.SentAt = msTime(sentAt)
	bc.FailedAt = msTime(failedAt)
	bc.CancelledAt = msTime(cancelledAt)
	bc.CreatedBy = createdBy.String
	bc.FailureReason = failureReason.String
	if err := json.Unmarshal([]byte(payload), &bc.Payload); err != nil {
		return Broadcast{}, fmt.Errorf("broadcast %s: decode payload: %w", bc.ID, err)
	}
	return bc, nil
}

func msTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
