package store

import (
	"context"
	"database/sql"
	"time"
)

func (s *sqliteStore) AppendDispatchRecord(ctx context.Context, rec DispatchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_analytics(broadcast_id, segment, segment_name, target_count,
		 sent_count, failed_count, skip_count, success_rate, payload_kind, has_media, duration_ms, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.BroadcastID, rec.Segment, nullStr(rec.SegmentName), rec.TargetCount,
		rec.SentCount, rec.FailedCount, rec.SkipCount, rec.SuccessRate,
		string(rec.PayloadKind), rec.HasMedia, rec.Duration.Milliseconds(), rec.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DispatchRecords(ctx context.Context, since time.Time) ([]DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, broadcast_id, segment, segment_name, target_count, sent_count, failed_count,
		 skip_count, success_rate, payload_kind, has_media, duration_ms, created_at
		 FROM dispatch_analytics WHERE created_at >= ? ORDER BY created_at DESC`,
		since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var (
			rec         DispatchRecord
			segmentName sql.NullString
			kind        string
			durationMS  int64
			createdAt   int64
		)
		if err := rows.Scan(&rec.ID, &rec.BroadcastID, &rec.Segment, &segmentName, &rec.TargetCount,
			&rec.SentCount, &rec.FailedCount, &rec.SkipCount, &rec.SuccessRate,
			&kind, &rec.HasMedia, &durationMS, &createdAt); err != nil {
			return nil, err
		}
		rec.SegmentName = segmentName.String
		rec.PayloadKind = PayloadKind(kind)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
