package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"membot/internal/segment"
	"membot/pkg/logx"
)

const accountCols = `id, language, display_name, tier, membership_expires_at, previous_tier,
	created_at, tier_updated_at, tier_updated_by, membership_expired_at`

func (s *sqliteStore) UpsertAccount(ctx context.Context, acc segment.Account) error {
	if strings.TrimSpace(acc.ID) == "" {
		return &ValidationError{Field: "account.id", Reason: "empty"}
	}
	tier := acc.Tier
	if tier == "" {
		tier = segment.TierFree
	}
	lang := acc.Language
	if lang == "" {
		lang = "en"
	}
	createdAt := acc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, language, display_name, tier, membership_expires_at, previous_tier,
		 created_at, tier_updated_at, tier_updated_by, membership_expired_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   language = excluded.language,
		   display_name = excluded.display_name,
		   tier = excluded.tier,
		   membership_expires_at = excluded.membership_expires_at,
		   previous_tier = excluded.previous_tier,
		   tier_updated_at = excluded.tier_updated_at,
		   tier_updated_by = excluded.tier_updated_by,
		   membership_expired_at = excluded.membership_expired_at`,
		acc.ID, lang, nullStr(acc.DisplayName), string(tier), msOrNil(acc.MembershipExpiresAt),
		nullStr(string(acc.PreviousTier)), createdAt.UnixMilli(),
		msZeroNil(acc.TierUpdatedAt), nullStr(acc.TierUpdatedBy), msOrNil(acc.MembershipExpiredAt),
	)
	return err
}

func (s *sqliteStore) GetAccount(ctx context.Context, id string) (segment.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return segment.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acc, err
}

// ForEachAccount streams the account population row by row. When tiers is a
// strict subset of the tier set, the filter is pushed into the query so the
// scan touches fewer rows; everything else is filtered by the caller.
func (s *sqliteStore) ForEachAccount(ctx context.Context, tiers []segment.Tier, fn func(segment.Account) error) error {
	query := `SELECT ` + accountCols + ` FROM accounts`
	var args []any
	if n := len(tiers); n > 0 && n < 3 {
		ph := make([]string, n)
		for i, t := range tiers {
			ph[i] = "?"
			args = append(args, string(t))
		}
		query += ` WHERE tier IN (` + strings.Join(ph, ",") + `)`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqliteStore) ExpiredPremium(ctx context.Context, now time.Time) ([]segment.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts
		 WHERE membership_expires_at IS NOT NULL AND membership_expires_at <= ?
		   AND tier IN (?, ?)
		 ORDER BY membership_expires_at ASC`,
		now.UnixMilli(), segment.TierSilver, segment.TierGolden)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []segment.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// DowngradeExpired moves one expired paid account to Free, recording the
// prior tier. The guard repeats the expiry condition so re-running the sweep
// (or racing with an activation) is a no-op; it reports whether the
// downgrade was applied.
func (s *sqliteStore) DowngradeExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET
		   previous_tier = tier,
		   tier = ?,
		   tier_updated_at = ?,
		   tier_updated_by = 'system',
		   membership_expired_at = ?
		 WHERE id = ? AND tier IN (?, ?)
		   AND membership_expires_at IS NOT NULL AND membership_expires_at <= ?`,
		segment.TierFree, now.UnixMilli(), now.UnixMilli(),
		id, segment.TierSilver, segment.TierGolden, now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ActivateMembership(ctx context.Context, id string, tier segment.Tier, by string, durationDays int) error {
	if !tier.Valid() {
		return &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}
	now := time.Now()
	var expires any
	if tier.IsPaid() {
		if durationDays <= 0 {
			durationDays = 30
		}
		expires = now.AddDate(0, 0, durationDays).UnixMilli()
	}
	if by == "" {
		by = "admin"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET tier = ?, membership_expires_at = ?, tier_updated_at = ?, tier_updated_by = ?
		 WHERE id = ?`,
		string(tier), expires, now.UnixMilli(), by, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	s.log.Info("membership activated",
		logx.String("account", id),
		logx.String("tier", string(tier)),
		logx.String("by", by))
	return nil
}

func scanAccount(row rowScanner) (segment.Account, error) {
	var (
		acc                   segment.Account
		displayName, prevTier sql.NullString
		updatedBy             sql.NullString
		expiresAt, expiredAt  sql.NullInt64
		createdAt             int64
		tierUpdatedAt         sql.NullInt64
		tier                  string
	)
	err := row.Scan(&acc.ID, &acc.Language, &displayName, &tier, &expiresAt, &prevTier,
		&createdAt, &tierUpdatedAt, &updatedBy, &expiredAt)
	if err != nil {
		return segment.Account{}, err
	}
	acc.DisplayName = displayName.String
	acc.Tier = segment.Tier(tier)
	acc.PreviousTier = segment.Tier(prevTier.String)
	acc.MembershipExpiresAt = msTime(expiresAt)
	acc.MembershipExpiredAt = msTime(expiredAt)
	acc.CreatedAt = time.UnixMilli(createdAt)
	if tierUpdatedAt.Valid {
		acc.TierUpdatedAt = time.UnixMilli(tierUpdatedAt.Int64)
	}
	acc.TierUpdatedBy = updatedBy.String
	return acc, nil
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func msZeroNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
