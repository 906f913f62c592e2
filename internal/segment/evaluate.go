package segment

import "time"

// Status is the derived lifecycle state of an account at a point in time.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusExpiringSoon Status = "expiring_soon"
	StatusFree         Status = "free"
	StatusLifetime     Status = "lifetime"
	StatusReturning    Status = "returning"
)

const (
	// ExpiringWindow is how close to expiry a paid account counts as expiring_soon.
	ExpiringWindow = 7 * 24 * time.Hour
	// NewAccountWindow is how long after creation an account counts as new.
	NewAccountWindow = 30 * 24 * time.Hour
)

// Evaluation is the full derived view of one account. It is never persisted;
// callers recompute it against the current clock whenever segment membership
// matters.
type Evaluation struct {
	Status        Status
	ExpiresAt     *time.Time
	DaysRemaining int
	DaysSinceJoin int

	IsNew       bool
	IsExpiring  bool
	IsExpired   bool
	IsReturning bool
}

// Evaluate derives the lifecycle status of acc at instant now.
//
// It is a pure function: the same account and clock always produce the same
// evaluation. Priority order matters — a lapsed payer back on the free tier
// is "returning", never plain "free", because it is a distinct audience.
func Evaluate(acc Account, now time.Time) Evaluation {
	ev := Evaluation{Status: StatusActive}

	if !acc.CreatedAt.IsZero() {
		ev.DaysSinceJoin = ceilDays(now.Sub(acc.CreatedAt))
		ev.IsNew = now.Sub(acc.CreatedAt) <= NewAccountWindow
	}

	if acc.MembershipExpiresAt != nil && acc.Tier.IsPaid() {
		t := *acc.MembershipExpiresAt
		ev.ExpiresAt = &t
		ev.DaysRemaining = ceilDays(t.Sub(now))
		switch {
		case !t.After(now):
			ev.Status = StatusExpired
			ev.IsExpired = true
		case t.Sub(now) <= ExpiringWindow:
			ev.Status = StatusExpiringSoon
			ev.IsExpiring = true
		}
	} else if acc.Tier == TierFree || !acc.Tier.Valid() {
		ev.Status = StatusFree
	} else {
		// Paid tier with no expiry on record.
		ev.Status = StatusLifetime
	}

	if acc.Tier == TierFree && acc.PreviousTier.IsPaid() {
		ev.IsReturning = true
		ev.Status = StatusReturning
	}

	return ev
}

func ceilDays(d time.Duration) int {
	const day = 24 * time.Hour
	n := int(d / day)
	if d%day > 0 {
		n++
	}
	return n
}
