package segment

import "time"

// Tier is a membership plan. The engine only ever moves accounts toward
// Free; upgrades happen in external activation flows.
type Tier string

const (
	TierFree   Tier = "Free"
	TierSilver Tier = "Silver"
	TierGolden Tier = "Golden"
)

func (t Tier) IsPaid() bool { return t == TierSilver || t == TierGolden }

// Valid reports whether t is one of the closed set of tiers.
func (t Tier) Valid() bool { return t == TierFree || t.IsPaid() }

// Account is one subscriber record as stored by the surrounding application.
//
// If Tier is non-free and MembershipExpiresAt is nil the membership never
// expires (lifetime). For free accounts MembershipExpiresAt is historical
// only and ignored.
type Account struct {
	ID          string
	Language    string
	DisplayName string

	Tier                Tier
	MembershipExpiresAt *time.Time
	PreviousTier        Tier
	CreatedAt           time.Time

	TierUpdatedAt       time.Time
	TierUpdatedBy       string
	MembershipExpiredAt *time.Time
}

// HasEverPaid reports whether the account held a paid tier before.
// It looks at PreviousTier only: the field is set whenever a tier changes,
// so a lapsed payer carries it even after the downgrade to Free.
func (a Account) HasEverPaid() bool { return a.PreviousTier.IsPaid() }
