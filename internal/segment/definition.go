package segment

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrUnknownSegment is returned when a preset key has no catalog entry.
var ErrUnknownSegment = errors.New("unknown segment")

// Criteria is a predicate bundle over an account and its evaluation.
// Zero-valued fields are wildcards.
type Criteria struct {
	Tiers            []Tier
	Statuses         []Status
	JoinedWithinDays int
	HasExpired       *bool
	NeverPaid        *bool
}

// Definition is a named, versioned segment.
type Definition struct {
	Key         string
	Name        string
	Description string
	Criteria    Criteria
}

// Matches reports whether acc (with its evaluation ev) belongs to def.
// All present criteria must hold; checks are ordered cheapest-first since
// this runs once per candidate account per dispatch.
func Matches(acc Account, ev Evaluation, def Definition) bool {
	c := def.Criteria
	if len(c.Tiers) > 0 && !slices.Contains(c.Tiers, acc.Tier) {
		return false
	}
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, ev.Status) {
		return false
	}
	if c.JoinedWithinDays > 0 && ev.DaysSinceJoin > c.JoinedWithinDays {
		return false
	}
	if c.HasExpired != nil && *c.HasExpired != ev.IsExpired {
		return false
	}
	if c.NeverPaid != nil && *c.NeverPaid == acc.HasEverPaid() {
		return false
	}
	return true
}

// Select filters accounts down to def's audience as of now.
// Large populations should prefer streaming the scan through the store and
// calling Matches per row; this helper is for already-materialized slices.
func Select(accounts []Account, def Definition, now time.Time) []Account {
	var out []Account
	for _, acc := range accounts {
		if Matches(acc, Evaluate(acc, now), def) {
			out = append(out, acc)
		}
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

// Presets returns the fixed segment catalog in display order.
func Presets() []Definition {
	return []Definition{
		{
			Key:         "all_users",
			Name:        "All Users",
			Description: "Send to everyone",
		},
		{
			Key:         "free_users",
			Name:        "Free Users",
			Description: "Accounts on the free tier only",
			Criteria:    Criteria{Tiers: []Tier{TierFree}},
		},
		{
			Key:         "premium_users",
			Name:        "Premium Users",
			Description: "Current paying members",
			Criteria: Criteria{
				Tiers:    []Tier{TierSilver, TierGolden},
				Statuses: []Status{StatusActive, StatusLifetime},
			},
		},
		{
			Key:         "expiring_soon",
			Name:        "Expiring Soon",
			Description: "Premium members expiring within 7 days",
			Criteria:    Criteria{Statuses: []Status{StatusExpiringSoon}},
		},
		{
			Key:         "expired_users",
			Name:        "Expired Users",
			Description: "Recently expired premium members",
			Criteria:    Criteria{Statuses: []Status{StatusExpired}},
		},
		{
			Key:         "new_users",
			Name:        "New Users",
			Description: "Joined in the last 30 days",
			Criteria:    Criteria{JoinedWithinDays: 30},
		},
		{
			Key:         "returning_customers",
			Name:        "Previous Customers",
			Description: "Had premium before, now free",
			Criteria: Criteria{
				Tiers:    []Tier{TierFree},
				Statuses: []Status{StatusReturning},
			},
		},
		{
			Key:         "never_paid",
			Name:        "Prospects",
			Description: "Never had a premium membership",
			Criteria:    Criteria{NeverPaid: boolPtr(true)},
		},
		{
			Key:         "new_free_users",
			Name:        "New Prospects",
			Description: "New accounts that never paid",
			Criteria: Criteria{
				Tiers:            []Tier{TierFree},
				NeverPaid:        boolPtr(true),
				JoinedWithinDays: 30,
			},
		},
	}
}

// PresetByKey looks up one catalog entry.
func PresetByKey(key string) (Definition, error) {
	for _, def := range Presets() {
		if def.Key == key {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownSegment, key)
}
