package segment

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		acc  Account
		want Status
	}{
		{
			name: "paid with distant expiry",
			acc:  Account{Tier: TierGolden, MembershipExpiresAt: timePtr(now.AddDate(0, 0, 20))},
			want: StatusActive,
		},
		{
			name: "paid expiring in three days",
			acc:  Account{Tier: TierSilver, MembershipExpiresAt: timePtr(now.AddDate(0, 0, 3))},
			want: StatusExpiringSoon,
		},
		{
			name: "paid expiring exactly at window edge",
			acc:  Account{Tier: TierSilver, MembershipExpiresAt: timePtr(now.Add(ExpiringWindow))},
			want: StatusExpiringSoon,
		},
		{
			name: "paid expired an hour ago",
			acc:  Account{Tier: TierGolden, MembershipExpiresAt: timePtr(now.Add(-time.Hour))},
			want: StatusExpired,
		},
		{
			name: "paid expiring exactly now",
			acc:  Account{Tier: TierGolden, MembershipExpiresAt: timePtr(now)},
			want: StatusExpired,
		},
		{
			name: "paid without expiry is lifetime",
			acc:  Account{Tier: TierSilver},
			want: StatusLifetime,
		},
		{
			name: "free account",
			acc:  Account{Tier: TierFree},
			want: StatusFree,
		},
		{
			name: "free with stale expiry stays free",
			acc:  Account{Tier: TierFree, MembershipExpiresAt: timePtr(now.Add(-time.Hour))},
			want: StatusFree,
		},
		{
			name: "lapsed payer is returning, not free",
			acc:  Account{Tier: TierFree, PreviousTier: TierGolden},
			want: StatusReturning,
		},
		{
			name: "lapsed payer with stale expiry is still returning",
			acc:  Account{Tier: TierFree, PreviousTier: TierSilver, MembershipExpiresAt: timePtr(now.Add(-48 * time.Hour))},
			want: StatusReturning,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Evaluate(tt.acc, now)
			if got.Status != tt.want {
				t.Fatalf("Status = %s, want %s", got.Status, tt.want)
			}
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	acc := Account{
		Tier:                TierSilver,
		MembershipExpiresAt: timePtr(now.AddDate(0, 0, 5)),
		CreatedAt:           now.AddDate(0, 0, -10),
	}

	first := Evaluate(acc, now)
	for i := 0; i < 5; i++ {
		got := Evaluate(acc, now)
		if got.Status != first.Status || got.DaysRemaining != first.DaysRemaining ||
			got.DaysSinceJoin != first.DaysSinceJoin || got.IsNew != first.IsNew ||
			got.IsExpiring != first.IsExpiring || got.IsExpired != first.IsExpired ||
			got.IsReturning != first.IsReturning {
			t.Fatalf("evaluation changed between calls: %+v vs %+v", got, first)
		}
	}
	if first.Status != StatusExpiringSoon || !first.IsExpiring {
		t.Fatalf("unexpected evaluation: %+v", first)
	}
	if first.DaysRemaining != 5 {
		t.Fatalf("DaysRemaining = %d, want 5", first.DaysRemaining)
	}
	if first.DaysSinceJoin != 10 {
		t.Fatalf("DaysSinceJoin = %d, want 10", first.DaysSinceJoin)
	}
	if !first.IsNew {
		t.Fatal("account joined 10 days ago should count as new")
	}
}

func TestEvaluateDaysRoundUp(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// Half a day since join rounds up to one full day.
	acc := Account{Tier: TierFree, CreatedAt: now.Add(-12 * time.Hour)}
	if got := Evaluate(acc, now).DaysSinceJoin; got != 1 {
		t.Fatalf("DaysSinceJoin = %d, want 1", got)
	}

	// 6.5 days remaining counts as 7.
	acc = Account{Tier: TierGolden, MembershipExpiresAt: timePtr(now.Add(6*24*time.Hour + 12*time.Hour))}
	if got := Evaluate(acc, now).DaysRemaining; got != 7 {
		t.Fatalf("DaysRemaining = %d, want 7", got)
	}
}

func TestHasEverPaid(t *testing.T) {
	t.Parallel()
	if (Account{Tier: TierFree}).HasEverPaid() {
		t.Fatal("fresh free account should not count as ever paid")
	}
	if (Account{Tier: TierFree, PreviousTier: TierFree}).HasEverPaid() {
		t.Fatal("previous tier Free should not count as ever paid")
	}
	if !(Account{Tier: TierFree, PreviousTier: TierGolden}).HasEverPaid() {
		t.Fatal("lapsed Golden should count as ever paid")
	}
}
