package analytics

import (
	"context"
	"testing"
	"time"

	"membot/internal/store"
)

type fakeStore struct {
	store.Store

	records []store.DispatchRecord
	since   time.Time
}

func (f *fakeStore) DispatchRecords(ctx context.Context, since time.Time) ([]store.DispatchRecord, error) {
	f.since = since
	return f.records, nil
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	st := &fakeStore{records: []store.DispatchRecord{
		{BroadcastID: "bc-3", Segment: "free_users", SegmentName: "Free Users", TargetCount: 10, SentCount: 8},
		{BroadcastID: "bc-2", Segment: "free_users", SegmentName: "Free Users", TargetCount: 10, SentCount: 10},
		{BroadcastID: "bc-1", Segment: "premium_users", SegmentName: "Premium Users", TargetCount: 5, SentCount: 2},
	}}
	r := NewReporter(st)

	sum, err := r.Summarize(context.Background(), 7)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.PeriodDays != 7 || sum.TotalDispatches != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TotalSent != 20 || sum.TotalTargeted != 25 {
		t.Fatalf("totals = %d/%d, want 20/25", sum.TotalSent, sum.TotalTargeted)
	}
	if sum.SuccessRate != 80 {
		t.Fatalf("SuccessRate = %v, want 80", sum.SuccessRate)
	}

	if len(sum.Segments) != 2 {
		t.Fatalf("segments = %+v", sum.Segments)
	}
	free := sum.Segments[0]
	if free.Segment != "free_users" || free.Dispatches != 2 || free.TotalSent != 18 || free.SuccessRate != 90 {
		t.Fatalf("free segment = %+v", free)
	}
	if len(sum.Recent) != 3 || sum.Recent[0].BroadcastID != "bc-3" {
		t.Fatalf("recent = %+v", sum.Recent)
	}

	// The query window should reach roughly seven days back.
	want := time.Now().AddDate(0, 0, -7)
	if d := st.since.Sub(want); d < -time.Minute || d > time.Minute {
		t.Fatalf("since = %v, want near %v", st.since, want)
	}
}

func TestSummarizeDefaultsPeriod(t *testing.T) {
	t.Parallel()
	r := NewReporter(&fakeStore{})
	sum, err := r.Summarize(context.Background(), 0)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.PeriodDays != 30 {
		t.Fatalf("PeriodDays = %d, want 30", sum.PeriodDays)
	}
	if sum.TotalDispatches != 0 || sum.SuccessRate != 0 {
		t.Fatalf("empty summary expected: %+v", sum)
	}
}
