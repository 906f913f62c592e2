// Package analytics aggregates the append-only dispatch log for operator
// reporting. Nothing on the dispatch path reads these numbers back.
package analytics

import (
	"context"
	"time"

	"membot/internal/store"
)

// SegmentSummary aggregates dispatches that targeted one segment.
type SegmentSummary struct {
	Segment     string
	Name        string
	Dispatches  int
	TotalSent   int
	TotalTarget int
	SuccessRate float64 // sent/target over the whole period, percent
}

// Summary is the operator-facing rollup over a reporting window.
type Summary struct {
	PeriodDays      int
	TotalDispatches int
	TotalSent       int
	TotalTargeted   int
	SuccessRate     float64
	Segments        []SegmentSummary
	Recent          []store.DispatchRecord // newest first, capped
}

const recentCap = 10

type Reporter struct {
	st store.Store
}

func NewReporter(st store.Store) *Reporter { return &Reporter{st: st} }

// Summarize rolls up dispatches from the last days days.
func (r *Reporter) Summarize(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		days = 30
	}
	recs, err := r.st.DispatchRecords(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{PeriodDays: days}
	bySegment := map[string]*SegmentSummary{}
	var order []string

	for _, rec := range recs {
		sum.TotalDispatches++
		sum.TotalSent += rec.SentCount
		sum.TotalTargeted += rec.TargetCount

		seg := bySegment[rec.Segment]
		if seg == nil {
			seg = &SegmentSummary{Segment: rec.Segment, Name: rec.SegmentName}
			bySegment[rec.Segment] = seg
			order = append(order, rec.Segment)
		}
		seg.Dispatches++
		seg.TotalSent += rec.SentCount
		seg.TotalTarget += rec.TargetCount

		if len(sum.Recent) < recentCap {
			sum.Recent = append(sum.Recent, rec)
		}
	}

	if sum.TotalTargeted > 0 {
		sum.SuccessRate = float64(sum.TotalSent) / float64(sum.TotalTargeted) * 100
	}
	for _, key := range order {
		seg := bySegment[key]
		if seg.TotalTarget > 0 {
			seg.SuccessRate = float64(seg.TotalSent) / float64(seg.TotalTarget) * 100
		}
		sum.Segments = append(sum.Segments, *seg)
	}
	return sum, nil
}
