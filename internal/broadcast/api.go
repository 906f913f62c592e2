package broadcast

import (
	"context"
	"time"

	"membot/internal/segment"
	"membot/internal/store"
	"membot/pkg/logx"
)

// API is the authoring-side surface consumed by the admin flow. It is a thin
// validation/lookup layer over the store; all state-machine rules live there.
type API struct {
	st  store.Store
	log logx.Logger
}

func NewAPI(st store.Store, log logx.Logger) *API {
	return &API{st: st, log: log.With(logx.String("svc", "authoring"))}
}

func (a *API) Create(ctx context.Context, spec store.BroadcastSpec) (string, error) {
	return a.st.CreateBroadcast(ctx, spec)
}

func (a *API) Cancel(ctx context.Context, id string) error {
	return a.st.CancelBroadcast(ctx, id)
}

func (a *API) Update(ctx context.Context, id string, patch store.BroadcastPatch) error {
	return a.st.UpdateBroadcast(ctx, id, patch)
}

func (a *API) Get(ctx context.Context, id string) (store.Broadcast, error) {
	return a.st.GetBroadcast(ctx, id)
}

// List returns pending broadcasts ordered by scheduled time.
func (a *API) List(ctx context.Context) ([]store.Broadcast, error) {
	return a.st.ListPending(ctx)
}

func (a *API) PendingCount(ctx context.Context) (int, error) {
	return a.st.PendingCount(ctx)
}

// SegmentPresets returns the fixed catalog, in display order.
func (a *API) SegmentPresets() []segment.Definition {
	return segment.Presets()
}

// SegmentStats describes one preset's current audience size.
type SegmentStats struct {
	Key         string
	Name        string
	Description string
	UserCount   int
}

// SegmentStats counts the accounts a preset would target right now. The
// count is computed fresh on every call; segment membership is never
// persisted.
func (a *API) SegmentStats(ctx context.Context, key string) (SegmentStats, error) {
	def, err := segment.PresetByKey(key)
	if err != nil {
		return SegmentStats{}, err
	}
	now := time.Now()
	count := 0
	err = a.st.ForEachAccount(ctx, def.Criteria.Tiers, func(acc segment.Account) error {
		if segment.Matches(acc, segment.Evaluate(acc, now), def) {
			count++
		}
		return nil
	})
	if err != nil {
		return SegmentStats{}, err
	}
	return SegmentStats{Key: def.Key, Name: def.Name, Description: def.Description, UserCount: count}, nil
}
