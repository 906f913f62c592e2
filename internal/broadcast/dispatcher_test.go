package broadcast

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"membot/internal/segment"
	"membot/internal/store"
	"membot/internal/transport"
	"membot/pkg/logx"
)

// fakeStore covers the slice of the store the dispatcher touches. Everything
// else comes from the embedded nil interface and panics if reached.
type fakeStore struct {
	store.Store

	accounts []segment.Account
	scanErr  error

	mu           sync.Mutex
	sentStats    *store.Stats
	failedReason string
	failedStats  *store.Stats
	records      []store.DispatchRecord
}

func (f *fakeStore) ForEachAccount(ctx context.Context, tiers []segment.Tier, fn func(segment.Account) error) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	for _, acc := range f.accounts {
		if len(tiers) > 0 {
			keep := false
			for _, t := range tiers {
				if t == acc.Tier {
					keep = true
					break
				}
			}
			if !keep {
				continue
			}
		}
		if err := fn(acc); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id string, stats store.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentStats = &stats
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id string, reason string, stats store.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedReason = reason
	f.failedStats = &stats
	return nil
}

func (f *fakeStore) AppendDispatchRecord(ctx context.Context, rec store.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

// fakeAdapter scripts one error per recipient id; absent means delivered.
type fakeAdapter struct {
	mu     sync.Mutex
	errs   map[string]error
	sent   []string
	medias int
}

func (a *fakeAdapter) Start(ctx context.Context) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error  { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, recipientID, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.errs[recipientID]; err != nil {
		return transport.MessageRef{}, err
	}
	a.sent = append(a.sent, recipientID)
	return transport.MessageRef{}, nil
}

func (a *fakeAdapter) SendMedia(ctx context.Context, recipientID string, media transport.MediaRef, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	a.medias++
	a.mu.Unlock()
	return a.SendText(ctx, recipientID, caption, opt)
}

func textBroadcast(seg string) store.Broadcast {
	return store.Broadcast{
		ID:             "bc-1",
		Status:         store.StatusPending,
		TargetLanguage: store.TargetLanguageAll,
		Segment:        seg,
		Payload:        store.Payload{Kind: store.PayloadText, Text: "hi"},
	}
}

func newTestDispatcher(st store.Store, ad transport.Adapter) *Dispatcher {
	return NewDispatcher(Config{Workers: 4, RatePerSec: 10000}, st, ad, logx.Nop())
}

func TestExecuteEmptyAudienceIsSuccess(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	ad := &fakeAdapter{}
	d := newTestDispatcher(st, ad)

	d.Execute(context.Background(), textBroadcast("all_users"))

	if st.sentStats == nil {
		t.Fatal("expected MarkSent for empty audience")
	}
	if *st.sentStats != (store.Stats{}) {
		t.Fatalf("stats = %+v, want zero", *st.sentStats)
	}
	if st.failedStats != nil {
		t.Fatal("empty audience must not mark the broadcast failed")
	}
	if len(ad.sent) != 0 {
		t.Fatalf("unexpected sends: %v", ad.sent)
	}
}

func TestExecuteCountsOutcomes(t *testing.T) {
	t.Parallel()
	var accounts []segment.Account
	for i := 0; i < 10; i++ {
		accounts = append(accounts, segment.Account{ID: strconv.Itoa(i), Language: "en", Tier: segment.TierFree})
	}
	st := &fakeStore{accounts: accounts}
	ad := &fakeAdapter{errs: map[string]error{
		// Unreachable recipients: blocked or gone.
		"1": tele.ErrBlockedByUser,
		"2": tele.ErrChatNotFound,
		"3": &tele.Error{Code: 403, Description: "Forbidden: user is deactivated"},
		// Transient failures.
		"4": errors.New("telegram: retry after 5"),
		"5": context.DeadlineExceeded,
	}}
	d := newTestDispatcher(st, ad)

	d.Execute(context.Background(), textBroadcast("all_users"))

	if st.sentStats == nil {
		t.Fatalf("expected MarkSent, got failure %q", st.failedReason)
	}
	want := store.Stats{Sent: 5, Failed: 2, Skipped: 3}
	if *st.sentStats != want {
		t.Fatalf("stats = %+v, want %+v", *st.sentStats, want)
	}
	if got := st.sentStats.Total(); got != len(accounts) {
		t.Fatalf("stats total = %d, want audience size %d", got, len(accounts))
	}

	if len(st.records) != 1 {
		t.Fatalf("expected one analytics record, got %d", len(st.records))
	}
	rec := st.records[0]
	if rec.TargetCount != 10 || rec.SentCount != 5 || rec.SkipCount != 3 || rec.FailedCount != 2 {
		t.Fatalf("unexpected analytics record: %+v", rec)
	}
	if rec.SuccessRate != 50 {
		t.Fatalf("SuccessRate = %v, want 50", rec.SuccessRate)
	}
}

func TestExecuteLanguageFilter(t *testing.T) {
	t.Parallel()
	st := &fakeStore{accounts: []segment.Account{
		{ID: "en-1", Language: "en", Tier: segment.TierFree},
		{ID: "es-1", Language: "es", Tier: segment.TierFree},
		{ID: "es-2", Language: "es", Tier: segment.TierFree},
	}}
	ad := &fakeAdapter{}
	d := newTestDispatcher(st, ad)

	bc := textBroadcast("all_users")
	bc.TargetLanguage = "es"
	d.Execute(context.Background(), bc)

	if st.sentStats == nil || st.sentStats.Sent != 2 {
		t.Fatalf("stats = %+v, want 2 sent", st.sentStats)
	}
}

func TestExecuteSegmentFilter(t *testing.T) {
	t.Parallel()
	expires := time.Now().AddDate(0, 0, 3)
	st := &fakeStore{accounts: []segment.Account{
		{ID: "free", Language: "en", Tier: segment.TierFree},
		{ID: "expiring", Language: "en", Tier: segment.TierGolden, MembershipExpiresAt: &expires},
	}}
	ad := &fakeAdapter{}
	d := newTestDispatcher(st, ad)

	d.Execute(context.Background(), textBroadcast("expiring_soon"))

	if st.sentStats == nil || st.sentStats.Sent != 1 {
		t.Fatalf("stats = %+v, want 1 sent", st.sentStats)
	}
	if len(ad.sent) != 1 || ad.sent[0] != "expiring" {
		t.Fatalf("sent to %v, want [expiring]", ad.sent)
	}
}

func TestExecuteUnknownSegmentFails(t *testing.T) {
	t.Parallel()
	st := &fakeStore{accounts: []segment.Account{{ID: "a", Tier: segment.TierFree}}}
	d := newTestDispatcher(st, &fakeAdapter{})

	d.Execute(context.Background(), textBroadcast("whales"))

	if st.failedStats == nil {
		t.Fatal("expected MarkFailed for unknown segment")
	}
	if st.sentStats != nil {
		t.Fatal("must not mark sent")
	}
}

func TestExecuteScanErrorFails(t *testing.T) {
	t.Parallel()
	st := &fakeStore{scanErr: errors.New("db gone")}
	d := newTestDispatcher(st, &fakeAdapter{})

	d.Execute(context.Background(), textBroadcast("all_users"))

	if st.failedStats == nil {
		t.Fatal("expected MarkFailed on scan error")
	}
}

func TestExecuteMediaPayloadWithoutFile(t *testing.T) {
	t.Parallel()
	st := &fakeStore{accounts: []segment.Account{
		{ID: "a", Language: "en", Tier: segment.TierFree},
		{ID: "b", Language: "en", Tier: segment.TierFree},
	}}
	ad := &fakeAdapter{}
	d := newTestDispatcher(st, ad)

	// A corrupted persisted row: media kind, no media reference. The
	// dispatch must finish and count every recipient as failed.
	bc := textBroadcast("all_users")
	bc.Payload = store.Payload{Kind: store.PayloadMedia, Text: "caption"}
	d.Execute(context.Background(), bc)

	if st.sentStats == nil {
		t.Fatalf("expected MarkSent, got failure %q", st.failedReason)
	}
	want := store.Stats{Failed: 2}
	if *st.sentStats != want {
		t.Fatalf("stats = %+v, want %+v", *st.sentStats, want)
	}
}

// panicAdapter blows up on one scripted recipient and delivers to the rest.
type panicAdapter struct {
	fakeAdapter
	panicOn string
}

func (a *panicAdapter) SendText(ctx context.Context, recipientID, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if recipientID == a.panicOn {
		panic("adapter corrupted state")
	}
	return a.fakeAdapter.SendText(ctx, recipientID, text, opt)
}

func TestExecuteSurvivesPanickingSend(t *testing.T) {
	t.Parallel()
	var accounts []segment.Account
	for i := 0; i < 6; i++ {
		accounts = append(accounts, segment.Account{ID: strconv.Itoa(i), Language: "en", Tier: segment.TierFree})
	}
	st := &fakeStore{accounts: accounts}
	ad := &panicAdapter{panicOn: "2"}
	// One worker: if the panic killed the drain loop, the feeder would
	// stall on the remaining recipients instead of finishing.
	d := NewDispatcher(Config{Workers: 1, RatePerSec: 10000}, st, ad, logx.Nop())

	done := make(chan struct{})
	go func() {
		d.Execute(context.Background(), textBroadcast("all_users"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not finish after a panicking send")
	}

	if st.sentStats == nil {
		t.Fatalf("expected MarkSent, got failure %q", st.failedReason)
	}
	want := store.Stats{Sent: 5, Failed: 1}
	if *st.sentStats != want {
		t.Fatalf("stats = %+v, want %+v", *st.sentStats, want)
	}
}

func TestExecuteSendsMediaPayload(t *testing.T) {
	t.Parallel()
	st := &fakeStore{accounts: []segment.Account{{ID: "a", Language: "en", Tier: segment.TierFree}}}
	ad := &fakeAdapter{}
	d := newTestDispatcher(st, ad)

	bc := textBroadcast("all_users")
	bc.Payload = store.Payload{
		Kind:  store.PayloadMedia,
		Text:  "caption",
		Media: &transport.MediaRef{Kind: transport.MediaPhoto, FileID: "file-1"},
	}
	d.Execute(context.Background(), bc)

	if ad.medias != 1 {
		t.Fatalf("medias = %d, want 1", ad.medias)
	}
	if st.sentStats == nil || st.sentStats.Sent != 1 {
		t.Fatalf("stats = %+v, want 1 sent", st.sentStats)
	}
}
