package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"membot/internal/segment"
	"membot/internal/store"
	"membot/internal/transport"
	"membot/pkg/logx"
)

type Config struct {
	// Workers bounds concurrent sends within one dispatch.
	Workers int
	// RatePerSec is the shared delivery budget across all workers.
	RatePerSec int
}

const (
	defaultWorkers = 16
	defaultRate    = 10
)

// Dispatcher delivers one due broadcast to its resolved audience.
//
// Every Execute call terminates in a store status transition: markSent with
// the final counters, or markFailed with whatever partial counters were
// accumulated before the dispatch became unrecoverable.
type Dispatcher struct {
	cfg     Config
	st      store.Store
	adapter transport.Adapter
	log     logx.Logger
	limiter *rate.Limiter
}

func NewDispatcher(cfg Config, st store.Store, adapter transport.Adapter, log logx.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	return &Dispatcher{
		cfg:     cfg,
		st:      st,
		adapter: adapter,
		log:     log.With(logx.String("svc", "dispatch")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Execute runs one dispatch to completion.
func (d *Dispatcher) Execute(ctx context.Context, bc store.Broadcast) {
	start := time.Now()
	log := d.log.With(logx.String("broadcast", bc.ID), logx.String("segment", bc.Segment))

	def, err := segment.PresetByKey(bc.Segment)
	if err != nil {
		log.Error("audience resolution failed", logx.Err(err))
		d.markFailed(ctx, bc.ID, fmt.Sprintf("resolve segment: %v", err), store.Stats{})
		return
	}

	audience, err := d.resolveAudience(ctx, bc, def)
	if err != nil {
		log.Error("audience scan failed", logx.Err(err))
		d.markFailed(ctx, bc.ID, fmt.Sprintf("scan accounts: %v", err), store.Stats{})
		return
	}

	if len(audience) == 0 {
		// An empty audience is a successful dispatch, not a failure.
		log.Info("no accounts matched")
		if err := d.st.MarkSent(ctx, bc.ID, store.Stats{}); err != nil {
			log.Error("mark sent failed", logx.Err(err))
		}
		return
	}

	log.Info("dispatch started", logx.Int("audience", len(audience)))
	stats, sendErr := d.deliverAll(ctx, bc, audience)

	if sendErr != nil {
		log.Warn("dispatch aborted", logx.Err(sendErr), logx.Any("stats", stats))
		d.markFailed(ctx, bc.ID, sendErr.Error(), stats)
		return
	}

	if err := d.st.MarkSent(ctx, bc.ID, stats); err != nil {
		log.Error("mark sent failed", logx.Err(err))
		return
	}
	d.recordAnalytics(ctx, bc, def, len(audience), stats, time.Since(start))

	fields := []logx.Field{
		logx.Int("sent", stats.Sent),
		logx.Int("failed", stats.Failed),
		logx.Int("skipped", stats.Skipped),
		logx.Duration("dur", time.Since(start)),
	}
	if stats.Failed > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
}

// resolveAudience streams the account population and keeps matching rows.
// The tier allow-list is pushed down into the store scan; language and the
// rest of the criteria are evaluated per row against one fixed clock so the
// whole dispatch sees a consistent view.
func (d *Dispatcher) resolveAudience(ctx context.Context, bc store.Broadcast, def segment.Definition) ([]segment.Account, error) {
	now := time.Now()
	var audience []segment.Account
	err := d.st.ForEachAccount(ctx, def.Criteria.Tiers, func(acc segment.Account) error {
		if bc.TargetLanguage != store.TargetLanguageAll && acc.Language != bc.TargetLanguage {
			return nil
		}
		if segment.Matches(acc, segment.Evaluate(acc, now), def) {
			audience = append(audience, acc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audience, nil
}

func (d *Dispatcher) deliverAll(ctx context.Context, bc store.Broadcast, audience []segment.Account) (store.Stats, error) {
	workers := d.cfg.Workers
	if workers > len(audience) {
		workers = len(audience)
	}

	queue := make(chan segment.Account)
	var (
		mu       sync.Mutex
		stats    store.Stats
		fatalErr error
	)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for acc := range queue {
				if err := d.limiter.Wait(ctx); err != nil {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					return
				}
				outcome, err := d.attempt(ctx, bc, acc)
				mu.Lock()
				switch outcome {
				case transport.OutcomeDelivered:
					stats.Sent++
				case transport.OutcomeUnreachable:
					stats.Skipped++
				default:
					stats.Failed++
				}
				mu.Unlock()
				if outcome == transport.OutcomeTransient && err != nil {
					d.log.Warn("delivery failed",
						logx.String("broadcast", bc.ID),
						logx.String("recipient", acc.ID),
						logx.Err(err))
				}
			}
		}()
	}

feed:
	for _, acc := range audience {
		select {
		case queue <- acc:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil && fatalErr == nil {
		fatalErr = err
	}
	return stats, fatalErr
}

// attempt wraps one delivery so a panicking send (or adapter) costs only
// that recipient; the worker's drain loop keeps going and the feeder never
// blocks on a dead pool.
func (d *Dispatcher) attempt(ctx context.Context, bc store.Broadcast, acc segment.Account) (outcome transport.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic delivering broadcast",
				logx.String("broadcast", bc.ID),
				logx.String("recipient", acc.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			outcome, err = transport.OutcomeTransient, fmt.Errorf("panic: %v", r)
		}
	}()
	return d.sendOne(ctx, bc, acc)
}

func (d *Dispatcher) sendOne(ctx context.Context, bc store.Broadcast, acc segment.Account) (transport.Outcome, error) {
	opt := &transport.SendOptions{
		ParseMode: "Markdown",
		Buttons:   bc.Payload.Buttons,
	}

	var err error
	switch bc.Payload.Kind {
	case store.PayloadMedia:
		if bc.Payload.Media == nil {
			// A media record without its file reference is rejected at
			// create time; a stray row must not take the worker down.
			err = fmt.Errorf("media payload without file reference")
			break
		}
		_, err = d.adapter.SendMedia(ctx, acc.ID, *bc.Payload.Media, bc.Payload.Text, opt)
	case store.PayloadText:
		_, err = d.adapter.SendText(ctx, acc.ID, bc.Payload.Text, opt)
	default:
		// Unknown payload kinds are rejected at create time; treat a stray
		// record as a transient failure rather than crashing the dispatch.
		err = fmt.Errorf("unknown payload kind %q", bc.Payload.Kind)
	}
	return transport.Classify(err), err
}

func (d *Dispatcher) markFailed(ctx context.Context, id, reason string, stats store.Stats) {
	if err := d.st.MarkFailed(ctx, id, reason, stats); err != nil {
		d.log.Error("mark failed errored", logx.String("broadcast", id), logx.Err(err))
	}
}

func (d *Dispatcher) recordAnalytics(ctx context.Context, bc store.Broadcast, def segment.Definition, target int, stats store.Stats, dur time.Duration) {
	success := 0.0
	if target > 0 {
		success = float64(stats.Sent) / float64(target) * 100
	}
	rec := store.DispatchRecord{
		BroadcastID: bc.ID,
		Segment:     def.Key,
		SegmentName: def.Name,
		TargetCount: target,
		SentCount:   stats.Sent,
		FailedCount: stats.Failed,
		SkipCount:   stats.Skipped,
		SuccessRate: success,
		PayloadKind: bc.Payload.Kind,
		HasMedia:    bc.Payload.Kind == store.PayloadMedia,
		Duration:    dur,
	}
	if err := d.st.AppendDispatchRecord(ctx, rec); err != nil {
		// Reporting only; never fail the dispatch over it.
		d.log.Warn("analytics append failed", logx.String("broadcast", bc.ID), logx.Err(err))
	}
}
