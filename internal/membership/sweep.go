package membership

import (
	"context"
	"fmt"
	"time"

	"membot/internal/segment"
	"membot/internal/store"
	"membot/internal/transport"
	"membot/pkg/logx"
)

// Result summarizes one expiration sweep pass.
type Result struct {
	Checked  int
	Expired  int
	Failed   int
	Notified int
}

// Sweeper downgrades paid accounts whose membership has lapsed and tells
// each affected user. It never upgrades; activation flows live outside the
// engine.
type Sweeper struct {
	st      store.Store
	adapter transport.Adapter
	log     logx.Logger
}

func NewSweeper(st store.Store, adapter transport.Adapter, log logx.Logger) *Sweeper {
	return &Sweeper{st: st, adapter: adapter, log: log.With(logx.String("svc", "membership"))}
}

// Sweep runs one expiration pass as of now.
//
// Each account is handled independently: a downgrade or notification
// failure is counted and logged but never aborts the rest of the pass.
// Re-running is harmless — the downgrade is guarded on "still paid and
// still expired", so a second pass selects nothing.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	expired, err := s.st.ExpiredPremium(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("query expired memberships: %w", err)
	}
	res := Result{Checked: len(expired)}
	if len(expired) == 0 {
		s.log.Debug("no expired memberships")
		return res, nil
	}

	for _, acc := range expired {
		applied, err := s.st.DowngradeExpired(ctx, acc.ID, now)
		if err != nil {
			res.Failed++
			s.log.Error("downgrade failed", logx.String("account", acc.ID), logx.Err(err))
			continue
		}
		if !applied {
			// Raced with an activation or an overlapping sweep; nothing to do.
			continue
		}
		res.Expired++
		s.log.Info("membership expired",
			logx.String("account", acc.ID),
			logx.String("tier", string(acc.Tier)))

		if s.notify(ctx, acc) {
			res.Notified++
		}
	}

	s.log.Info("expiration sweep complete",
		logx.Int("checked", res.Checked),
		logx.Int("expired", res.Expired),
		logx.Int("failed", res.Failed),
		logx.Int("notified", res.Notified))
	return res, nil
}

// notify sends the 1:1 downgrade notice. Delivery is fire-and-forget from
// the account's perspective; failures are logged for the operator only.
func (s *Sweeper) notify(ctx context.Context, acc segment.Account) bool {
	text := expiredNotice(acc.Language, string(acc.Tier))
	_, err := s.adapter.SendText(ctx, acc.ID, text, &transport.SendOptions{ParseMode: "Markdown"})
	if err != nil {
		s.log.Warn("expiry notice failed",
			logx.String("account", acc.ID),
			logx.String("outcome", transport.Classify(err).String()),
			logx.Err(err))
		return false
	}
	return true
}

func expiredNotice(lang, tier string) string {
	if lang == "es" {
		return fmt.Sprintf("⏰ *Tu membresía ha expirado*\n\nTu membresía %s ha expirado y has sido cambiado al plan Free.\n\n¿Quieres renovar? Usa /subscribe", tier)
	}
	return fmt.Sprintf("⏰ *Your membership has expired*\n\nYour %s membership has expired and you've been moved to the Free plan.\n\nWant to renew? Use /subscribe", tier)
}
