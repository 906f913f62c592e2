// Package sched owns the engine's periodic sweeps. It wraps one cron
// runner behind an explicit name→entry registry so callers hold a handle to
// their schedule instead of reaching into ambient global state.
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"membot/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty means local time
}

// Job is one sweep body. Implementations must be idempotent: overlapping or
// repeated ticks against the same state have to be harmless.
type Job func(ctx context.Context)

type Service struct {
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		loc = l
	}
	s := &Service{
		log: log.With(logx.String("svc", "sched")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loc,
		entries: map[string]cron.EntryID{},
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	return s, nil
}

// Register adds (or replaces) a named schedule. The job runs with the
// service's run context; before Start that context is not yet live and the
// job will not fire.
func (s *Service) Register(name, spec string, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.c.Remove(old)
	}
	id, err := s.c.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.entries[name] = id
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove drops a named schedule; unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
}

// Names lists registered schedules, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Service) run(name string, job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in sweep",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c.Start()
	s.log.Info("service started",
		logx.String("tz", s.loc.String()),
		logx.Int("schedules", len(s.entries)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	c := s.c
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	// cron's Stop returns a context that is done once in-flight jobs finish.
	select {
	case <-c.Stop().Done():
		s.log.Info("service stopped")
	case <-ctx.Done():
		s.log.Warn("stop cancelled; sweeps continue in background")
	}
}
