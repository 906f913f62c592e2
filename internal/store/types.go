package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"membot/internal/segment"
	"membot/internal/transport"
)

var (
	// ErrCapacity means the pending-broadcast ceiling is reached; the
	// operator has to cancel something or wait for a dispatch to finish.
	ErrCapacity = errors.New("pending broadcast limit reached")
	// ErrNotPending means the record left the pending state and can no
	// longer be cancelled or edited.
	ErrNotPending = errors.New("broadcast is not pending")
	ErrNotFound   = errors.New("not found")
)

// ValidationError rejects a malformed create/update before anything is
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BroadcastStatus is the state machine of a scheduled broadcast.
// pending is the only non-terminal state; transitions are one-way.
type BroadcastStatus string

const (
	StatusPending   BroadcastStatus = "pending"
	StatusSent      BroadcastStatus = "sent"
	StatusFailed    BroadcastStatus = "failed"
	StatusCancelled BroadcastStatus = "cancelled"
)

// PayloadKind tags the broadcast content variant.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadMedia PayloadKind = "media"
)

// Payload is the message content of a broadcast: either plain text or a
// media reference with the text as caption. Buttons may be attached to
// either variant.
type Payload struct {
	Kind    PayloadKind          `json:"kind"`
	Text    string               `json:"text"`
	Media   *transport.MediaRef  `json:"media,omitempty"`
	Buttons [][]transport.Button `json:"buttons,omitempty"`
}

// Stats are the aggregate per-broadcast delivery counters.
type Stats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (s Stats) Total() int { return s.Sent + s.Failed + s.Skipped }

// TargetLanguageAll targets every account regardless of language.
const TargetLanguageAll = "all"

// Broadcast is one scheduled broadcast record.
type Broadcast struct {
	ID     string
	Status BroadcastStatus

	CreatedAt     time.Time
	UpdatedAt     time.Time
	ScheduledTime time.Time
	SentAt        *time.Time
	FailedAt      *time.Time
	CancelledAt   *time.Time

	TargetLanguage string // "all" or a language code
	Segment        string // preset key, see segment.Presets
	Payload        Payload
	CreatedBy      string // admin id of the authoring flow

	FailureReason string
	Stats         Stats
}

// BroadcastSpec is the authoring-side input for create.
type BroadcastSpec struct {
	ScheduledTime  time.Time
	TargetLanguage string
	Segment        string
	Payload        Payload
	CreatedBy      string
}

// BroadcastPatch updates a still-pending broadcast. Nil fields are left
// untouched. Status and statistics are owned by the state machine and
// cannot be patched.
type BroadcastPatch struct {
	ScheduledTime  *time.Time
	TargetLanguage *string
	Segment        *string
	Payload        *Payload
}

// DispatchRecord is the append-only analytics row written after each
// completed dispatch. The dispatch path never reads these back.
type DispatchRecord struct {
	ID          int64
	BroadcastID string
	Segment     string
	SegmentName string
	TargetCount int
	SentCount   int
	FailedCount int
	SkipCount   int
	SuccessRate float64
	PayloadKind PayloadKind
	HasMedia    bool
	Duration    time.Duration
	CreatedAt   time.Time
}

// Store is the persistence API of the engine.
type Store interface {
	// Scheduled broadcasts.
	CanSchedule(ctx context.Context) (bool, error)
	PendingCount(ctx context.Context) (int, error)
	CreateBroadcast(ctx context.Context, spec BroadcastSpec) (string, error)
	GetBroadcast(ctx context.Context, id string) (Broadcast, error)
	ListPending(ctx context.Context) ([]Broadcast, error)
	FindDue(ctx context.Context, now time.Time) ([]Broadcast, error)
	CancelBroadcast(ctx context.Context, id string) error
	UpdateBroadcast(ctx context.Context, id string, patch BroadcastPatch) error
	MarkSent(ctx context.Context, id string, stats Stats) error
	MarkFailed(ctx context.Context, id string, reason string, stats Stats) error

	// Accounts.
	UpsertAccount(ctx context.Context, acc segment.Account) error
	GetAccount(ctx context.Context, id string) (segment.Account, error)
	ForEachAccount(ctx context.Context, tiers []segment.Tier, fn func(segment.Account) error) error
	ExpiredPremium(ctx context.Context, now time.Time) ([]segment.Account, error)
	DowngradeExpired(ctx context.Context, id string, now time.Time) (bool, error)
	ActivateMembership(ctx context.Context, id string, tier segment.Tier, by string, durationDays int) error

	// Dispatch analytics.
	AppendDispatchRecord(ctx context.Context, rec DispatchRecord) error
	DispatchRecords(ctx context.Context, since time.Time) ([]DispatchRecord, error)

	Close() error
}
