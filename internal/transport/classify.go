package transport

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Outcome classifies one delivery attempt. Permanent failures mean the
// recipient can never be reached on this channel (blocked the bot, deleted
// their account); anything else is worth retrying in a future broadcast.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeUnreachable
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "transient"
	}
}

// Classify maps a send error to a delivery outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeDelivered
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrChatNotFound):
		return OutcomeUnreachable
	}
	// Any other 403 means the recipient (or chat) has shut us out.
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return OutcomeUnreachable
	}
	if strings.Contains(strings.ToLower(err.Error()), "forbidden") {
		return OutcomeUnreachable
	}
	return OutcomeTransient
}
