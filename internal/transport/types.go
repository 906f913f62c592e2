package transport

import "context"

// MediaKind is the transport-level media type of a broadcast attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// MediaRef points at an already-uploaded file on the transport side.
// The engine never handles raw media bytes.
type MediaRef struct {
	Kind   MediaKind
	FileID string
}

// Button is one inline keyboard button. Exactly one of URL and Data
// should be set; URL wins when both are.
type Button struct {
	Label string
	URL   string
	Data  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are rows of inline buttons attached to the message.
	Buttons [][]Button
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Adapter is the outbound messaging surface the engine depends on.
// Recipient ids are opaque strings owned by the surrounding application.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, recipientID string, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, recipientID string, media MediaRef, caption string, opt *SendOptions) (MessageRef, error)
}
