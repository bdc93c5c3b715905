// Package messenger connects the relay to a chat platform. The dispatcher
// only sees the Event, Sender and FileLocator types defined here.
package messenger

import "context"

// Kind classifies incoming events.
type Kind int

const (
	KindOther   Kind = iota // stickers, locations, service messages
	KindText                // plain text that is not a command
	KindCommand             // "/name args"
	KindFile                // an uploaded file; Attachment is nil when unsupported
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCommand:
		return "command"
	case KindFile:
		return "file"
	default:
		return "other"
	}
}

// Attachment identifies an uploaded file on the platform.
type Attachment struct {
	FileID   string // used to fetch the content
	UniqueID string // stable across re-uploads, names the local copy
	Name     string // original file name, empty for photos
}

// Event is one incoming message.
type Event struct {
	Kind       Kind
	UserID     string // opaque transcript key
	ChatID     int64  // where replies go
	Text       string
	Command    string // without the leading slash, for KindCommand
	Attachment *Attachment
}

// Sender delivers replies.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// FileLocator resolves an attachment file id to a download URL.
type FileLocator interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// Messenger is a full platform connection.
type Messenger interface {
	Sender
	FileLocator
	// Listen delivers events until ctx is done, then closes the channel.
	Listen(ctx context.Context) (<-chan Event, error)
}
