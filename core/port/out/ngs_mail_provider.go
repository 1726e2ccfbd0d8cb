package out

import (
	"context"
	"time"

	"github.com/kapella-hub/ngs/core/domain"
)

// InboundMessage is one message as delivered by a mail provider, before
// redaction and storage.
type InboundMessage struct {
	UID         int64
	MessageID   string
	Subject     string
	From        string
	To          []string
	Date        time.Time
	Headers     map[string]string
	BodyText    string
	BodyHTML    string
	ICSPayload  string
	Attachments []domain.AttachmentMeta
}

// MailProvider abstracts a mail source. UIDs must be monotonically
// increasing within a folder and stable across reconnects.
type MailProvider interface {
	// Name identifies the provider (imap, graph, gmail, file).
	Name() string
	// Folders lists the folders this provider is configured to poll.
	Folders() []string
	// List returns messages with UID > sinceUID in ascending UID order,
	// at most limit of them.
	List(ctx context.Context, folder string, sinceUID int64, limit int) ([]InboundMessage, error)
	// PollInterval is the provider's preferred polling cadence.
	PollInterval() time.Duration
	Close() error
}
