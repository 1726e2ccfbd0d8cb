package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// GmailConfig holds service-account credentials for domain-wide
// delegation to one mailbox.
type GmailConfig struct {
	CredentialsJSON string
	UserEmail       string
	Folders         []string // gmail label names
	PollInterval    time.Duration
}

// GmailProvider implements out.MailProvider on the Gmail API. The
// message internalDate (epoch millis) serves as the UID; Gmail assigns
// it on delivery so it is stable and ascending per label.
type GmailProvider struct {
	cfg GmailConfig
	svc *gmail.Service
	log *logger.Logger
}

func NewGmailProvider(ctx context.Context, cfg GmailConfig) (*GmailProvider, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX"}
	}

	jwt, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailReadonlyScope)
	if err != nil {
		return nil, apperr.ConfigError("gmail credentials: " + err.Error())
	}
	jwt.Subject = cfg.UserEmail

	svc, err := gmail.NewService(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
	if err != nil {
		return nil, apperr.ProviderError("gmail service init", err)
	}
	return &GmailProvider{cfg: cfg, svc: svc, log: logger.WithComponent("gmail_provider")}, nil
}

func (p *GmailProvider) Name() string                { return "gmail" }
func (p *GmailProvider) Folders() []string           { return p.cfg.Folders }
func (p *GmailProvider) PollInterval() time.Duration { return p.cfg.PollInterval }
func (p *GmailProvider) Close() error                { return nil }

func (p *GmailProvider) List(ctx context.Context, folder string, sinceUID int64, limit int) ([]out.InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	// internalDate granularity is millis but the after: operator takes
	// seconds, so re-filter on the exact UID below.
	query := fmt.Sprintf("in:%s", folder)
	if sinceUID > 0 {
		query += fmt.Sprintf(" after:%d", sinceUID/1000)
	}

	listing, err := p.svc.Users.Messages.List("me").
		Q(query).MaxResults(int64(limit * 2)).Context(ctx).Do()
	if err != nil {
		return nil, apperr.ProviderError("gmail list messages", err)
	}

	var messages []out.InboundMessage
	for _, ref := range listing.Messages {
		full, err := p.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, apperr.ProviderError("gmail get message "+ref.Id, err)
		}
		if full.InternalDate <= sinceUID {
			continue
		}
		msg := p.toInbound(full)
		messages = append(messages, *msg)
		if len(messages) >= limit {
			break
		}
	}
	sortByUID(messages)
	return messages, nil
}

func (p *GmailProvider) toInbound(full *gmail.Message) *out.InboundMessage {
	msg := &out.InboundMessage{
		UID:     full.InternalDate,
		Date:    time.UnixMilli(full.InternalDate).UTC(),
		Headers: map[string]string{},
	}
	for _, h := range full.Payload.Headers {
		key := strings.ToLower(h.Name)
		msg.Headers[key] = h.Value
		switch key {
		case "message-id":
			msg.MessageID = h.Value
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = strings.Split(h.Value, ",")
		}
	}
	for i := range msg.To {
		msg.To[i] = strings.TrimSpace(msg.To[i])
	}

	p.walkParts(full.Payload, msg)
	return msg
}

func (p *GmailProvider) walkParts(part *gmail.MessagePart, msg *out.InboundMessage) {
	if part == nil {
		return
	}
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch {
			case strings.HasPrefix(part.MimeType, "text/calendar"):
				msg.ICSPayload = string(data)
			case strings.HasPrefix(part.MimeType, "text/html"):
				if msg.BodyHTML == "" {
					msg.BodyHTML = string(data)
				}
			case strings.HasPrefix(part.MimeType, "text/"):
				if msg.BodyText == "" {
					msg.BodyText = string(data)
				}
			}
		}
	}
	if part.Filename != "" {
		size := int64(0)
		if part.Body != nil {
			size = part.Body.Size
		}
		msg.Attachments = append(msg.Attachments, domainAttachment(part.Filename, part.MimeType, size))
	}
	for _, child := range part.Parts {
		p.walkParts(child, msg)
	}
}
