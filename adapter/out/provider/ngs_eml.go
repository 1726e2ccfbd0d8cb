// Package provider implements mail source adapters.
package provider

import (
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// parseRFC822 decodes a raw message into an InboundMessage, walking MIME
// parts for text, html and calendar payloads. Attachment bodies are not
// kept, only their metadata.
func parseRFC822(r io.Reader) (*out.InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		// Non-MIME or slightly malformed mail still carries a usable
		// header section.
		if !message.IsUnknownCharset(err) {
			return nil, apperr.MalformedMail("unreadable message: " + err.Error())
		}
	}
	defer mr.Close()

	msg := &out.InboundMessage{
		Headers: map[string]string{},
	}

	h := mr.Header
	msg.MessageID, _ = h.MessageID()
	msg.Subject, _ = h.Subject()
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.To = append(msg.To, addr.Address)
		}
	}
	fields := h.Fields()
	for fields.Next() {
		if v, err := fields.Text(); err == nil {
			msg.Headers[strings.ToLower(fields.Key())] = v
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			ctype, _, _ := header.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ctype, "text/calendar"):
				msg.ICSPayload = string(body)
			case strings.HasPrefix(ctype, "text/html"):
				if msg.BodyHTML == "" {
					msg.BodyHTML = string(body)
				}
			default:
				if msg.BodyText == "" {
					msg.BodyText = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			ctype, _, _ := header.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			// Calendar invites often arrive as an .ics attachment rather
			// than an inline part.
			if strings.HasPrefix(ctype, "text/calendar") || strings.HasSuffix(strings.ToLower(filename), ".ics") {
				if msg.ICSPayload == "" {
					msg.ICSPayload = string(body)
				}
			}
			msg.Attachments = append(msg.Attachments, domain.AttachmentMeta{
				Filename:    filename,
				ContentType: ctype,
				SizeBytes:   int64(len(body)),
			})
		}
	}

	return msg, nil
}

func domainAttachment(filename, contentType string, size int64) domain.AttachmentMeta {
	return domain.AttachmentMeta{Filename: filename, ContentType: contentType, SizeBytes: size}
}
