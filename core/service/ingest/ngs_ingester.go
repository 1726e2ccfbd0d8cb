package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
	"github.com/kapella-hub/ngs/pkg/redact"
)

// Options carries the ingester tunables.
type Options struct {
	BatchSize      int
	IdemTTL        time.Duration
	IdemStaleAfter time.Duration

	// BackfillDays bounds the first poll of a folder: messages older
	// than this are skipped instead of flooding the pipeline with
	// history. Zero or negative means no bound.
	BackfillDays int
}

// Service pulls mail batches from one provider, redacts and stores them,
// and hands the stored IDs to the parse stage. Per-folder cursors make a
// poll resumable; the idempotency store absorbs provider redelivery.
type Service struct {
	provider  out.MailProvider
	emails    out.EmailRepository
	cursors   out.CursorRepository
	idem      out.IdempotencyRepository
	publisher out.Publisher
	redactor  *redact.Redactor

	opts Options
	log  *logger.Logger
	now  func() time.Time
}

func NewService(
	provider out.MailProvider,
	emails out.EmailRepository,
	cursors out.CursorRepository,
	idem out.IdempotencyRepository,
	publisher out.Publisher,
	redactor *redact.Redactor,
	opts Options,
) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.IdemTTL <= 0 {
		opts.IdemTTL = 24 * time.Hour
	}
	if opts.IdemStaleAfter <= 0 {
		opts.IdemStaleAfter = 10 * time.Minute
	}
	return &Service{
		provider:  provider,
		emails:    emails,
		cursors:   cursors,
		idem:      idem,
		publisher: publisher,
		redactor:  redactor,
		opts:      opts,
		log:       logger.WithComponent("ingest"),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Folders lists the folders this ingester polls.
func (s *Service) Folders() []string { return s.provider.Folders() }

// Poll ingests at most one batch for the folder. The cursor only moves
// past messages that were stored or confirmed as duplicates, so a
// mid-batch failure resumes at the failed message on the next poll.
func (s *Service) Poll(ctx context.Context, folder string) (int, error) {
	sinceUID := int64(0)
	var backfillCutoff time.Time
	cursor, err := s.cursors.Get(ctx, folder)
	switch {
	case err == nil:
		sinceUID = cursor.LastUID
	case apperr.ClassOf(err) == apperr.ClassNotFound:
		// First poll for this folder.
		if s.opts.BackfillDays > 0 {
			backfillCutoff = s.now().AddDate(0, 0, -s.opts.BackfillDays)
		}
	default:
		return 0, err
	}

	messages, err := s.provider.List(ctx, folder, sinceUID, s.opts.BatchSize)
	if err != nil {
		if recErr := s.cursors.RecordError(ctx, folder, err.Error()); recErr != nil {
			s.log.WithError(recErr).Warn("cursor error record failed for %s", folder)
		}
		return 0, err
	}
	if len(messages) == 0 {
		if err := s.cursors.Advance(ctx, folder, sinceUID, 0); err != nil {
			return 0, err
		}
		return 0, nil
	}

	stored := 0
	lastUID := sinceUID
	for i := range messages {
		msg := &messages[i]
		if !backfillCutoff.IsZero() && !msg.Date.IsZero() && msg.Date.Before(backfillCutoff) {
			// Too old for the initial backfill; move the cursor past it.
			lastUID = msg.UID
			continue
		}
		created, err := s.ingestOne(ctx, folder, msg)
		if err != nil {
			// Stop here so the cursor never jumps over an unstored message.
			s.advance(ctx, folder, lastUID, stored)
			if recErr := s.cursors.RecordError(ctx, folder, err.Error()); recErr != nil {
				s.log.WithError(recErr).Warn("cursor error record failed for %s", folder)
			}
			return stored, err
		}
		if created {
			stored++
		}
		lastUID = msg.UID
	}

	if err := s.cursors.Advance(ctx, folder, lastUID, stored); err != nil {
		return stored, err
	}
	if stored > 0 {
		s.log.Info("folder %s: stored %d of %d messages, cursor at uid %d",
			folder, stored, len(messages), lastUID)
	}
	return stored, nil
}

// ingestOne stores one message behind an idempotency reservation and
// reports whether a new row was created.
func (s *Service) ingestOne(ctx context.Context, folder string, msg *out.InboundMessage) (bool, error) {
	key := idempotencyKey(folder, msg.UID, msg.MessageID)

	outcome, _, err := s.idem.Begin(ctx, key, s.opts.IdemTTL, s.opts.IdemStaleAfter)
	if err != nil {
		return false, err
	}
	if outcome != domain.BeginFresh {
		// Another worker holds or held this message.
		return false, nil
	}

	email := s.buildEmail(folder, msg)
	created, err := s.emails.Insert(ctx, email)
	if err != nil {
		return false, err
	}
	if created {
		payload, err := json.Marshal(map[string]string{"raw_email_id": email.ID.String()})
		if err != nil {
			return false, err
		}
		if err := s.publisher.Publish(ctx, out.StreamParse, payload); err != nil {
			return false, err
		}
	}

	result, _ := json.Marshal(map[string]string{"raw_email_id": email.ID.String()})
	if err := s.idem.Complete(ctx, key, result); err != nil {
		// The row is stored and published; a lost completion only costs a
		// redundant dedup pass on redelivery.
		s.log.WithError(err).Warn("idempotency completion failed for %s", key)
	}
	return created, nil
}

// buildEmail converts a provider message into the stored form, scrubbing
// subject and bodies first.
func (s *Service) buildEmail(folder string, msg *out.InboundMessage) *domain.RawEmail {
	subject, bodyText, hits := s.redactor.ApplyEmail(msg.Subject, msg.BodyText)
	bodyHTML, htmlHits := s.redactor.Apply(msg.BodyHTML)
	hits += htmlHits

	headers := make(map[string]string, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[foldHeader(k)] = v
	}
	if hits > 0 {
		headers["x-ngs-redacted"] = strconv.Itoa(hits)
	}

	return &domain.RawEmail{
		ID:          uuid.New(),
		Folder:      folder,
		UID:         msg.UID,
		MessageID:   msg.MessageID,
		Subject:     subject,
		FromAddress: msg.From,
		ToAddresses: msg.To,
		DateHeader:  msg.Date,
		Headers:     headers,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
		ICSPayload:  msg.ICSPayload,
		Attachments: msg.Attachments,
		ReceivedAt:  s.now().UTC(),
		ParseStatus: domain.ParseStatusPending,
	}
}

func (s *Service) advance(ctx context.Context, folder string, lastUID int64, processed int) {
	if err := s.cursors.Advance(ctx, folder, lastUID, processed); err != nil {
		s.log.WithError(err).Warn("cursor advance failed for %s", folder)
	}
}

// idempotencyKey derives the fixed-width reservation key for one
// message. The full sha256 hex fits the 64-char key column exactly.
func idempotencyKey(folder string, uid int64, messageID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", folder, uid, messageID)))
	return hex.EncodeToString(sum[:])
}

func foldHeader(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
