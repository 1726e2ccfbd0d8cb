package parser

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/fingerprint"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// MaintenanceHook is the slice of the maintenance engine the parser
// needs: window detection on inbound mail and suppression on new events.
type MaintenanceHook interface {
	// DetectFromEmail consumes the email as a maintenance declaration if
	// it looks like one; returns true when a window was created.
	DetectFromEmail(ctx context.Context, email *domain.RawEmail) (bool, error)
	// ApplyToEvent stamps suppression/downgrade on the event according
	// to active windows and records match rows.
	ApplyToEvent(ctx context.Context, event *domain.AlertEvent) error
}

// Options carries the parser thresholds.
type Options struct {
	LLMMinConfidence    float64
	QuarantineThreshold float64
	CacheMinSuccess     float64
	BodyExcerptBytes    int
}

// Service runs the rules -> cache -> LLM pipeline for one raw email.
type Service struct {
	emails     out.EmailRepository
	events     out.EventRepository
	patterns   out.PatternRepository
	quarantine out.QuarantineRepository
	llm        out.LLMClient
	publisher  out.Publisher
	maint      MaintenanceHook

	rules []*RuleParser
	opts  Options
	log   *logger.Logger
}

func NewService(
	emails out.EmailRepository,
	events out.EventRepository,
	patterns out.PatternRepository,
	quarantine out.QuarantineRepository,
	llm out.LLMClient,
	publisher out.Publisher,
	maint MaintenanceHook,
	rules []*RuleParser,
	opts Options,
) *Service {
	if opts.BodyExcerptBytes <= 0 {
		opts.BodyExcerptBytes = 8192
	}
	return &Service{
		emails:     emails,
		events:     events,
		patterns:   patterns,
		quarantine: quarantine,
		llm:        llm,
		publisher:  publisher,
		maint:      maint,
		rules:      rules,
		opts:       opts,
		log:        logger.WithComponent("parser"),
	}
}

// ParseEmail converts one stored raw email into alert events, a
// maintenance window, or a quarantine record. Reprocessing a parsed
// email is a no-op, which makes the operation idempotent against
// redelivery.
func (s *Service) ParseEmail(ctx context.Context, rawEmailID uuid.UUID) error {
	email, err := s.emails.GetByID(ctx, rawEmailID)
	if err != nil {
		return err
	}
	if email.ParseStatus == domain.ParseStatusParsed || email.ParseStatus == domain.ParseStatusRejected {
		return nil
	}

	// Maintenance declarations never become alert events.
	consumed, err := s.maint.DetectFromEmail(ctx, email)
	if err != nil {
		return err
	}
	if consumed {
		return s.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusParsed, "")
	}

	body := email.BodyText
	if body == "" {
		body = email.BodyHTML
	}

	event, err := s.extract(ctx, email, body)
	if err != nil {
		return s.routeFailure(ctx, email, err)
	}
	if event == nil {
		// Quarantined inside extract.
		return nil
	}

	if err := s.maint.ApplyToEvent(ctx, event); err != nil {
		// Suppression is advisory; a failed match pass must not drop the
		// event itself.
		s.log.WithError(err).Warn("maintenance match failed for event %s", event.ID)
	}

	if err := s.events.Insert(ctx, event); err != nil {
		return err
	}
	if err := s.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusParsed, ""); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"alert_event_id": event.ID.String()})
	if err := s.publisher.Publish(ctx, out.StreamCorrelate, payload); err != nil {
		return apperr.Transient("publish to correlate stream", err)
	}
	return nil
}

// extract runs the three pipeline stages. A nil event with nil error
// means the email went to quarantine.
func (s *Service) extract(ctx context.Context, email *domain.RawEmail, body string) (*domain.AlertEvent, error) {
	started := time.Now()
	sourceTool := DetermineSourceTool(email.Folder, email.Subject, body)
	fromDomain := fingerprint.FromDomain(email.FromAddress)

	// Stage 1: static rules.
	for _, rp := range s.rules {
		if !rp.MatchesDomain(fromDomain) {
			continue
		}
		fields, ok := rp.Apply(email.Subject, body)
		if !ok || fields["host"] == "" {
			continue
		}
		event := BuildEvent(email, body, rp.SourceTool(), fields, rp.StaticTags())
		s.audit(ctx, email.ID, uuid.Nil, domain.ExtractionRuleBased, fields, 1.0, true, "", started)
		return event, nil
	}

	// Stage 2: pattern cache keyed by format signature.
	sig := fingerprint.Compute(email.FromAddress, email.Subject, body)
	cached, err := s.patterns.GetBySignature(ctx, sig.Hash)
	if err != nil {
		if apperr.ClassOf(err) != apperr.ClassNotFound {
			return nil, err
		}
		cached = nil
	}
	if cached != nil && cached.Usable(s.opts.CacheMinSuccess) {
		fields, applyErr := ApplyExtractionRules(cached.Rules, email.Subject, body)
		if applyErr == nil && fields["host"] != "" {
			if err := s.patterns.RecordOutcome(ctx, cached.ID, true); err != nil {
				s.log.WithError(err).Warn("pattern stats update failed")
			}
			event := BuildEvent(email, body, firstNonEmpty(cached.SourceName, sourceTool), fields, nil)
			s.audit(ctx, email.ID, cached.ID, domain.ExtractionCached, fields, 0, true, "", started)
			return event, nil
		}
		// Cached rules stopped working for this format; decay and fall
		// through to the LLM.
		if err := s.patterns.RecordOutcome(ctx, cached.ID, false); err != nil {
			s.log.WithError(err).Warn("pattern stats update failed")
		}
		s.audit(ctx, email.ID, cached.ID, domain.ExtractionCached, nil, 0, false, errText(applyErr), started)
	}

	// Stage 3: LLM fallback.
	return s.extractWithLLM(ctx, email, body, sig, sourceTool, started)
}

func (s *Service) extractWithLLM(ctx context.Context, email *domain.RawEmail, body string, sig fingerprint.FormatSignature, sourceTool string, started time.Time) (*domain.AlertEvent, error) {
	excerpt := BodyExcerpt(body, s.opts.BodyExcerptBytes)

	ex, err := s.llm.Extract(ctx, email.Subject, excerpt)
	if err != nil {
		if apperr.IsRetryable(err) {
			// Transient LLM failure: let the scheduler retry the email.
			return nil, err
		}
		return nil, s.quarantineEmail(ctx, email, nil, 0, domain.QuarantineLLMError, started)
	}

	if ex.Confidence < s.opts.QuarantineThreshold {
		return nil, s.quarantineEmail(ctx, email, ex, ex.Confidence, domain.QuarantineLowConfidence, started)
	}
	if err := ValidateExtraction(ex, email.Subject, excerpt); err != nil {
		return nil, s.quarantineEmail(ctx, email, ex, ex.Confidence, domain.QuarantineValidationFailed, started)
	}

	fields := map[string]string{
		"host":     ex.Host,
		"service":  ex.Service,
		"severity": ex.Severity,
		"state":    ex.State,
		"summary":  ex.Summary,
	}

	extractionType := domain.ExtractionLLMFallback
	if ex.Confidence >= s.opts.LLMMinConfidence && len(ex.Rules) > 0 {
		// High-confidence extraction with working rules: learn the
		// format so the LLM is not consulted for it again.
		cacheRow := &domain.PatternCache{
			ID:                 uuid.New(),
			SignatureHash:      sig.Hash,
			FromDomain:         sig.FromDomain,
			SubjectPrefix:      sig.SubjectPrefix,
			BodyMarkers:        sig.BodyMarkers,
			SourceName:         firstNonEmpty(ex.SourceName, sourceTool),
			Rules:              ex.Rules,
			MatchCount:         1,
			SuccessRate:        100,
			IsApproved:         false,
			CreatedFromEmailID: email.ID,
		}
		if err := s.patterns.Insert(ctx, cacheRow); err != nil {
			s.log.WithError(err).Warn("pattern cache insert failed for %s", sig.Hash)
		} else {
			extractionType = domain.ExtractionLearnedNew
		}
	}

	event := BuildEvent(email, body, firstNonEmpty(ex.SourceName, sourceTool), fields, nil)
	s.audit(ctx, email.ID, uuid.Nil, extractionType, fields, ex.Confidence, true, "", started)
	return event, nil
}

// quarantineEmail writes the quarantine record and flips the email
// status. Returns nil so the caller treats the email as handled.
func (s *Service) quarantineEmail(ctx context.Context, email *domain.RawEmail, ex *out.LLMExtraction, confidence float64, reason domain.QuarantineReason, started time.Time) error {
	var data json.RawMessage
	if ex != nil {
		data, _ = json.Marshal(ex)
	} else {
		data = json.RawMessage(`{}`)
	}

	q := &domain.QuarantineEvent{
		ID:             uuid.New(),
		RawEmailID:     email.ID,
		ExtractionData: data,
		Confidence:     confidence,
		Reason:         reason,
	}
	if err := s.quarantine.Insert(ctx, q); err != nil {
		return err
	}
	s.audit(ctx, email.ID, uuid.Nil, domain.ExtractionLLMFallback, nil, confidence, false, string(reason), started)
	return s.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusQuarantined, string(reason))
}

// routeFailure maps an extraction error to the email's terminal status.
func (s *Service) routeFailure(ctx context.Context, email *domain.RawEmail, err error) error {
	if apperr.ClassOf(err) == apperr.ClassData {
		if uerr := s.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusFailed, err.Error()); uerr != nil {
			return uerr
		}
		return nil
	}
	// Transient and invariant errors bubble to the scheduler, which
	// owns the retry-vs-DLQ decision.
	return err
}

// BuildEvent assembles a normalized alert event from extracted fields.
// Shared with quarantine review, which replays a reviewer-corrected
// extraction without another parse pass.
func BuildEvent(email *domain.RawEmail, body, sourceTool string, fields map[string]string, staticTags []string) *domain.AlertEvent {
	host := fingerprint.CanonicalHost(fields["host"])
	checkName := firstNonEmpty(fields["check_name"], fields["service"], fields["trigger"], fields["alert_name"])
	occurredAt := email.DateHeader
	if occurredAt.IsZero() {
		occurredAt = email.ReceivedAt
	}

	normalizedSig := fingerprint.NormalizeSignature(email.Subject, body)

	extra := map[string]any{
		"subject": email.Subject,
		"from":    email.FromAddress,
	}
	for k, v := range fields {
		switch k {
		case "host", "check_name", "severity", "state":
		default:
			extra[k] = v
		}
	}
	payload, _ := json.Marshal(extra)

	event := &domain.AlertEvent{
		ID:                  uuid.New(),
		RawEmailID:          email.ID,
		SourceTool:          sourceTool,
		Environment:         fields["environment"],
		Region:              fields["region"],
		Host:                host,
		CheckName:           checkName,
		Service:             fields["service"],
		Severity:            severityFromFields(fields),
		State:               stateFromFields(fields),
		OccurredAt:          occurredAt,
		NormalizedSignature: normalizedSig,
		Payload:             payload,
		Tags:                ExtractTags(body, fields, staticTags),
	}
	event.FingerprintV2 = fingerprint.Fingerprint(
		event.SourceTool, event.Environment, event.Host, event.CheckOrService(), normalizedSig)
	return event
}

func (s *Service) audit(ctx context.Context, emailID, cacheID uuid.UUID, t domain.ExtractionType, fields map[string]string, confidence float64, ok bool, errMsg string, started time.Time) {
	var extracted json.RawMessage
	if fields != nil {
		extracted, _ = json.Marshal(fields)
	}
	entry := &domain.PatternExtractionLog{
		ID:             uuid.New(),
		RawEmailID:     emailID,
		PatternCacheID: cacheID,
		ExtractionType: t,
		Extracted:      extracted,
		Confidence:     confidence,
		Succeeded:      ok,
		Error:          errMsg,
		DurationMs:     time.Since(started).Milliseconds(),
	}
	if err := s.patterns.InsertLog(ctx, entry); err != nil {
		s.log.WithError(err).Warn("extraction audit insert failed")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func errText(err error) string {
	if err == nil {
		return "extracted fields incomplete"
	}
	return err.Error()
}
