package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/fingerprint"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// ===== Fakes =====

type fakeEmailRepo struct {
	emails   map[uuid.UUID]*domain.RawEmail
	statuses []domain.ParseStatus
}

func newFakeEmailRepo(emails ...*domain.RawEmail) *fakeEmailRepo {
	r := &fakeEmailRepo{emails: map[uuid.UUID]*domain.RawEmail{}}
	for _, e := range emails {
		r.emails[e.ID] = e
	}
	return r
}

func (r *fakeEmailRepo) Insert(ctx context.Context, email *domain.RawEmail) (bool, error) {
	if _, ok := r.emails[email.ID]; ok {
		return false, nil
	}
	r.emails[email.ID] = email
	return true, nil
}

func (r *fakeEmailRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error) {
	e, ok := r.emails[id]
	if !ok {
		return nil, apperr.NotFound("raw email")
	}
	return e, nil
}

func (r *fakeEmailRepo) UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseError string) error {
	e, ok := r.emails[id]
	if !ok {
		return apperr.NotFound("raw email")
	}
	e.ParseStatus = status
	e.ParseError = parseError
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeEmailRepo) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]domain.RawEmail, error) {
	return nil, nil
}

func (r *fakeEmailRepo) PurgeBodiesOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

type fakeEventRepo struct {
	inserted []*domain.AlertEvent
}

func (r *fakeEventRepo) Insert(ctx context.Context, event *domain.AlertEvent) error {
	r.inserted = append(r.inserted, event)
	return nil
}

func (r *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AlertEvent, error) {
	for _, e := range r.inserted {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apperr.NotFound("alert event")
}

func (r *fakeEventRepo) ListByIncident(ctx context.Context, incidentID uuid.UUID, limit int) ([]domain.AlertEvent, error) {
	return nil, nil
}

type fakePatternRepo struct {
	bySignature map[string]*domain.PatternCache
	outcomes    []bool
	logs        []*domain.PatternExtractionLog
}

func newFakePatternRepo() *fakePatternRepo {
	return &fakePatternRepo{bySignature: map[string]*domain.PatternCache{}}
}

func (r *fakePatternRepo) GetBySignature(ctx context.Context, signatureHash string) (*domain.PatternCache, error) {
	p, ok := r.bySignature[signatureHash]
	if !ok {
		return nil, apperr.NotFound("pattern")
	}
	return p, nil
}

func (r *fakePatternRepo) Insert(ctx context.Context, p *domain.PatternCache) error {
	r.bySignature[p.SignatureHash] = p
	return nil
}

func (r *fakePatternRepo) RecordOutcome(ctx context.Context, id uuid.UUID, success bool) error {
	r.outcomes = append(r.outcomes, success)
	for _, p := range r.bySignature {
		if p.ID == id {
			p.ObserveOutcome(success)
		}
	}
	return nil
}

func (r *fakePatternRepo) InsertLog(ctx context.Context, log *domain.PatternExtractionLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func (r *fakePatternRepo) lastLog() *domain.PatternExtractionLog {
	if len(r.logs) == 0 {
		return nil
	}
	return r.logs[len(r.logs)-1]
}

type fakeQuarantineRepo struct {
	inserted []*domain.QuarantineEvent
}

func (r *fakeQuarantineRepo) Insert(ctx context.Context, q *domain.QuarantineEvent) error {
	r.inserted = append(r.inserted, q)
	return nil
}

func (r *fakeQuarantineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.QuarantineEvent, error) {
	return nil, apperr.NotFound("quarantine event")
}

func (r *fakeQuarantineRepo) ListPending(ctx context.Context, limit, offset int) ([]domain.QuarantineEvent, error) {
	return nil, nil
}

func (r *fakeQuarantineRepo) CountPending(ctx context.Context) (int, error) { return 0, nil }

func (r *fakeQuarantineRepo) Review(ctx context.Context, id uuid.UUID, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) (bool, error) {
	return false, nil
}

func (r *fakeQuarantineRepo) Stats(ctx context.Context) (*domain.QuarantineStats, error) {
	return &domain.QuarantineStats{}, nil
}

func (r *fakeQuarantineRepo) DeleteReviewedOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

type fakeLLM struct {
	extraction *out.LLMExtraction
	err        error
	calls      int
}

func (f *fakeLLM) Extract(ctx context.Context, subject, bodyExcerpt string) (*out.LLMExtraction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.extraction
	return &cp, nil
}

type fakePublisher struct {
	published map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][][]byte{}}
}

func (p *fakePublisher) Publish(ctx context.Context, stream string, payload []byte) error {
	p.published[stream] = append(p.published[stream], payload)
	return nil
}

func (p *fakePublisher) Broadcast(ctx context.Context, channel string, payload []byte) error {
	return nil
}

type fakeMaintHook struct {
	consume    bool
	detectErr  error
	applied    []*domain.AlertEvent
	detectSeen int
}

func (m *fakeMaintHook) DetectFromEmail(ctx context.Context, email *domain.RawEmail) (bool, error) {
	m.detectSeen++
	return m.consume, m.detectErr
}

func (m *fakeMaintHook) ApplyToEvent(ctx context.Context, event *domain.AlertEvent) error {
	m.applied = append(m.applied, event)
	return nil
}

// ===== Harness =====

type parserFixture struct {
	svc        *Service
	emails     *fakeEmailRepo
	events     *fakeEventRepo
	patterns   *fakePatternRepo
	quarantine *fakeQuarantineRepo
	llm        *fakeLLM
	publisher  *fakePublisher
	maint      *fakeMaintHook
}

func newParserFixture(t *testing.T, llm *fakeLLM, emails ...*domain.RawEmail) *parserFixture {
	t.Helper()
	rules, err := CompileRules(DefaultRuleDefs())
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	f := &parserFixture{
		emails:     newFakeEmailRepo(emails...),
		events:     &fakeEventRepo{},
		patterns:   newFakePatternRepo(),
		quarantine: &fakeQuarantineRepo{},
		llm:        llm,
		publisher:  newFakePublisher(),
		maint:      &fakeMaintHook{},
	}
	f.svc = NewService(
		f.emails, f.events, f.patterns, f.quarantine, f.llm, f.publisher, f.maint,
		rules,
		Options{LLMMinConfidence: 0.60, QuarantineThreshold: 0.40, CacheMinSuccess: 70},
	)
	return f
}

func testEmail(folder, subject, body string) *domain.RawEmail {
	return &domain.RawEmail{
		ID:          uuid.New(),
		Folder:      folder,
		UID:         1,
		MessageID:   "<" + uuid.NewString() + "@test>",
		Subject:     subject,
		FromAddress: "alerts@monitor.example.com",
		BodyText:    body,
		ReceivedAt:  time.Now().UTC(),
		ParseStatus: domain.ParseStatusPending,
	}
}

// ===== Tests =====

func TestParseEmail_RuleBased(t *testing.T) {
	email := testEmail("INBOX/op5", "** PROBLEM ** Host: web-01 Service: http State: CRITICAL", "")
	f := newParserFixture(t, &fakeLLM{}, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}

	if len(f.events.inserted) != 1 {
		t.Fatalf("events inserted = %d, want 1", len(f.events.inserted))
	}
	ev := f.events.inserted[0]
	if ev.SourceTool != "op5" {
		t.Errorf("source tool = %q, want op5", ev.SourceTool)
	}
	if ev.Host != "web-01" {
		t.Errorf("host = %q, want web-01", ev.Host)
	}
	if ev.Service != "http" {
		t.Errorf("service = %q, want http", ev.Service)
	}
	if ev.Severity != domain.SeverityCritical {
		t.Errorf("severity = %v, want critical", ev.Severity)
	}
	if ev.State != domain.StateFiring {
		t.Errorf("state = %v, want firing", ev.State)
	}
	if len(ev.FingerprintV2) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(ev.FingerprintV2))
	}

	if email.ParseStatus != domain.ParseStatusParsed {
		t.Errorf("parse status = %v, want parsed", email.ParseStatus)
	}
	if f.llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0", f.llm.calls)
	}

	msgs := f.publisher.published[out.StreamCorrelate]
	if len(msgs) != 1 {
		t.Fatalf("correlate messages = %d, want 1", len(msgs))
	}
	var ref struct {
		AlertEventID string `json:"alert_event_id"`
	}
	if err := json.Unmarshal(msgs[0], &ref); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if ref.AlertEventID != ev.ID.String() {
		t.Errorf("published event id = %q, want %q", ref.AlertEventID, ev.ID)
	}

	if log := f.patterns.lastLog(); log == nil || log.ExtractionType != domain.ExtractionRuleBased {
		t.Errorf("audit log = %+v, want rule-based entry", log)
	}
}

func TestParseEmail_ResolvedEvent(t *testing.T) {
	email := testEmail("INBOX/op5", "** RECOVERY ** Host: web-01", "Service: http\nState: OK")
	f := newParserFixture(t, &fakeLLM{}, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.events.inserted) != 1 {
		t.Fatalf("events inserted = %d, want 1", len(f.events.inserted))
	}
	ev := f.events.inserted[0]
	if ev.State != domain.StateResolved {
		t.Errorf("state = %v, want resolved", ev.State)
	}
	if ev.Severity != domain.SeverityInfo {
		t.Errorf("severity = %v, want info", ev.Severity)
	}
}

func TestParseEmail_FingerprintSharedAcrossStates(t *testing.T) {
	firing := testEmail("INBOX/op5", "** PROBLEM ** Host: web-01 Service: http State: CRITICAL", "")
	resolved := testEmail("INBOX/op5", "** RECOVERY ** Host: web-01 Service: http State: OK", "")
	f := newParserFixture(t, &fakeLLM{}, firing, resolved)

	if err := f.svc.ParseEmail(context.Background(), firing.ID); err != nil {
		t.Fatalf("ParseEmail firing: %v", err)
	}
	if err := f.svc.ParseEmail(context.Background(), resolved.ID); err != nil {
		t.Fatalf("ParseEmail resolved: %v", err)
	}
	if len(f.events.inserted) != 2 {
		t.Fatalf("events inserted = %d, want 2", len(f.events.inserted))
	}
	a, b := f.events.inserted[0], f.events.inserted[1]
	if a.FingerprintV2 != b.FingerprintV2 {
		t.Errorf("firing and recovery fingerprints differ: %q vs %q", a.FingerprintV2, b.FingerprintV2)
	}
}

func TestParseEmail_LearnsPatternThenHitsCache(t *testing.T) {
	const body1 = "node=db-9\nlevel=critical\nstatus=open\n"
	const body2 = "node=db-10\nlevel=critical\nstatus=open\n"
	first := testEmail("INBOX", "AcmeMonitor alert notification", body1)
	second := testEmail("INBOX", "AcmeMonitor alert notification", body2)

	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "db-9",
		Service:    "postgres",
		Severity:   "critical",
		State:      "firing",
		Summary:    "node trouble",
		SourceName: "acmemonitor",
		Confidence: 0.92,
		Rules: domain.ExtractionRules{
			"host":     {Source: "body", Regex: `node=(\S+)`},
			"severity": {Source: "body", Regex: `level=(\w+)`},
			"state":    {Source: "body", Regex: `status=(\w+)`, Map: map[string]string{"open": "firing", "closed": "resolved"}},
		},
	}}
	f := newParserFixture(t, llm, first, second)

	if err := f.svc.ParseEmail(context.Background(), first.ID); err != nil {
		t.Fatalf("ParseEmail first: %v", err)
	}
	if f.llm.calls != 1 {
		t.Fatalf("llm calls after first = %d, want 1", f.llm.calls)
	}
	if len(f.patterns.bySignature) != 1 {
		t.Fatalf("patterns cached = %d, want 1", len(f.patterns.bySignature))
	}
	if log := f.patterns.lastLog(); log == nil || log.ExtractionType != domain.ExtractionLearnedNew {
		t.Errorf("first audit log = %+v, want learned_new", log)
	}

	if err := f.svc.ParseEmail(context.Background(), second.ID); err != nil {
		t.Fatalf("ParseEmail second: %v", err)
	}
	if f.llm.calls != 1 {
		t.Errorf("llm calls after second = %d, want 1 (cache hit expected)", f.llm.calls)
	}
	if len(f.events.inserted) != 2 {
		t.Fatalf("events inserted = %d, want 2", len(f.events.inserted))
	}
	ev := f.events.inserted[1]
	if ev.Host != "db-10" {
		t.Errorf("second event host = %q, want db-10", ev.Host)
	}
	if ev.SourceTool != "acmemonitor" {
		t.Errorf("second event source = %q, want acmemonitor", ev.SourceTool)
	}
	if len(f.patterns.outcomes) != 1 || !f.patterns.outcomes[0] {
		t.Errorf("outcomes = %v, want one success", f.patterns.outcomes)
	}
	if log := f.patterns.lastLog(); log == nil || log.ExtractionType != domain.ExtractionCached {
		t.Errorf("second audit log = %+v, want cached", log)
	}
}

func TestParseEmail_MidConfidenceSkipsLearning(t *testing.T) {
	email := testEmail("INBOX", "AcmeMonitor alert notification", "node=db-9\nlevel=critical\nstatus=open\n")
	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "db-9",
		Severity:   "critical",
		State:      "firing",
		Confidence: 0.5,
		Rules: domain.ExtractionRules{
			"host": {Source: "body", Regex: `node=(\S+)`},
		},
	}}
	f := newParserFixture(t, llm, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.events.inserted) != 1 {
		t.Fatalf("events inserted = %d, want 1", len(f.events.inserted))
	}
	if len(f.patterns.bySignature) != 0 {
		t.Error("mid-confidence extraction must not populate the cache")
	}
	if log := f.patterns.lastLog(); log == nil || log.ExtractionType != domain.ExtractionLLMFallback {
		t.Errorf("audit log = %+v, want llm_fallback", log)
	}
}

func TestParseEmail_LowConfidenceQuarantine(t *testing.T) {
	email := testEmail("INBOX", "weird mail", "no recognizable structure")
	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "maybe-a-host",
		Severity:   "medium",
		State:      "firing",
		Confidence: 0.2,
	}}
	f := newParserFixture(t, llm, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.events.inserted) != 0 {
		t.Errorf("events inserted = %d, want 0", len(f.events.inserted))
	}
	if len(f.quarantine.inserted) != 1 {
		t.Fatalf("quarantine rows = %d, want 1", len(f.quarantine.inserted))
	}
	q := f.quarantine.inserted[0]
	if q.Reason != domain.QuarantineLowConfidence {
		t.Errorf("reason = %v, want low_confidence", q.Reason)
	}
	if q.Confidence != 0.2 {
		t.Errorf("confidence = %v, want 0.2", q.Confidence)
	}
	if email.ParseStatus != domain.ParseStatusQuarantined {
		t.Errorf("parse status = %v, want quarantined", email.ParseStatus)
	}
	if len(f.publisher.published[out.StreamCorrelate]) != 0 {
		t.Error("quarantined email must not reach the correlate stream")
	}
}

func TestParseEmail_ValidationFailureQuarantine(t *testing.T) {
	email := testEmail("INBOX", "weird mail", "node=db-9\n")
	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "db-9",
		Severity:   "catastrophic", // outside the enum
		State:      "firing",
		Confidence: 0.9,
	}}
	f := newParserFixture(t, llm, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.quarantine.inserted) != 1 {
		t.Fatalf("quarantine rows = %d, want 1", len(f.quarantine.inserted))
	}
	if got := f.quarantine.inserted[0].Reason; got != domain.QuarantineValidationFailed {
		t.Errorf("reason = %v, want validation_failed", got)
	}
}

func TestParseEmail_LLMErrors(t *testing.T) {
	t.Run("transient bubbles for retry", func(t *testing.T) {
		email := testEmail("INBOX", "weird mail", "unstructured")
		llm := &fakeLLM{err: apperr.LLMError("completion", errors.New("upstream 503"))}
		f := newParserFixture(t, llm, email)

		if err := f.svc.ParseEmail(context.Background(), email.ID); err == nil {
			t.Fatal("expected error")
		}
		if email.ParseStatus != domain.ParseStatusPending {
			t.Errorf("parse status = %v, want pending", email.ParseStatus)
		}
		if len(f.quarantine.inserted) != 0 {
			t.Error("transient failure must not quarantine")
		}
	})

	t.Run("data error quarantines", func(t *testing.T) {
		email := testEmail("INBOX", "weird mail", "unstructured")
		llm := &fakeLLM{err: apperr.MalformedMail("model returned non-json")}
		f := newParserFixture(t, llm, email)

		if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
			t.Fatalf("ParseEmail: %v", err)
		}
		if len(f.quarantine.inserted) != 1 {
			t.Fatalf("quarantine rows = %d, want 1", len(f.quarantine.inserted))
		}
		if got := f.quarantine.inserted[0].Reason; got != domain.QuarantineLLMError {
			t.Errorf("reason = %v, want llm_error", got)
		}
	})
}

func TestParseEmail_CacheDecayFallsThroughToLLM(t *testing.T) {
	const body = "completely different shape, nothing to extract"
	email := testEmail("INBOX", "AcmeMonitor alert notification", body)

	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "fallback-host",
		Severity:   "high",
		State:      "firing",
		Confidence: 0.8,
	}}
	f := newParserFixture(t, llm, email)

	// Seed a cache row for this format whose rules no longer extract a host.
	sig := mustSignature(email)
	f.patterns.bySignature[sig] = &domain.PatternCache{
		ID:            uuid.New(),
		SignatureHash: sig,
		SuccessRate:   95,
		Rules: domain.ExtractionRules{
			"host": {Source: "body", Regex: `node=(\S+)`},
		},
	}

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if f.llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", f.llm.calls)
	}
	if len(f.patterns.outcomes) != 1 || f.patterns.outcomes[0] {
		t.Errorf("outcomes = %v, want one failure", f.patterns.outcomes)
	}
	if len(f.events.inserted) != 1 || f.events.inserted[0].Host != "fallback-host" {
		t.Fatalf("events = %+v, want one from the llm", f.events.inserted)
	}
}

func TestParseEmail_LowSuccessCacheIgnored(t *testing.T) {
	email := testEmail("INBOX", "AcmeMonitor alert notification", "node=db-9\n")
	llm := &fakeLLM{extraction: &out.LLMExtraction{
		Host:       "db-9",
		Severity:   "high",
		State:      "firing",
		Confidence: 0.8,
	}}
	f := newParserFixture(t, llm, email)

	sig := mustSignature(email)
	f.patterns.bySignature[sig] = &domain.PatternCache{
		ID:            uuid.New(),
		SignatureHash: sig,
		SuccessRate:   40, // below the 70 floor
		Rules: domain.ExtractionRules{
			"host": {Source: "body", Regex: `node=(\S+)`},
		},
	}

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if f.llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", f.llm.calls)
	}
	if len(f.patterns.outcomes) != 0 {
		t.Errorf("outcomes = %v, want none for a skipped cache row", f.patterns.outcomes)
	}
}

func TestParseEmail_MaintenanceDeclarationConsumed(t *testing.T) {
	email := testEmail("INBOX", "[MW] DB maintenance tonight", "Scope: host=db-*")
	f := newParserFixture(t, &fakeLLM{}, email)
	f.maint.consume = true

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.events.inserted) != 0 {
		t.Error("maintenance declaration must not produce alert events")
	}
	if f.llm.calls != 0 {
		t.Error("maintenance declaration must not reach the llm")
	}
	if email.ParseStatus != domain.ParseStatusParsed {
		t.Errorf("parse status = %v, want parsed", email.ParseStatus)
	}
}

func TestParseEmail_TerminalStatusesAreNoops(t *testing.T) {
	for _, status := range []domain.ParseStatus{domain.ParseStatusParsed, domain.ParseStatusRejected} {
		email := testEmail("INBOX/op5", "** PROBLEM ** Host: web-01 Service: http State: CRITICAL", "")
		email.ParseStatus = status
		f := newParserFixture(t, &fakeLLM{}, email)

		if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
			t.Fatalf("ParseEmail(%s): %v", status, err)
		}
		if len(f.events.inserted) != 0 {
			t.Errorf("status %s produced events", status)
		}
		if f.maint.detectSeen != 0 {
			t.Errorf("status %s reached maintenance detection", status)
		}
	}
}

func TestParseEmail_EventsPassThroughMaintenanceHook(t *testing.T) {
	email := testEmail("INBOX/op5", "** PROBLEM ** Host: web-01 Service: http State: CRITICAL", "")
	f := newParserFixture(t, &fakeLLM{}, email)

	if err := f.svc.ParseEmail(context.Background(), email.ID); err != nil {
		t.Fatalf("ParseEmail: %v", err)
	}
	if len(f.maint.applied) != 1 {
		t.Fatalf("maintenance hook saw %d events, want 1", len(f.maint.applied))
	}
}

func mustSignature(email *domain.RawEmail) string {
	return fingerprint.Compute(email.FromAddress, email.Subject, email.BodyText).Hash
}
