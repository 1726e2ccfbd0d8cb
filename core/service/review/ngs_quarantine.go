package review

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/core/service/parser"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// QuarantineService applies human review decisions to held extractions.
type QuarantineService struct {
	quarantine out.QuarantineRepository
	emails     out.EmailRepository
	events     out.EventRepository
	publisher  out.Publisher
	log        *logger.Logger
}

func NewQuarantineService(quarantine out.QuarantineRepository, emails out.EmailRepository, events out.EventRepository, publisher out.Publisher) *QuarantineService {
	return &QuarantineService{
		quarantine: quarantine,
		emails:     emails,
		events:     events,
		publisher:  publisher,
		log:        logger.WithComponent("quarantine-review"),
	}
}

func (s *QuarantineService) ListPending(ctx context.Context, limit, offset int) ([]domain.QuarantineEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.quarantine.ListPending(ctx, limit, offset)
}

func (s *QuarantineService) Stats(ctx context.Context) (*domain.QuarantineStats, error) {
	return s.quarantine.Stats(ctx)
}

// Review applies a decision. Approval and edits replay the reviewed
// extraction into an alert event; rejection is terminal. A second
// review of the same item is a conflict.
func (s *QuarantineService) Review(ctx context.Context, id uuid.UUID, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) error {
	if !domain.ValidQuarantineAction(string(action)) {
		return apperr.BadRequest("unknown review action: " + string(action))
	}
	if reviewer == "" {
		return apperr.BadRequest("reviewer is required")
	}
	if action == domain.QuarantineEdited && len(editedData) == 0 {
		return apperr.BadRequest("edited review requires edited_data")
	}

	q, err := s.quarantine.GetByID(ctx, id)
	if err != nil {
		return err
	}

	applied, err := s.quarantine.Review(ctx, id, action, reviewer, editedData)
	if err != nil {
		return err
	}
	if !applied {
		return apperr.Conflict("quarantine item already reviewed")
	}

	switch action {
	case domain.QuarantineRejected:
		return s.emails.UpdateParseStatus(ctx, q.RawEmailID, domain.ParseStatusRejected, "rejected in review")
	default:
		return s.replay(ctx, q, action, reviewer, editedData)
	}
}

// replay turns the reviewed extraction into an alert event directly.
// The edited payload wins over the stored extraction, so reviewer
// corrections survive; a re-parse would discard them. Items with no
// usable extraction (llm_error holds an empty one) go back through the
// parse pipeline instead.
func (s *QuarantineService) replay(ctx context.Context, q *domain.QuarantineEvent, action domain.QuarantineAction, reviewer string, editedData json.RawMessage) error {
	data := q.ExtractionData
	if action == domain.QuarantineEdited {
		data = editedData
	}

	var ex out.LLMExtraction
	if err := json.Unmarshal(data, &ex); err != nil || ex.Host == "" {
		if err := s.emails.UpdateParseStatus(ctx, q.RawEmailID, domain.ParseStatusPending, ""); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]string{"raw_email_id": q.RawEmailID.String()})
		if err := s.publisher.Publish(ctx, out.StreamParse, payload); err != nil {
			return err
		}
		s.log.Info("quarantine %s %s by %s, email %s requeued", q.ID, action, reviewer, q.RawEmailID)
		return nil
	}

	email, err := s.emails.GetByID(ctx, q.RawEmailID)
	if err != nil {
		return err
	}
	body := email.BodyText
	if body == "" {
		body = email.BodyHTML
	}
	sourceTool := ex.SourceName
	if sourceTool == "" {
		sourceTool = parser.DetermineSourceTool(email.Folder, email.Subject, body)
	}

	fields := map[string]string{
		"host":     ex.Host,
		"service":  ex.Service,
		"severity": ex.Severity,
		"state":    ex.State,
		"summary":  ex.Summary,
	}
	event := parser.BuildEvent(email, body, sourceTool, fields, nil)

	if err := s.events.Insert(ctx, event); err != nil {
		return err
	}
	if err := s.emails.UpdateParseStatus(ctx, q.RawEmailID, domain.ParseStatusParsed, ""); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"alert_event_id": event.ID.String()})
	if err := s.publisher.Publish(ctx, out.StreamCorrelate, payload); err != nil {
		return apperr.Transient("publish to correlate stream", err)
	}
	s.log.Info("quarantine %s %s by %s, event %s built from reviewed extraction", q.ID, action, reviewer, event.ID)
	return nil
}
