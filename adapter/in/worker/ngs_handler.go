package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/core/port/in"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// Handler routes jobs to the pipeline services.
type Handler struct {
	parser     in.Parser
	correlator in.Correlator
	log        *logger.Logger
}

func NewHandler(parser in.Parser, correlator in.Correlator) *Handler {
	return &Handler{
		parser:     parser,
		correlator: correlator,
		log:        logger.WithComponent("handler"),
	}
}

func (h *Handler) Process(ctx context.Context, job *Job) error {
	h.log.Debug("processing job %s (%s)", job.ID, job.Type)

	switch job.Type {
	case JobEmailParse:
		payload, err := ParsePayload[EmailParsePayload](job)
		if err != nil {
			return apperr.MalformedMail("undecodable parse job payload").WithError(err)
		}
		id, err := uuid.Parse(payload.RawEmailID)
		if err != nil {
			return apperr.MalformedMail("bad raw_email_id in parse job").WithError(err)
		}
		return h.parser.ParseEmail(ctx, id)

	case JobEventCorrelate:
		payload, err := ParsePayload[EventCorrelatePayload](job)
		if err != nil {
			return apperr.MalformedMail("undecodable correlate job payload").WithError(err)
		}
		id, err := uuid.Parse(payload.AlertEventID)
		if err != nil {
			return apperr.MalformedMail("bad alert_event_id in correlate job").WithError(err)
		}
		return h.correlator.Apply(ctx, id)

	default:
		h.log.Warn("unknown job type %s, dropping", job.Type)
		return nil
	}
}
