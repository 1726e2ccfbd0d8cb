package worker

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kapella-hub/ngs/pkg/snowflake"
)

// JobType represents the type of a job.
type JobType = string

// Job types
const (
	JobEmailParse     JobType = "email.parse"
	JobEventCorrelate JobType = "event.correlate"
	JobDLQRedispatch  JobType = "dlq.redispatch"
)

// Job is one unit of pipeline work. Payload stays raw JSON so a job can
// round-trip through the dead-letter queue unchanged.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Retries   int             `json:"retries"`
}

func NewJob(jobType JobType, payload []byte) *Job {
	return &Job{
		ID:        jobID(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// jobID prefers time-sortable snowflake IDs so log lines order by
// submission; before snowflake.Init (tests, one-off tools) it falls
// back to a random UUID.
func jobID() string {
	if id, ok := snowflake.TryID(); ok {
		return strconv.FormatInt(id, 10)
	}
	return uuid.New().String()
}

// EmailParsePayload references one stored raw email.
type EmailParsePayload struct {
	RawEmailID string `json:"raw_email_id"`
}

// EventCorrelatePayload references one normalized alert event.
type EventCorrelatePayload struct {
	AlertEventID string `json:"alert_event_id"`
}

// ParsePayload decodes a job payload into a typed struct.
func ParsePayload[T any](job *Job) (*T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
