// Package llm implements the extraction client against an
// openai-compatible chat completion endpoint.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are an alert email analyzer for infrastructure monitoring.
Given one email, extract the alert fields and propose reusable extraction
rules (regex with one capture group, against "subject" or "body") so the
same format can be parsed without you next time.

Respond with a single JSON object:
{
  "host": "...",
  "service": "...",
  "severity": "critical|high|medium|low|info",
  "state": "firing|resolved|unknown",
  "summary": "...",
  "source_name": "...",
  "extraction_rules": {
    "<field>": {"source": "subject|body", "regex": "...", "group": 1}
  },
  "confidence": 0.0
}

confidence is your own estimate in [0,1]. Use empty strings for fields
the email does not contain, and state "unknown" when the email does not
say whether the alert is firing or resolved (acknowledgements, flap
notices). Never invent hosts or severities.`

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	RPM         int
	MaxInflight int
}

// Client implements out.LLMClient with a circuit breaker and a local
// request budget so a misbehaving upstream cannot starve the pipeline.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration

	cb       *gobreaker.CircuitBreaker
	limiter  *time.Ticker
	inflight chan struct{}
	log      *logger.Logger
}

func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rpm := cfg.RPM
	if rpm <= 0 {
		rpm = 60
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 4
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	log := logger.WithComponent("llm_client")
	cbSettings := gobreaker.Settings{
		Name:        "llm-extract",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		timeout:  timeout,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		limiter:  time.NewTicker(time.Minute / time.Duration(rpm)),
		inflight: make(chan struct{}, maxInflight),
		log:      log,
	}
}

func (c *Client) Extract(ctx context.Context, subject, bodyExcerpt string) (*out.LLMExtraction, error) {
	select {
	case c.inflight <- struct{}{}:
		defer func() { <-c.inflight }()
	case <-ctx.Done():
		return nil, apperr.Timeout("llm inflight slot", ctx.Err())
	}
	select {
	case <-c.limiter.C:
	case <-ctx.Done():
		return nil, apperr.Timeout("llm rate budget", ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		return c.complete(ctx, subject, bodyExcerpt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.LLMError("circuit open", err)
		}
		if ctx.Err() != nil {
			return nil, apperr.Timeout("llm extraction", err)
		}
		return nil, apperr.LLMError("chat completion", err)
	}
	return result.(*out.LLMExtraction), nil
}

func (c *Client) complete(ctx context.Context, subject, bodyExcerpt string) (*out.LLMExtraction, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Subject: " + subject + "\n\nBody:\n" + bodyExcerpt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.LLMError("empty completion", nil)
	}

	var extraction out.LLMExtraction
	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &extraction); err != nil {
		return nil, apperr.LLMError("malformed completion JSON", err)
	}
	if extraction.Confidence < 0 || extraction.Confidence > 1 {
		return nil, apperr.LLMError("confidence out of range", nil)
	}
	return &extraction, nil
}

// stripFences removes a markdown code fence some models wrap JSON in
// despite the response format hint.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func (c *Client) Close() {
	c.limiter.Stop()
}
