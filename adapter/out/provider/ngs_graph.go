package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphConfig holds Microsoft Graph application credentials.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	UserEmail    string
	Folders      []string
	PollInterval time.Duration
}

// GraphProvider implements out.MailProvider against the Graph API using
// the client-credentials flow (application permission Mail.Read).
//
// Graph has no integer UID, so the receivedDateTime in epoch
// milliseconds serves as one: it is stable per message and Graph
// delivers mail in received order, which keeps it monotonic enough for
// cursor resume.
type GraphProvider struct {
	cfg    GraphConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

func NewGraphProvider(cfg GraphConfig) *GraphProvider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"Inbox"}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	log := logger.WithComponent("graph_provider")
	// A Graph outage should fail polls fast instead of hanging every
	// poller on token or HTTP timeouts.
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "graph",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &GraphProvider{
		cfg:    cfg,
		client: cc.Client(context.Background()),
		cb:     cb,
		log:    log,
	}
}

func (p *GraphProvider) Name() string                { return "graph" }
func (p *GraphProvider) Folders() []string           { return p.cfg.Folders }
func (p *GraphProvider) PollInterval() time.Duration { return p.cfg.PollInterval }
func (p *GraphProvider) Close() error                { return nil }

type graphMessage struct {
	ID               string `json:"id"`
	InternetMsgID    string `json:"internetMessageId"`
	Subject          string `json:"subject"`
	ReceivedDateTime string `json:"receivedDateTime"`
	From             struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
	HasAttachments bool `json:"hasAttachments"`
}

type graphListResponse struct {
	Value []graphMessage `json:"value"`
}

func (p *GraphProvider) List(ctx context.Context, folder string, sinceUID int64, limit int) ([]out.InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	since := time.UnixMilli(sinceUID).UTC().Format(time.RFC3339)

	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("receivedDateTime gt %s", since))
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$top", fmt.Sprintf("%d", limit))
	q.Set("$select", "id,internetMessageId,subject,receivedDateTime,from,toRecipients,body,internetMessageHeaders,hasAttachments")

	endpoint := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages?%s",
		graphBaseURL, url.PathEscape(p.cfg.UserEmail), url.PathEscape(folder), q.Encode())

	result, err := p.cb.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, apperr.ProviderError("graph request", err)
		}
		req.Header.Set("Prefer", `outlook.body-content-type="text"`)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, apperr.ProviderError("graph list messages", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, apperr.ProviderError(
				fmt.Sprintf("graph list messages: status %d: %s", resp.StatusCode, string(body)), nil)
		}

		var listing graphListResponse
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			return nil, apperr.ProviderError("graph response decode", err)
		}
		return &listing, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.ProviderError("graph circuit open", err)
		}
		return nil, err
	}
	listing := result.(*graphListResponse)

	messages := make([]out.InboundMessage, 0, len(listing.Value))
	for _, gm := range listing.Value {
		msg, err := p.toInbound(gm)
		if err != nil {
			p.log.Warn("skipping graph message %s: %v", gm.ID, err)
			continue
		}
		if msg.UID <= sinceUID {
			continue
		}
		messages = append(messages, *msg)
	}
	sortByUID(messages)
	return messages, nil
}

func (p *GraphProvider) toInbound(gm graphMessage) (*out.InboundMessage, error) {
	received, err := time.Parse(time.RFC3339, gm.ReceivedDateTime)
	if err != nil {
		return nil, fmt.Errorf("bad receivedDateTime %q: %w", gm.ReceivedDateTime, err)
	}

	msg := &out.InboundMessage{
		UID:       received.UnixMilli(),
		MessageID: gm.InternetMsgID,
		Subject:   gm.Subject,
		From:      gm.From.EmailAddress.Address,
		Date:      received,
		Headers:   map[string]string{},
	}
	for _, to := range gm.ToRecipients {
		msg.To = append(msg.To, to.EmailAddress.Address)
	}
	for _, h := range gm.InternetMessageHeaders {
		msg.Headers[strings.ToLower(h.Name)] = h.Value
	}
	if strings.EqualFold(gm.Body.ContentType, "html") {
		msg.BodyHTML = gm.Body.Content
	} else {
		msg.BodyText = gm.Body.Content
	}
	return msg, nil
}
