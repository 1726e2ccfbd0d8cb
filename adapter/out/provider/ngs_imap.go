package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host         string
	Port         int
	SSL          bool
	User         string
	Password     string
	Folders      []string
	PollInterval time.Duration
}

// IMAPProvider implements out.MailProvider over a single IMAP
// connection. The connection is lazy and rebuilt after errors; IMAP UIDs
// already satisfy the monotonic-per-folder contract.
type IMAPProvider struct {
	cfg IMAPConfig
	log *logger.Logger

	mu     sync.Mutex
	client *client.Client
}

func NewIMAPProvider(cfg IMAPConfig) *IMAPProvider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX"}
	}
	return &IMAPProvider{cfg: cfg, log: logger.WithComponent("imap_provider")}
}

func (p *IMAPProvider) Name() string                { return "imap" }
func (p *IMAPProvider) Folders() []string           { return p.cfg.Folders }
func (p *IMAPProvider) PollInterval() time.Duration { return p.cfg.PollInterval }

func (p *IMAPProvider) connect() (*client.Client, error) {
	if p.client != nil {
		return p.client, nil
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var c *client.Client
	var err error
	if p.cfg.SSL {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, apperr.ProviderError("imap dial "+addr, err)
	}
	if err := c.Login(p.cfg.User, p.cfg.Password); err != nil {
		c.Logout()
		return nil, apperr.ProviderError("imap login", err)
	}
	p.client = c
	return c, nil
}

func (p *IMAPProvider) dropConnection() {
	if p.client != nil {
		p.client.Logout()
		p.client = nil
	}
}

func (p *IMAPProvider) List(ctx context.Context, folder string, sinceUID int64, limit int) ([]out.InboundMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	messages, err := p.list(ctx, folder, sinceUID, limit)
	if err != nil {
		// A stale connection surfaces as a fetch error; the next poll
		// redials.
		p.dropConnection()
		return nil, err
	}
	return messages, nil
}

func (p *IMAPProvider) list(ctx context.Context, folder string, sinceUID int64, limit int) ([]out.InboundMessage, error) {
	c, err := p.connect()
	if err != nil {
		return nil, err
	}

	mbox, err := c.Select(folder, true)
	if err != nil {
		return nil, apperr.ProviderError("imap select "+folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(uint32(sinceUID+1), 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var messages []out.InboundMessage
	for msg := range ch {
		if int64(msg.Uid) <= sinceUID {
			// 1:* fetches everything when the range start exceeds the
			// highest UID; skip the backfill.
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := parseRFC822(body)
		if err != nil {
			p.log.Warn("unparseable message uid=%d folder=%s: %v", msg.Uid, folder, err)
			raw = &out.InboundMessage{Subject: "(unparseable)", Headers: map[string]string{}}
		}
		raw.UID = int64(msg.Uid)
		messages = append(messages, *raw)
	}
	if err := <-done; err != nil {
		return nil, apperr.ProviderError("imap uid fetch", err)
	}
	if ctx.Err() != nil {
		return nil, apperr.Timeout("imap list", ctx.Err())
	}

	sortByUID(messages)
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (p *IMAPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropConnection()
	return nil
}

func sortByUID(messages []out.InboundMessage) {
	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })
}
