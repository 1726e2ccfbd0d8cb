package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// FileProvider implements out.MailProvider over a watched directory of
// .eml files, for local development and integration tests. Each file's
// modification time in epoch milliseconds is its UID, so dropping a new
// file into the directory makes it visible to the next poll.
type FileProvider struct {
	root    string
	folders []string
	watcher *fsnotify.Watcher
	log     *logger.Logger
}

// NewFileProvider watches root; each configured folder is a
// subdirectory of it.
func NewFileProvider(root string, folders []string) (*FileProvider, error) {
	if len(folders) == 0 {
		folders = []string{"INBOX"}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.ProviderError("fsnotify init", err)
	}

	p := &FileProvider{
		root:    root,
		folders: folders,
		watcher: watcher,
		log:     logger.WithComponent("file_provider"),
	}
	for _, folder := range folders {
		dir := filepath.Join(root, folder)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			watcher.Close()
			return nil, apperr.ProviderError("create watch dir "+dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, apperr.ProviderError("watch "+dir, err)
		}
	}
	go p.drainEvents()
	return p, nil
}

// drainEvents keeps the watcher queue empty. Polling reads the
// directory itself; the watch exists so a future push path can hook in
// and so delivery shows up in debug logs immediately.
func (p *FileProvider) drainEvents() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				p.log.Debug("new file: %s", event.Name)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("watcher error: %v", err)
		}
	}
}

func (p *FileProvider) Name() string                { return "file" }
func (p *FileProvider) Folders() []string           { return p.folders }
func (p *FileProvider) PollInterval() time.Duration { return 5 * time.Second }

func (p *FileProvider) List(ctx context.Context, folder string, sinceUID int64, limit int) ([]out.InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	dir := filepath.Join(p.root, folder)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.ProviderError("read watch dir "+dir, err)
	}

	var messages []out.InboundMessage
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, apperr.Timeout("file list", ctx.Err())
		}
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".eml") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		uid := info.ModTime().UnixMilli()
		if uid <= sinceUID {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			p.log.Warn("open %s: %v", path, err)
			continue
		}
		msg, err := parseRFC822(f)
		f.Close()
		if err != nil {
			p.log.Warn("unparseable file %s: %v", path, err)
			continue
		}
		msg.UID = uid
		if msg.MessageID == "" {
			msg.MessageID = entry.Name()
		}
		messages = append(messages, *msg)
	}

	sortByUID(messages)
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (p *FileProvider) Close() error {
	return p.watcher.Close()
}
