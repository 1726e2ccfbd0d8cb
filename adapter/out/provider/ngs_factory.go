package provider

import (
	"context"

	"github.com/kapella-hub/ngs/config"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
)

// New builds the configured mail provider.
func New(ctx context.Context, cfg *config.Config) (out.MailProvider, error) {
	switch cfg.EmailProvider {
	case "imap":
		return NewIMAPProvider(IMAPConfig{
			Host:         cfg.IMAPHost,
			Port:         cfg.IMAPPort,
			SSL:          cfg.IMAPSSL,
			User:         cfg.IMAPUser,
			Password:     cfg.IMAPPassword,
			Folders:      cfg.Folders,
			PollInterval: cfg.PollInterval,
		}), nil
	case "graph":
		return NewGraphProvider(GraphConfig{
			TenantID:     cfg.GraphTenantID,
			ClientID:     cfg.GraphClientID,
			ClientSecret: cfg.GraphClientSecret,
			UserEmail:    cfg.GraphUserEmail,
			Folders:      cfg.Folders,
			PollInterval: cfg.PollInterval,
		}), nil
	case "gmail":
		return NewGmailProvider(ctx, GmailConfig{
			CredentialsJSON: cfg.GmailCredentialsJSON,
			UserEmail:       cfg.GmailUserEmail,
			Folders:         cfg.Folders,
			PollInterval:    cfg.PollInterval,
		})
	case "file":
		return NewFileProvider(cfg.FileWatchPath, cfg.Folders)
	default:
		return nil, apperr.ConfigError("unknown email provider " + cfg.EmailProvider)
	}
}
