// SPDX-License-Identifier: GPL-3.0-or-later
package auth

import (
	"context"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/imapconnection"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/sirupsen/logrus"
)

type session interface {
	domain.MailSession
	authenticator
}

type dialFunc func(ctx context.Context, address string) (session, error)

// Connector opens authenticated sessions. It implements domain.SessionFactory.
type Connector struct {
	bridge *Bridge
	dial   dialFunc

	l *logrus.Logger
}

func NewConnector(credentials domain.CredentialProvider, opts ...imapconnection.Option) *Connector {
	return &Connector{
		bridge: NewBridge(credentials),
		dial: func(ctx context.Context, address string) (session, error) {
			return imapconnection.Dial(ctx, address, opts...)
		},
		l: log.Logger(log.LOG_AUTH),
	}
}

func (c *Connector) Open(ctx context.Context, account *domain.Account) (domain.MailSession, error) {
	address := Address(account.ImapHost)
	s, err := c.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := c.bridge.Authenticate(ctx, s, account); err != nil {
		if logoutErr := s.Logout(); logoutErr != nil {
			c.l.WithFields(logrus.Fields{"account": account.Id, "error": logoutErr}).Debug("Could not logout after failed authentication")
		}
		return nil, err
	}

	c.l.WithFields(logrus.Fields{"account": account.Id, "server": address}).Debug("Session opened")
	return s, nil
}
