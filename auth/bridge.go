// SPDX-License-Identifier: GPL-3.0-or-later
package auth

//go:generate mockgen -destination=bridge_mocks_test.go -package=auth -source bridge.go
import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/metrics"

	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
)

const defaultPort = "993"

type authenticator interface {
	Capabilities() domain.Capabilities
	Authenticate(ctx context.Context, client sasl.Client) error
}

// Bridge turns tokens from a CredentialProvider into an authenticated
// session. An expired token is refreshed exactly once.
type Bridge struct {
	credentials domain.CredentialProvider

	l *logrus.Logger
}

func NewBridge(credentials domain.CredentialProvider) *Bridge {
	return &Bridge{
		credentials: credentials,
		l:           log.Logger(log.LOG_AUTH),
	}
}

func (b *Bridge) Authenticate(ctx context.Context, session authenticator, account *domain.Account) error {
	mechanism, err := ChooseMechanism(session.Capabilities(), account.Mechanism)
	if err != nil {
		return err
	}

	logger := b.l.WithFields(logrus.Fields{"account": account.Id, "mechanism": mechanism})

	token, err := b.credentials.GetToken(ctx, account)
	if err != nil {
		return tokenError("get token", err)
	}

	err = b.attempt(ctx, session, account, mechanism, token)
	if domain.KindOf(err) != domain.KindAuthExpired {
		return err
	}

	logger.Info("Token rejected, refreshing")
	token, err = b.credentials.RefreshToken(ctx, account)
	if err != nil {
		return tokenError("refresh token", err)
	}

	err = b.attempt(ctx, session, account, mechanism, token)
	if domain.KindOf(err) == domain.KindAuthExpired {
		logger.Warn("Refreshed token rejected")
	}
	return err
}

func (b *Bridge) attempt(ctx context.Context, session authenticator, account *domain.Account, mechanism domain.Mechanism, token domain.Token) error {
	client, err := saslClient(mechanism, token, account)
	if err != nil {
		return err
	}

	err = session.Authenticate(ctx, client)

	result := "ok"
	switch domain.KindOf(err) {
	case domain.KindUnknown:
		if err != nil {
			result = "error"
		}
	case domain.KindAuthExpired:
		result = "expired"
	default:
		result = "error"
	}
	metrics.Authentications.WithLabelValues(string(mechanism), result).Inc()

	if err == nil {
		b.l.WithFields(logrus.Fields{"account": account.Id, "mechanism": mechanism}).Debug("Authenticated")
	}
	return err
}

func tokenError(op string, err error) error {
	kind := domain.KindOf(err)
	if kind == domain.KindCancelled || kind == domain.KindTimeout {
		return domain.NewError(kind, op, err)
	}
	return domain.NewError(domain.KindAuthExpired, op, err)
}

// ChooseMechanism picks the configured mechanism, or the best advertised one.
func ChooseMechanism(caps domain.Capabilities, configured domain.Mechanism) (domain.Mechanism, error) {
	if configured != domain.MechanismAuto {
		if !caps.CanAuth(configured) {
			return "", domain.NewError(domain.KindProtocol, "authenticate", fmt.Errorf("%w: %s not advertised", domain.ErrMechanismUnsupported, configured))
		}
		return configured, nil
	}

	for _, mechanism := range []domain.Mechanism{domain.MechanismOAuthBearer, domain.MechanismXOAuth2} {
		if caps.CanAuth(mechanism) {
			return mechanism, nil
		}
	}
	return "", domain.NewError(domain.KindProtocol, "authenticate", domain.ErrMechanismUnsupported)
}

func saslClient(mechanism domain.Mechanism, token domain.Token, account *domain.Account) (sasl.Client, error) {
	username := token.Username()
	if username == "" {
		username = account.Email
	}

	switch mechanism {
	case domain.MechanismXOAuth2:
		return newXOAuth2Client(username, token.Secret()), nil
	case domain.MechanismOAuthBearer:
		host, port := splitAddress(account.ImapHost)
		portNumber, _ := strconv.Atoi(port)
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: username,
			Token:    token.Secret(),
			Host:     host,
			Port:     portNumber,
		}), nil
	}
	return nil, domain.NewError(domain.KindProtocol, "authenticate", fmt.Errorf("%w: %s", domain.ErrMechanismUnsupported, mechanism))
}

func splitAddress(address string) (string, string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, defaultPort
	}
	return host, port
}

// Address completes host with the implicit TLS port when none is given.
func Address(host string) string {
	h, port := splitAddress(host)
	return net.JoinHostPort(h, port)
}
