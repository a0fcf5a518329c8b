// SPDX-License-Identifier: GPL-3.0-or-later
package credential

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
)

// ErrTokenUnchanged is returned by RefreshToken when the keyring still holds
// the token that was rejected.
var ErrTokenUnchanged = errors.New("keyring holds no newer token")

// RefreshFunc renews the token stored under the account's CredentialRef,
// e.g. by running an OAuth helper that writes to the same keyring.
type RefreshFunc func(ctx context.Context, account *domain.Account) error

type Option func(*KeyringProvider)

func WithRefresh(f RefreshFunc) Option {
	return func(p *KeyringProvider) {
		p.refresh = f
	}
}

// KeyringProvider reads bearer tokens from a keyring item per account. Only a
// fingerprint of the last token handed out is kept.
type KeyringProvider struct {
	ring    keyring.Keyring
	refresh RefreshFunc

	mu     sync.Mutex
	issued map[string][sha256.Size]byte

	l *logrus.Logger
}

// Open opens the keyring of service. An empty backend lets the keyring
// library pick the platform default.
func Open(service string, backend string, fileDir string) (keyring.Keyring, error) {
	config := keyring.Config{
		ServiceName:              service,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	}
	if backend != "" {
		config.AllowedBackends = []keyring.BackendType{keyring.BackendType(strings.ToLower(backend))}
	}

	ring, err := keyring.Open(config)
	if err != nil {
		return nil, fmt.Errorf("could not open keyring: %w", err)
	}
	return ring, nil
}

func NewKeyringProvider(ring keyring.Keyring, opts ...Option) *KeyringProvider {
	p := &KeyringProvider{
		ring:   ring,
		issued: map[string][sha256.Size]byte{},
		l:      log.Logger(log.LOG_CREDENTIALS),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KeyringProvider) GetToken(ctx context.Context, account *domain.Account) (domain.Token, error) {
	secret, err := p.read(account)
	if err != nil {
		return domain.Token{}, err
	}
	p.remember(account, secret)
	return domain.NewToken(account.Email, secret), nil
}

// RefreshToken runs the refresh hook, if any, and reads the item again. The
// token must differ from the one handed out before.
func (p *KeyringProvider) RefreshToken(ctx context.Context, account *domain.Account) (domain.Token, error) {
	l := p.l.WithField("account", account.Id)

	if p.refresh != nil {
		if err := p.refresh(ctx, account); err != nil {
			return domain.Token{}, domain.NewError(domain.KindAuthExpired, "refresh token", err)
		}
	}

	secret, err := p.read(account)
	if err != nil {
		return domain.Token{}, err
	}

	p.mu.Lock()
	previous, ok := p.issued[account.CredentialRef]
	p.mu.Unlock()
	if ok && previous == sha256.Sum256([]byte(secret)) {
		l.Warn("Token was not renewed")
		return domain.Token{}, domain.NewError(domain.KindAuthExpired, "refresh token", ErrTokenUnchanged)
	}

	p.remember(account, secret)
	l.Info("Refreshed token")
	return domain.NewToken(account.Email, secret), nil
}

func (p *KeyringProvider) read(account *domain.Account) (string, error) {
	item, err := p.ring.Get(account.CredentialRef)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", domain.NewError(domain.KindAuthExpired, "get token", fmt.Errorf("no credential %q: %w", account.CredentialRef, err))
	}
	if err != nil {
		return "", fmt.Errorf("could not read credential %q: %w", account.CredentialRef, err)
	}

	secret := strings.TrimSpace(string(item.Data))
	if secret == "" {
		return "", domain.NewError(domain.KindAuthExpired, "get token", fmt.Errorf("credential %q is empty", account.CredentialRef))
	}
	return secret, nil
}

func (p *KeyringProvider) remember(account *domain.Account, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued[account.CredentialRef] = sha256.Sum256([]byte(secret))
}

// Store saves token under ref, used to seed the keyring from the command line.
func Store(ring keyring.Keyring, ref string, token string) error {
	err := ring.Set(keyring.Item{
		Key:   ref,
		Data:  []byte(token),
		Label: "go-imap-mirror " + ref,
	})
	if err != nil {
		return fmt.Errorf("could not store credential %q: %w", ref, err)
	}
	return nil
}
