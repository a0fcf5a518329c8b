// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"fmt"
)

//go:generate mockgen -destination=mocks/credentials.go -package=mocks . CredentialProvider

// Token is an opaque bearer token. It never formats its secret.
type Token struct {
	username string
	secret   string
}

func NewToken(username, secret string) Token {
	return Token{username: username, secret: secret}
}

func (t Token) Username() string {
	return t.username
}

func (t Token) Secret() string {
	return t.secret
}

func (t Token) Empty() bool {
	return t.secret == ""
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, [redacted])", t.username)
}

func (t Token) GoString() string {
	return t.String()
}

type CredentialProvider interface {
	GetToken(ctx context.Context, account *Account) (Token, error)
	RefreshToken(ctx context.Context, account *Account) (Token, error)
}
