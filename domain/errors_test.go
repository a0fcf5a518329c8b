// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"typed", NewError(KindAuthExpired, "authenticate", errors.New("rejected")), KindAuthExpired},
		{"wrappedtyped", fmt.Errorf("could not sync: %w", NewError(KindStore, "", errors.New("corrupt"))), KindStore},
		{"cancelled", fmt.Errorf("could not read: %w", context.Canceled), KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"nettimeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout},
		{"netreset", &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}, KindTransport},
		{"eof", fmt.Errorf("could not read greeting: %w", io.EOF), KindTransport},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(KindTransport))
	assert.True(t, Retryable(KindTimeout))
	assert.False(t, Retryable(KindAuthExpired))
	assert.False(t, Retryable(KindProtocol))
	assert.False(t, Retryable(KindStore))
	assert.False(t, Retryable(KindCancelled))
}

func TestError_Format(t *testing.T) {
	assert.EqualError(t, NewError(KindProtocol, "select", errors.New("NO no such mailbox")), "ProtocolError: select: NO no such mailbox")
	assert.EqualError(t, NewError(KindTimeout, "", errors.New("i/o timeout")), "Timeout: i/o timeout")
}

func TestToken_Redacted(t *testing.T) {
	token := NewToken("me@example.org", "ya29.secret")

	assert.Equal(t, "Token(me@example.org, [redacted])", token.String())
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", token, token, token, token), "ya29.secret")
	assert.Equal(t, "ya29.secret", token.Secret())
	assert.False(t, token.Empty())
	assert.True(t, Token{}.Empty())
}

func TestNormalizeFlags(t *testing.T) {
	assert.Equal(t, []string{`\Flagged`, `\Seen`}, NormalizeFlags([]string{`\Seen`, `\Recent`, `\Flagged`, `\Seen`}))
	assert.Equal(t, []string{}, NormalizeFlags(nil))
}

func TestCapabilities(t *testing.T) {
	caps := NewCapabilities("IMAP4rev1", "idle", "AUTH=XOAUTH2", "CONDSTORE")

	assert.True(t, caps.Idle())
	assert.True(t, caps.CondStore())
	assert.True(t, caps.CanAuth(MechanismXOAuth2))
	assert.False(t, caps.CanAuth(MechanismOAuthBearer))
	assert.False(t, caps.SASLIR())
}
