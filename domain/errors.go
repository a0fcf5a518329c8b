// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

type ErrorKind int

const (
	KindUnknown = ErrorKind(iota)
	KindTransport
	KindTimeout
	KindAuthExpired
	KindProtocol
	KindStore
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindTimeout:
		return "Timeout"
	case KindAuthExpired:
		return "AuthExpired"
	case KindProtocol:
		return "ProtocolError"
	case KindStore:
		return "StoreError"
	case KindCancelled:
		return "Cancelled"
	}
	return "UnknownError"
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

var (
	ErrNoSuchFolder         = errors.New("no such folder")
	ErrNoSuchAccount        = errors.New("no such account")
	ErrIdleUnsupported      = errors.New("server does not support IDLE")
	ErrMechanismUnsupported = errors.New("server offers no supported token mechanism")
	ErrCancelled            = NewError(KindCancelled, "", context.Canceled)
)

// KindOf classifies err into the sync error taxonomy. Typed errors win over
// the classification of whatever they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return KindTransport
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransport
	}

	return KindUnknown
}

// Retryable reports whether a failure of this kind is retried with backoff.
func Retryable(kind ErrorKind) bool {
	return kind == KindTransport || kind == KindTimeout
}
