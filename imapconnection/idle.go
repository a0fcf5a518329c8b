// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

// doneGrace bounds how long the server may take to complete IDLE after DONE.
const doneGrace = 30 * time.Second

type idleItem struct {
	resp imap.Resp
	err  error
}

// Idle issues IDLE and waits. The first change notice (or refresh, or ctx)
// ends the wait with DONE; every notice received until the tagged completion
// is returned. A cancelled ctx still completes IDLE cleanly so the session
// stays usable, and is reported as a Cancelled error.
func (s *Session) Idle(ctx context.Context, refresh time.Duration) ([]*domain.Notice, error) {
	if err := s.requireSelected("idle"); err != nil {
		return nil, err
	}
	if !s.caps.Idle() {
		return nil, domain.NewError(domain.KindProtocol, "idle", domain.ErrIdleUnsupported)
	}

	stream, err := s.conn.sendCommand(ctx, rawCommand("IDLE"), refresh+doneGrace, false)
	if err != nil {
		return nil, err
	}

	resp, err := stream.Next()
	if err == io.EOF {
		return nil, domain.NewError(domain.KindProtocol, "idle", fmt.Errorf("%w: %v", domain.ErrIdleUnsupported, stream.Err()))
	}
	if err != nil {
		return nil, err
	}
	if _, ok := resp.(*imap.ContinuationReq); !ok {
		stream.Close()
		return nil, domain.NewError(domain.KindProtocol, "idle", fmt.Errorf("%w: no continuation", domain.ErrIdleUnsupported))
	}
	s.l.WithField("folder", s.selected).Trace("Idling")

	items := make(chan idleItem)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			resp, err := stream.Next()
			select {
			case items <- idleItem{resp, err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(refresh)
	defer timer.Stop()

	notices := []*domain.Notice{}
	var bye *imap.StatusResp
	doneSent := false
	sendDone := func() error {
		if doneSent {
			return nil
		}
		doneSent = true
		return s.conn.writeLine("DONE")
	}

	// the reader owns the connection state until it reports the failure
	// caused by closing the connection
	abort := func(err error) error {
		s.conn.conn.Close()
		for item := range items {
			if item.err != nil {
				break
			}
		}
		return s.conn.fail(ctx, "idle", err)
	}

	ctxDone := ctx.Done()
	for {
		select {
		case item := <-items:
			if item.err == io.EOF {
				if bye != nil {
					return notices, domain.NewError(domain.KindTransport, "idle", fmt.Errorf("server closed connection: %s", bye.Info))
				}
				if err := stream.Err(); err != nil {
					return notices, domain.NewError(domain.KindProtocol, "idle", err)
				}
				if ctx.Err() != nil {
					return notices, domain.NewError(domain.KindCancelled, "idle", ctx.Err())
				}
				return notices, nil
			}
			if item.err != nil {
				if bye != nil {
					return notices, domain.NewError(domain.KindTransport, "idle", fmt.Errorf("server closed connection: %s", bye.Info))
				}
				return notices, item.err
			}

			if status, ok := item.resp.(*imap.StatusResp); ok && status.Type == imap.StatusRespBye {
				bye = status
				continue
			}

			notice, ok, err := parseNotice(item.resp)
			if err != nil {
				s.l.WithFields(logrus.Fields{"folder": s.selected, "error": err}).Warn("Ignoring malformed notice")
				continue
			}
			if !ok {
				continue
			}
			notices = append(notices, notice)
			if err := sendDone(); err != nil {
				return notices, abort(err)
			}
		case <-timer.C:
			if err := sendDone(); err != nil {
				return notices, abort(err)
			}
		case <-ctxDone:
			ctxDone = nil
			if err := sendDone(); err != nil {
				return notices, abort(err)
			}
		}
	}
}
