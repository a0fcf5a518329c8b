// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
)

// Authenticate runs AUTHENTICATE with the given SASL mechanism. A NO
// completion, or a server error challenge the mechanism refuses to answer,
// is an AuthExpired error; the session stays usable for another attempt.
func (s *Session) Authenticate(ctx context.Context, client sasl.Client) error {
	mechanism, ir, err := client.Start()
	if err != nil {
		return domain.NewError(domain.KindProtocol, "authenticate", fmt.Errorf("could not start %s: %w", mechanism, err))
	}

	arguments := []interface{}{imap.RawString(mechanism)}
	irSent := false
	if ir != nil && s.caps.SASLIR() {
		initial := encodeSASL(ir)
		if initial == "" {
			initial = "="
		}
		arguments = append(arguments, imap.RawString(initial))
		irSent = true
	}

	s.l.WithField("mechanism", mechanism).Debug("AUTHENTICATE " + mechanism + " [redacted]")
	stream, err := s.conn.SendCommand(ctx, rawCommand("AUTHENTICATE", arguments...))
	if err != nil {
		return err
	}

	var challengeErr error
	for {
		resp, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		cont, ok := resp.(*imap.ContinuationReq)
		if !ok {
			continue
		}

		var response []byte
		if ir != nil && !irSent {
			response = ir
			irSent = true
		} else {
			challenge, err := base64.StdEncoding.DecodeString(cont.Info)
			if err != nil {
				challengeErr = fmt.Errorf("could not decode challenge: %w", err)
				if err := stream.Continue("*"); err != nil {
					return err
				}
				continue
			}

			response, err = client.Next(challenge)
			if err != nil {
				challengeErr = err
				if err := stream.Continue("*"); err != nil {
					return err
				}
				continue
			}
		}

		if err := stream.Continue(encodeSASL(response)); err != nil {
			return err
		}
	}

	status := stream.Status()
	switch status.Type {
	case imap.StatusRespOk:
		s.l.WithField("mechanism", mechanism).Debug("Authenticated")
		if !s.capabilitiesFromStatus(status) {
			if err := s.refreshCapabilities(ctx); err != nil {
				return err
			}
		}
		s.chooseStrategies()
		return nil
	case imap.StatusRespNo:
		s.l.WithFields(logrus.Fields{"mechanism": mechanism, "info": status.Info}).Info("Token rejected")
		return domain.NewError(domain.KindAuthExpired, "authenticate", stream.Err())
	}

	if challengeErr != nil {
		return domain.NewError(domain.KindAuthExpired, "authenticate", challengeErr)
	}
	return domain.NewError(domain.KindProtocol, "authenticate", stream.Err())
}

func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
