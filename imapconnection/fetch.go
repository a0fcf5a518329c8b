// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"
	"io"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/mail"

	"github.com/emersion/go-imap"
)

const fetchModSeq = imap.FetchItem("MODSEQ")

var headerSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    mail.HeaderFields,
	},
	Peek: true,
}

// parseFetch decodes "* n FETCH (...)". ok is false for other responses.
func parseFetch(resp imap.Resp) (*imap.Message, bool, error) {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "FETCH" {
		return nil, false, nil
	}
	if len(fields) < 2 {
		return nil, false, fmt.Errorf("FETCH response without data items")
	}

	seqNum, err := imap.ParseNumber(fields[0])
	if err != nil {
		return nil, false, fmt.Errorf("could not parse FETCH sequence number: %w", err)
	}
	items, ok := fields[1].([]interface{})
	if !ok {
		return nil, false, fmt.Errorf("FETCH data items are not a list")
	}

	msg := imap.NewMessage(seqNum, nil)
	if err := msg.Parse(items); err != nil {
		return nil, false, fmt.Errorf("could not parse FETCH data items: %w", err)
	}
	return msg, true, nil
}

func modSeq(msg *imap.Message) uint64 {
	raw, ok := msg.Items[fetchModSeq]
	if !ok {
		return 0
	}
	if list, ok := raw.([]interface{}); ok && len(list) > 0 {
		raw = list[0]
	}
	v, err := parseUint64(raw)
	if err != nil {
		return 0
	}
	return v
}

func readBody(msg *imap.Message) ([]byte, error) {
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		body, err := io.ReadAll(literal)
		if err != nil {
			return nil, fmt.Errorf("could not read literal: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("message %d has no body section", msg.Uid)
}

func (s *Session) toHeader(msg *imap.Message) (*domain.MessageHeader, error) {
	header := &domain.MessageHeader{
		Uid:     msg.Uid,
		Size:    msg.Size,
		Flags:   domain.NormalizeFlags(msg.Flags),
		ModSeq:  modSeq(msg),
		Date:    msg.InternalDate,
		BodyRef: BodyRef(s.uidValidity, msg.Uid),
	}

	raw, err := readBody(msg)
	if err != nil {
		// servers omit the section for messages without any of the fields
		return header, nil
	}

	parsed, err := mail.ParseHeaders(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse headers of %d: %w", msg.Uid, err)
	}

	header.Subject = parsed.Subject
	header.From = parsed.From
	header.MessageId = parsed.MessageId
	if !parsed.Date.IsZero() {
		header.Date = parsed.Date
	}
	return header, nil
}

// BodyRef identifies the body of uid within one uid_validity epoch.
func BodyRef(uidValidity, uid uint32) string {
	return fmt.Sprintf("%d/%d", uidValidity, uid)
}

// parseNotice turns an unsolicited mailbox update into a domain.Notice.
func parseNotice(resp imap.Resp) (*domain.Notice, bool, error) {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok {
		return nil, false, nil
	}

	switch name {
	case "EXISTS", "EXPUNGE":
		if len(fields) == 0 {
			return nil, false, fmt.Errorf("%s without number", name)
		}
		n, err := imap.ParseNumber(fields[0])
		if err != nil {
			return nil, false, fmt.Errorf("could not parse %s: %w", name, err)
		}
		kind := domain.NoticeExists
		if name == "EXPUNGE" {
			kind = domain.NoticeExpunge
		}
		return &domain.Notice{Kind: kind, SeqNum: n}, true, nil
	case "FETCH":
		msg, ok, err := parseFetch(resp)
		if err != nil || !ok {
			return nil, false, err
		}
		if _, hasFlags := msg.Items[imap.FetchFlags]; !hasFlags {
			return nil, false, nil
		}
		return &domain.Notice{
			Kind:   domain.NoticeFlags,
			SeqNum: msg.SeqNum,
			Uid:    msg.Uid,
			Flags:  domain.NormalizeFlags(msg.Flags),
			ModSeq: modSeq(msg),
		}, true, nil
	}

	return nil, false, nil
}
