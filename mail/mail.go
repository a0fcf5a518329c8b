// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"fmt"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
)

// HeaderFields are the header fields fetched for every message.
var HeaderFields = []string{"Subject", "From", "Date", "Message-Id"}

type Headers struct {
	Subject   string
	From      string
	Date      time.Time
	MessageId string
}

// ParseHeaders decodes a header block as returned for
// BODY.PEEK[HEADER.FIELDS (...)]. Undecodable fields are kept raw, a missing
// or malformed Date yields the zero time.
func ParseHeaders(rawHeaders []byte) (*Headers, error) {
	if !bytes.HasSuffix(rawHeaders, []byte("\r\n\r\n")) && !bytes.HasSuffix(rawHeaders, []byte("\n\n")) {
		rawHeaders = append(append([]byte{}, rawHeaders...), "\r\n\r\n"...)
	}

	msg, err := stdmail.ReadMessage(bytes.NewReader(rawHeaders))
	if err != nil {
		return nil, fmt.Errorf("could not parse mail headers: %w", err)
	}

	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}

	headers := &Headers{
		MessageId: strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
	}

	headers.Subject = DecodeHeader(dec, msg.Header.Get("Subject"))
	headers.From = decodeAddress(dec, msg.Header.Get("From"))

	date, err := msg.Header.Date()
	if err == nil {
		headers.Date = date
	}

	return headers, nil
}

func DecodeHeader(dec *mime.WordDecoder, value string) string {
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func decodeAddress(dec *mime.WordDecoder, value string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return ""
	}

	parser := &stdmail.AddressParser{WordDecoder: dec}
	addresses, err := parser.ParseList(value)
	if err != nil || len(addresses) == 0 {
		return DecodeHeader(dec, value)
	}

	a := addresses[0]
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func ShortSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) > 30 {
		subject = string(runes[:30]) + "..."
	}
	return subject
}
