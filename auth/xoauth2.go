// SPDX-License-Identifier: GPL-3.0-or-later
package auth

import (
	"encoding/json"
	"fmt"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 mechanism as a sasl.Client.
type xoauth2Client struct {
	username string
	token    string

	serverError *xoauth2Error
}

type xoauth2Error struct {
	Status  string `json:"status"`
	Schemes string `json:"schemes"`
	Scope   string `json:"scope"`
}

func (e *xoauth2Error) Error() string {
	return fmt.Sprintf("XOAUTH2 rejected with status %s", e.Status)
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return string(domain.MechanismXOAuth2), ir, nil
}

// Next answers the error challenge with an empty response so the server
// completes with NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	serverError := &xoauth2Error{}
	if err := json.Unmarshal(challenge, serverError); err == nil {
		c.serverError = serverError
	}
	return []byte{}, nil
}
