// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0600))
	return filename
}

func TestReadConfig_Defaults(t *testing.T) {
	filename := writeConfig(t, `
[[Accounts]]
Email = "me@example.org"
ImapHost = "imap.example.org:993"
CredentialRef = "me/token"
`)

	c, err := ReadConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, "mirror.db", c.Database)
	assert.Equal(t, "sqlite3", c.Driver)
	assert.Equal(t, 50, c.BatchSize)
	assert.Equal(t, 28*time.Minute, c.IdleRefresh.Duration)
	assert.Equal(t, []string{"INBOX"}, c.Accounts[0].Folders)
	assert.Nil(t, c.Loglevel)
}

func TestReadConfig_Overrides(t *testing.T) {
	filename := writeConfig(t, `
Database = "other.db"
Driver = "sqlite"
BatchSize = 200
BackoffInitial = "2s"
BackoffMax = "1m"
Loglevel = "debug"

[Keyring]
Service = "mirror-test"

[[Accounts]]
Id = "work"
Email = "me@example.org"
ImapHost = "imap.example.org:993"
Mechanism = "oauthbearer"
CredentialRef = "me/token"
Folders = ["INBOX", "Archive"]
`)

	c, err := ReadConfig(filename)
	require.NoError(t, err)

	assert.Equal(t, "other.db", c.Database)
	assert.Equal(t, "sqlite", c.Driver)
	assert.Equal(t, 200, c.BatchSize)
	assert.Equal(t, 2*time.Second, c.BackoffInitial.Duration)
	assert.Equal(t, time.Minute, c.BackoffMax.Duration)
	assert.Equal(t, "mirror-test", c.Keyring.Service)
	assert.Equal(t, []string{"INBOX", "Archive"}, c.Accounts[0].Folders)
	require.NotNil(t, c.Loglevel)
	assert.Equal(t, "debug", *c.Loglevel)
}

func TestReadConfig_Validation(t *testing.T) {
	account := `
[[Accounts]]
Email = "me@example.org"
ImapHost = "imap.example.org:993"
CredentialRef = "me/token"
`
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"noaccounts", ``, "Accounts must not be empty, add at least one [[Accounts]] table"},
		{"driver", `Driver = "postgres"` + account, `Driver must be sqlite3 or sqlite, got "postgres"`},
		{"batchsize", `BatchSize = -1` + account, "BatchSize must be positive"},
		{"idlerefresh", `IdleRefresh = "30m"` + account, "IdleRefresh must be positive and below 29m, servers drop idle clients after 30m"},
		{"backoff", `BackoffInitial = "10m"` + account, "BackoffInitial must be positive and not larger than BackoffMax"},
		{"host", `
[[Accounts]]
Email = "me@example.org"
CredentialRef = "me/token"
`, "Accounts[0].ImapHost must not be empty, set to host:port of the imap server"},
		{"mechanism", `
[[Accounts]]
Email = "me@example.org"
ImapHost = "imap.example.org:993"
CredentialRef = "me/token"
Mechanism = "plain"
`, "Accounts[0].Mechanism must be auto, xoauth2 or oauthbearer"},
		{"duplicateid", `
[[Accounts]]
Id = "a"
Email = "me@example.org"
ImapHost = "imap.example.org:993"
CredentialRef = "me/token"
[[Accounts]]
Id = "a"
Email = "you@example.org"
ImapHost = "imap.example.org:993"
CredentialRef = "you/token"
`, `Accounts[1].Id "a" is used twice`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ReadConfig(writeConfig(t, tc.content))
			assert.Nil(t, c)
			assert.EqualError(t, err, tc.err)
		})
	}
}

func TestReadConfig_BadDuration(t *testing.T) {
	_, err := ReadConfig(writeConfig(t, `CommandTimeout = "soon"`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "could not read config file")
}
