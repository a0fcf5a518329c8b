// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration read from a string such as "28m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

type Account struct {
	Id            string
	Email         string
	ImapHost      string
	Mechanism     string
	CredentialRef string
	Folders       []string
}

type Keyring struct {
	Service string
	Backend string
	FileDir string
}

type Config struct {
	Database string
	Driver   string

	BatchSize      int
	MaxRetries     int
	BackoffInitial Duration
	BackoffMax     Duration
	CommandTimeout Duration
	IdleRefresh    Duration
	PollInterval   Duration
	EventQueueSize int
	FlagWindow     int

	MetricsListen string

	Keyring  Keyring
	Accounts []Account

	Loglevel *string
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		Database:       "mirror.db",
		Driver:         "sqlite3",
		BatchSize:      50,
		MaxRetries:     5,
		BackoffInitial: Duration{time.Second},
		BackoffMax:     Duration{5 * time.Minute},
		CommandTimeout: Duration{time.Minute},
		IdleRefresh:    Duration{28 * time.Minute},
		PollInterval:   Duration{2 * time.Minute},
		EventQueueSize: 256,
		Keyring: Keyring{
			Service: "go-imap-mirror",
		},
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	for i := range config.Accounts {
		if len(config.Accounts[i].Folders) == 0 {
			config.Accounts[i].Folders = []string{"INBOX"}
		}
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.Database, "Database name must not be empty, set to a filename for the sqlite database"); err != nil {
		return err
	}

	if c.Driver != "sqlite3" && c.Driver != "sqlite" {
		return fmt.Errorf("Driver must be sqlite3 or sqlite, got %q", c.Driver)
	}

	if c.BatchSize <= 0 {
		return errors.New("BatchSize must be positive")
	}

	if c.MaxRetries < 0 {
		return errors.New("MaxRetries must not be negative")
	}

	if c.BackoffInitial.Duration <= 0 || c.BackoffMax.Duration < c.BackoffInitial.Duration {
		return errors.New("BackoffInitial must be positive and not larger than BackoffMax")
	}

	if c.CommandTimeout.Duration <= 0 {
		return errors.New("CommandTimeout must be positive")
	}

	if c.IdleRefresh.Duration <= 0 || c.IdleRefresh.Duration >= 29*time.Minute {
		return errors.New("IdleRefresh must be positive and below 29m, servers drop idle clients after 30m")
	}

	if c.EventQueueSize <= 0 {
		return errors.New("EventQueueSize must be positive")
	}

	if len(c.Accounts) == 0 {
		return errors.New("Accounts must not be empty, add at least one [[Accounts]] table")
	}

	ids := map[string]bool{}
	for i, a := range c.Accounts {
		if err := validateNonEmptyStringField(a.Email, fmt.Sprintf("Accounts[%d].Email must not be empty", i)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.ImapHost, fmt.Sprintf("Accounts[%d].ImapHost must not be empty, set to host:port of the imap server", i)); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(a.CredentialRef, fmt.Sprintf("Accounts[%d].CredentialRef must not be empty, set to the keyring key holding the access token", i)); err != nil {
			return err
		}
		switch strings.ToLower(a.Mechanism) {
		case "", "auto", "xoauth2", "oauthbearer":
		default:
			return fmt.Errorf("Accounts[%d].Mechanism must be auto, xoauth2 or oauthbearer", i)
		}
		if a.Id != "" {
			if ids[a.Id] {
				return fmt.Errorf("Accounts[%d].Id %q is used twice", i, a.Id)
			}
			ids[a.Id] = true
		}
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
