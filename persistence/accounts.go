// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/jmoiron/sqlx"
)

type dbAccount struct {
	Id            string `db:"id"`
	Email         string `db:"email"`
	ImapHost      string `db:"imap_host"`
	Mechanism     string `db:"mechanism"`
	CredentialRef string `db:"credential_ref"`
}

func (a *dbAccount) toDomain() *domain.Account {
	return &domain.Account{
		Id:            a.Id,
		Email:         a.Email,
		ImapHost:      a.ImapHost,
		Mechanism:     domain.Mechanism(a.Mechanism),
		CredentialRef: a.CredentialRef,
	}
}

func (p *Persistence) SaveAccount(ctx context.Context, account *domain.Account) error {
	_, err := p.db.NamedExecContext(
		ctx,
		`INSERT INTO accounts (id, email, imap_host, mechanism, credential_ref)
		VALUES (:id, :email, :imap_host, :mechanism, :credential_ref)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			imap_host = excluded.imap_host,
			mechanism = excluded.mechanism,
			credential_ref = excluded.credential_ref`,
		&dbAccount{
			Id:            account.Id,
			Email:         account.Email,
			ImapHost:      account.ImapHost,
			Mechanism:     string(account.Mechanism),
			CredentialRef: account.CredentialRef,
		},
	)
	if err != nil {
		return storeError("save account", fmt.Errorf("could not save account: %w", err))
	}

	p.l.WithField("account", account.Id).Debug("Persisted account")
	return nil
}

func (p *Persistence) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	account := dbAccount{}
	err := p.db.GetContext(ctx, &account, `SELECT id, email, imap_host, mechanism, credential_ref FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchAccount, id)
	}
	if err != nil {
		return nil, storeError("get account", fmt.Errorf("could not query db: %w", err))
	}
	return account.toDomain(), nil
}

func (p *Persistence) Accounts(ctx context.Context) ([]*domain.Account, error) {
	dbAccounts := []dbAccount{}
	err := p.db.SelectContext(ctx, &dbAccounts, `SELECT id, email, imap_host, mechanism, credential_ref FROM accounts ORDER BY id`)
	if err != nil {
		return nil, storeError("accounts", fmt.Errorf("could not query db: %w", err))
	}

	accounts := make([]*domain.Account, 0, len(dbAccounts))
	for i := range dbAccounts {
		accounts = append(accounts, dbAccounts[i].toDomain())
	}
	return accounts, nil
}

// DeleteAccount removes the account with all its folders, messages, cursors
// and bodies.
func (p *Persistence) DeleteAccount(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return storeError("delete account", fmt.Errorf("could not delete account: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeError("delete account", fmt.Errorf("could not get num of affected rows: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNoSuchAccount, id)
	}

	p.l.WithField("account", id).Info("Deleted account")
	return nil
}

// ClearAccountCache drops every cached message of the account and resets
// the folder watermarks so the next sync starts from scratch.
func (p *Persistence) ClearAccountCache(ctx context.Context, id string) error {
	err := p.inTx(ctx, "clear account cache", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE folder_id IN (SELECT id FROM folders WHERE account_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("could not delete messages: %w", err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_cursors WHERE folder_id IN (SELECT id FROM folders WHERE account_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("could not delete cursors: %w", err)
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE folders SET uid_validity = 0, uid_next = 0, highest_modseq = 0, message_count = 0, unread_count = 0
			WHERE account_id = ?`,
			id,
		)
		if err != nil {
			return fmt.Errorf("could not reset folders: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.l.WithField("account", id).Info("Cleared account cache")
	return nil
}
