// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/persistence/migrations"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	// DriverCgo is mattn/go-sqlite3, DriverPure is modernc.org/sqlite.
	DriverCgo  = "sqlite3"
	DriverPure = "sqlite"

	// maxVariables keeps IN lists below the sqlite host parameter limit.
	maxVariables = 500
)

// Persistence implements domain.Persistence on sqlite.
type Persistence struct {
	db       *sqlx.DB
	fullText string
	l        *logrus.Logger
}

// pragmas are applied to every pooled connection through the datasource.
var pragmas = map[string][]string{
	DriverCgo:  {"_journal_mode=WAL", "_synchronous=NORMAL", "_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"},
	DriverPure: {"_pragma=journal_mode(WAL)", "_pragma=synchronous(normal)", "_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)", "_txlock=immediate"},
}

var fullText = map[string]string{
	DriverCgo:  migrations.FTS4,
	DriverPure: migrations.FTS5,
}

func NewPersistence(driver string, datasource string) (*Persistence, error) {
	if driver == "" {
		driver = DriverCgo
	}
	if driver != DriverCgo && driver != DriverPure {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	db, err := sqlx.Connect(driver, withPragmas(driver, datasource))
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	if inMemory(datasource) {
		// every connection would open its own empty database
		db.SetMaxOpenConns(1)
	}

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithFields(logrus.Fields{"file": datasource, "driver": driver}).Info("Connected")

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations.Source(fullText[driver]), migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db:       db,
		fullText: fullText[driver],
		l:        l,
	}, nil
}

func inMemory(datasource string) bool {
	return strings.HasPrefix(datasource, ":memory:") || strings.Contains(datasource, "mode=memory")
}

func withPragmas(driver string, datasource string) string {
	separator := "?"
	if strings.Contains(datasource, "?") {
		separator = "&"
	}
	return datasource + separator + strings.Join(pragmas[driver], "&")
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

// storeError tags a database failure as a StoreError. Aborted contexts keep
// their own kind so a cancelled job is never mistaken for corruption.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCancelled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, op, err)
	}
	return domain.NewError(domain.KindStore, op, err)
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
	} else {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			errStr := err.Error()
			return fmt.Errorf("%s, could not rollback tx: %w", errStr, rollbackErr)
		} else {
			return err
		}
	}

	return nil
}

// inTx runs f in a transaction that is committed when f succeeds.
func (p *Persistence) inTx(ctx context.Context, op string, f func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError(op, fmt.Errorf("could not start transaction: %w", err))
	}

	err = txEnd(tx, f(tx))
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return storeError(op, err)
	}
	return nil
}

func partitionUids(uids []uint32, size int) [][]uint32 {
	partitions := [][]uint32{}
	for len(uids) > size {
		partitions = append(partitions, uids[:size])
		uids = uids[size:]
	}
	if len(uids) > 0 {
		partitions = append(partitions, uids)
	}
	return partitions
}
