// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const folderColumns = `id, account_id, path, delimiter, role, uid_validity, uid_next, highest_modseq, message_count, unread_count`

type dbFolder struct {
	Id            int64  `db:"id"`
	AccountId     string `db:"account_id"`
	Path          string `db:"path"`
	Delimiter     string `db:"delimiter"`
	Role          string `db:"role"`
	UidValidity   uint32 `db:"uid_validity"`
	UidNext       uint32 `db:"uid_next"`
	HighestModSeq uint64 `db:"highest_modseq"`
	MessageCount  int    `db:"message_count"`
	UnreadCount   int    `db:"unread_count"`
}

func (f *dbFolder) toDomain() *domain.Folder {
	return &domain.Folder{
		Id:            domain.FolderID(f.Id),
		AccountId:     f.AccountId,
		Path:          f.Path,
		Delimiter:     f.Delimiter,
		Role:          domain.FolderRole(f.Role),
		UidValidity:   f.UidValidity,
		UidNext:       f.UidNext,
		HighestModSeq: f.HighestModSeq,
		MessageCount:  f.MessageCount,
		UnreadCount:   f.UnreadCount,
	}
}

func (p *Persistence) SaveFolders(ctx context.Context, accountId string, folders []*domain.FolderInfo) ([]*domain.Folder, error) {
	err := p.inTx(ctx, "save folders", func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(
			ctx,
			`INSERT INTO folders (account_id, path, delimiter, role) VALUES (?, ?, ?, ?)
			ON CONFLICT (account_id, path) DO UPDATE SET
				delimiter = excluded.delimiter,
				role = excluded.role
			WHERE folders.delimiter != excluded.delimiter OR folders.role != excluded.role`,
		)
		if err != nil {
			return fmt.Errorf("could not prepare statement: %w", err)
		}
		defer stmt.Close()

		paths := make([]string, 0, len(folders))
		for _, f := range folders {
			if _, err := stmt.ExecContext(ctx, accountId, f.Path, f.Delimiter, string(f.Role)); err != nil {
				return fmt.Errorf("could not save folder %s: %w", f.Path, err)
			}
			paths = append(paths, f.Path)
		}

		if len(paths) == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM folders WHERE account_id = ?`, accountId)
			return err
		}

		qry, args, err := sqlx.In(`DELETE FROM folders WHERE account_id = ? AND path NOT IN (?)`, accountId, paths)
		if err != nil {
			return fmt.Errorf("could not replace IN in query: %w", err)
		}
		result, err := tx.ExecContext(ctx, qry, args...)
		if err != nil {
			return fmt.Errorf("could not delete vanished folders: %w", err)
		}
		if removed, err := result.RowsAffected(); err == nil && removed > 0 {
			p.l.WithFields(logrus.Fields{"account": accountId, "folders": removed}).Info("Deleted folders no longer on server")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.Folders(ctx, accountId)
}

func (p *Persistence) Folders(ctx context.Context, accountId string) ([]*domain.Folder, error) {
	dbFolders := []dbFolder{}
	err := p.db.SelectContext(ctx, &dbFolders, `SELECT `+folderColumns+` FROM folders WHERE account_id = ? ORDER BY path`, accountId)
	if err != nil {
		return nil, storeError("folders", fmt.Errorf("could not query db: %w", err))
	}

	folders := make([]*domain.Folder, 0, len(dbFolders))
	for i := range dbFolders {
		folders = append(folders, dbFolders[i].toDomain())
	}

	p.l.WithFields(logrus.Fields{"account": accountId, "count": len(folders)}).Debug("Found folders")
	return folders, nil
}

func (p *Persistence) GetFolder(ctx context.Context, id domain.FolderID) (*domain.Folder, error) {
	return p.getFolder(ctx, p.db, id)
}

func (p *Persistence) getFolder(ctx context.Context, q sqlx.QueryerContext, id domain.FolderID) (*domain.Folder, error) {
	folder := dbFolder{}
	err := sqlx.GetContext(ctx, q, &folder, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", domain.ErrNoSuchFolder, id)
	}
	if err != nil {
		return nil, storeError("get folder", fmt.Errorf("could not query db: %w", err))
	}
	return folder.toDomain(), nil
}

func (p *Persistence) FolderByPath(ctx context.Context, accountId string, path string) (*domain.Folder, error) {
	folder := dbFolder{}
	err := p.db.GetContext(ctx, &folder, `SELECT `+folderColumns+` FROM folders WHERE account_id = ? AND path = ?`, accountId, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSuchFolder, path)
	}
	if err != nil {
		return nil, storeError("folder by path", fmt.Errorf("could not query db: %w", err))
	}
	return folder.toDomain(), nil
}

func (p *Persistence) SetUidValidity(ctx context.Context, id domain.FolderID, uidValidity uint32) error {
	return p.updateFolder(ctx, "set uid validity", `UPDATE folders SET uid_validity = ? WHERE id = ? AND uid_validity != ?`, uidValidity, int64(id), uidValidity)
}

func (p *Persistence) SetHighestModSeq(ctx context.Context, id domain.FolderID, modSeq uint64) error {
	return p.updateFolder(ctx, "set highest modseq", `UPDATE folders SET highest_modseq = ? WHERE id = ? AND highest_modseq != ?`, modSeq, int64(id), modSeq)
}

func (p *Persistence) updateFolder(ctx context.Context, op string, qry string, args ...interface{}) error {
	_, err := p.db.ExecContext(ctx, qry, args...)
	if err != nil {
		return storeError(op, fmt.Errorf("could not update folder: %w", err))
	}
	return nil
}

// CheckFolder reports a StoreError when the cached state of the folder cannot
// have been produced by a sync: a cursor window that is inverted, or cached
// UIDs at or above uid_next that no open window accounts for.
func (p *Persistence) CheckFolder(ctx context.Context, id domain.FolderID) error {
	folder, err := p.GetFolder(ctx, id)
	if err != nil {
		return err
	}

	cursor, err := p.GetFolderCursor(ctx, id)
	if err != nil {
		return err
	}

	if cursor != nil && cursor.Boundary > cursor.Target {
		return domain.NewError(domain.KindStore, "check folder", fmt.Errorf("cursor boundary %d above target %d", cursor.Boundary, cursor.Target))
	}

	var stray int
	if cursor != nil {
		err = p.db.GetContext(
			ctx, &stray,
			`SELECT COUNT(*) FROM messages WHERE folder_id = ? AND uid >= ? AND NOT (uid >= ? AND uid < ?)`,
			int64(id), folder.UidNext, cursor.Boundary, cursor.Target,
		)
	} else {
		err = p.db.GetContext(ctx, &stray, `SELECT COUNT(*) FROM messages WHERE folder_id = ? AND uid >= ?`, int64(id), folder.UidNext)
	}
	if err != nil {
		return storeError("check folder", fmt.Errorf("could not query db: %w", err))
	}

	if stray > 0 {
		return domain.NewError(domain.KindStore, "check folder", fmt.Errorf("%d cached messages at or above uid_next %d", stray, folder.UidNext))
	}
	return nil
}

func (p *Persistence) GetFolderCursor(ctx context.Context, id domain.FolderID) (*domain.SyncCursor, error) {
	cursor := struct {
		Boundary uint32 `db:"last_uid_boundary"`
		Target   uint32 `db:"target_uid_next"`
	}{}
	err := p.db.GetContext(ctx, &cursor, `SELECT last_uid_boundary, target_uid_next FROM sync_cursors WHERE folder_id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get cursor", fmt.Errorf("could not query db: %w", err))
	}

	return &domain.SyncCursor{Folder: id, Boundary: cursor.Boundary, Target: cursor.Target}, nil
}

func (p *Persistence) SetFolderCursor(ctx context.Context, cursor *domain.SyncCursor) error {
	if err := setCursor(ctx, p.db, cursor); err != nil {
		return storeError("set cursor", err)
	}
	return nil
}

func setCursor(ctx context.Context, e sqlx.ExecerContext, cursor *domain.SyncCursor) error {
	_, err := e.ExecContext(
		ctx,
		`INSERT INTO sync_cursors (folder_id, last_uid_boundary, target_uid_next) VALUES (?, ?, ?)
		ON CONFLICT (folder_id) DO UPDATE SET
			last_uid_boundary = excluded.last_uid_boundary,
			target_uid_next = excluded.target_uid_next`,
		int64(cursor.Folder), cursor.Boundary, cursor.Target,
	)
	if err != nil {
		return fmt.Errorf("could not save cursor: %w", err)
	}
	return nil
}

// CompleteWindow marks every UID below uidNext as cached and drops the
// cursor of the finished window.
func (p *Persistence) CompleteWindow(ctx context.Context, id domain.FolderID, uidNext uint32) error {
	return p.inTx(ctx, "complete window", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE folders SET uid_next = ? WHERE id = ?`, uidNext, int64(id)); err != nil {
			return fmt.Errorf("could not update uid_next: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_cursors WHERE folder_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("could not delete cursor: %w", err)
		}
		return nil
	})
}

// recount refreshes the cached message and unread counters, writing only
// when they changed.
func recount(ctx context.Context, e sqlx.ExecerContext, id domain.FolderID) error {
	_, err := e.ExecContext(
		ctx,
		`UPDATE folders SET
			message_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id),
			unread_count = (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND seen = 0)
		WHERE id = ? AND (
			message_count != (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id) OR
			unread_count != (SELECT COUNT(*) FROM messages WHERE folder_id = folders.id AND seen = 0)
		)`,
		int64(id),
	)
	if err != nil {
		return fmt.Errorf("could not update counters: %w", err)
	}
	return nil
}
