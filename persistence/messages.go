// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const messageColumns = `uid, subject, from_addr, message_id, date, size, flags, modseq, body_ref`

type dbMessage struct {
	Uid       uint32 `db:"uid"`
	Subject   string `db:"subject"`
	From      string `db:"from_addr"`
	MessageId string `db:"message_id"`
	Date      int64  `db:"date"`
	Size      uint32 `db:"size"`
	Flags     string `db:"flags"`
	ModSeq    uint64 `db:"modseq"`
	BodyRef   string `db:"body_ref"`
}

func (m *dbMessage) toDomain() *domain.MessageHeader {
	header := &domain.MessageHeader{
		Uid:       m.Uid,
		Subject:   m.Subject,
		From:      m.From,
		MessageId: m.MessageId,
		Size:      m.Size,
		Flags:     splitFlags(m.Flags),
		ModSeq:    m.ModSeq,
		BodyRef:   m.BodyRef,
	}
	if m.Date != 0 {
		header.Date = time.Unix(m.Date, 0).UTC()
	}
	return header
}

func joinFlags(flags []string) string {
	return strings.Join(domain.NormalizeFlags(flags), " ")
}

func splitFlags(flags string) []string {
	split := strings.Fields(flags)
	if split == nil {
		return []string{}
	}
	return split
}

func unixDate(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// UpsertHeaders inserts new headers and rewrites changed ones. It returns the
// number of rows written; an unchanged header costs no write.
func (p *Persistence) UpsertHeaders(ctx context.Context, id domain.FolderID, headers []*domain.MessageHeader) (int, error) {
	written := 0
	err := p.inTx(ctx, "upsert headers", func(tx *sqlx.Tx) error {
		var err error
		written, err = upsertHeaders(ctx, tx, id, headers)
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// CommitBatch stores one fetched batch and advances the cursor atomically:
// after a crash either both or neither are visible.
func (p *Persistence) CommitBatch(ctx context.Context, id domain.FolderID, headers []*domain.MessageHeader, cursor *domain.SyncCursor) (int, error) {
	written := 0
	err := p.inTx(ctx, "commit batch", func(tx *sqlx.Tx) error {
		var err error
		written, err = upsertHeaders(ctx, tx, id, headers)
		if err != nil {
			return err
		}
		return setCursor(ctx, tx, cursor)
	})
	if err != nil {
		return 0, err
	}

	p.l.WithFields(logrus.Fields{
		"folder":   id,
		"headers":  len(headers),
		"written":  written,
		"boundary": cursor.Boundary,
		"target":   cursor.Target,
	}).Trace("Committed batch")
	return written, nil
}

func upsertHeaders(ctx context.Context, tx *sqlx.Tx, id domain.FolderID, headers []*domain.MessageHeader) (int, error) {
	if len(headers) == 0 {
		return 0, nil
	}

	stmt, err := tx.PreparexContext(
		ctx,
		`INSERT INTO messages (folder_id, uid, subject, from_addr, message_id, date, size, flags, seen, modseq, body_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (folder_id, uid) DO UPDATE SET
			subject = excluded.subject,
			from_addr = excluded.from_addr,
			message_id = excluded.message_id,
			date = excluded.date,
			size = excluded.size,
			flags = excluded.flags,
			seen = excluded.seen,
			modseq = excluded.modseq,
			body_ref = excluded.body_ref
		WHERE messages.subject != excluded.subject
			OR messages.from_addr != excluded.from_addr
			OR messages.message_id != excluded.message_id
			OR messages.date != excluded.date
			OR messages.size != excluded.size
			OR messages.flags != excluded.flags
			OR messages.modseq != excluded.modseq
			OR messages.body_ref != excluded.body_ref`,
	)
	if err != nil {
		return 0, fmt.Errorf("could not prepare statement: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, h := range headers {
		result, err := stmt.ExecContext(
			ctx,
			int64(id), h.Uid, h.Subject, h.From, h.MessageId, unixDate(h.Date), h.Size, joinFlags(h.Flags), h.Seen(), h.ModSeq, h.BodyRef,
		)
		if err != nil {
			return 0, fmt.Errorf("could not save header %d: %w", h.Uid, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("could not get num of affected rows: %w", err)
		}
		written += int(affected)
	}

	if written > 0 {
		if err := recount(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	return written, nil
}

func (p *Persistence) GetHeaderRange(ctx context.Context, id domain.FolderID, r domain.Range) ([]*domain.MessageHeader, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = -1
	}

	dbMessages := []dbMessage{}
	err := p.db.SelectContext(
		ctx, &dbMessages,
		`SELECT `+messageColumns+` FROM messages WHERE folder_id = ? ORDER BY uid DESC LIMIT ? OFFSET ?`,
		int64(id), limit, r.Offset,
	)
	if err != nil {
		return nil, storeError("get header range", fmt.Errorf("could not query db: %w", err))
	}

	headers := make([]*domain.MessageHeader, 0, len(dbMessages))
	for i := range dbMessages {
		headers = append(headers, dbMessages[i].toDomain())
	}
	return headers, nil
}

func (p *Persistence) GetHeader(ctx context.Context, id domain.FolderID, uid uint32) (*domain.MessageHeader, error) {
	message := dbMessage{}
	err := p.db.GetContext(ctx, &message, `SELECT `+messageColumns+` FROM messages WHERE folder_id = ? AND uid = ?`, int64(id), uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get header", fmt.Errorf("could not query db: %w", err))
	}
	return message.toDomain(), nil
}

func (p *Persistence) ListUids(ctx context.Context, id domain.FolderID) ([]uint32, error) {
	uids := []uint32{}
	err := p.db.SelectContext(ctx, &uids, `SELECT uid FROM messages WHERE folder_id = ? ORDER BY uid`, int64(id))
	if err != nil {
		return nil, storeError("list uids", fmt.Errorf("could not query db: %w", err))
	}
	return uids, nil
}

// SetFlags replaces the flags of one cached message and reports whether they
// differed.
func (p *Persistence) SetFlags(ctx context.Context, id domain.FolderID, uid uint32, flags []string) (bool, error) {
	joined := joinFlags(flags)
	changed := false
	err := p.inTx(ctx, "set flags", func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE messages SET flags = ?, seen = ? WHERE folder_id = ? AND uid = ? AND flags != ?`,
			joined, domain.HasFlag(flags, domain.SeenFlag), int64(id), uid, joined,
		)
		if err != nil {
			return fmt.Errorf("could not update flags: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("could not get num of affected rows: %w", err)
		}
		if affected == 0 {
			return nil
		}

		changed = true
		return recount(ctx, tx, id)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// RemoveMessages deletes the given UIDs and returns those that were cached.
func (p *Persistence) RemoveMessages(ctx context.Context, id domain.FolderID, uids []uint32) ([]uint32, error) {
	removed := []uint32{}
	if len(uids) == 0 {
		return removed, nil
	}

	err := p.inTx(ctx, "remove messages", func(tx *sqlx.Tx) error {
		for _, partition := range partitionUids(uids, maxVariables) {
			qry, args, err := sqlx.In(`SELECT uid FROM messages WHERE folder_id = ? AND uid IN (?) ORDER BY uid`, int64(id), partition)
			if err != nil {
				return fmt.Errorf("could not replace IN in query: %w", err)
			}
			existing := []uint32{}
			if err := tx.SelectContext(ctx, &existing, qry, args...); err != nil {
				return fmt.Errorf("could not query db: %w", err)
			}
			if len(existing) == 0 {
				continue
			}

			qry, args, err = sqlx.In(`DELETE FROM messages WHERE folder_id = ? AND uid IN (?)`, int64(id), existing)
			if err != nil {
				return fmt.Errorf("could not replace IN in query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, qry, args...); err != nil {
				return fmt.Errorf("could not delete messages: %w", err)
			}
			removed = append(removed, existing...)
		}

		if len(removed) == 0 {
			return nil
		}
		return recount(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		p.l.WithFields(logrus.Fields{"folder": id, "removed": len(removed)}).Debug("Removed messages")
	}
	return removed, nil
}

// PurgeFolder drops every cached message and the cursor of the folder and
// resets its watermarks. It returns the UIDs that were cached.
func (p *Persistence) PurgeFolder(ctx context.Context, id domain.FolderID) ([]uint32, error) {
	removed := []uint32{}
	err := p.inTx(ctx, "purge folder", func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &removed, `SELECT uid FROM messages WHERE folder_id = ? ORDER BY uid`, int64(id)); err != nil {
			return fmt.Errorf("could not query db: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE folder_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("could not delete messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_cursors WHERE folder_id = ?`, int64(id)); err != nil {
			return fmt.Errorf("could not delete cursor: %w", err)
		}
		_, err := tx.ExecContext(
			ctx,
			`UPDATE folders SET uid_next = 0, highest_modseq = 0, message_count = 0, unread_count = 0 WHERE id = ?`,
			int64(id),
		)
		if err != nil {
			return fmt.Errorf("could not reset folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.l.WithFields(logrus.Fields{"folder": id, "removed": len(removed)}).Info("Purged folder")
	return removed, nil
}

func (p *Persistence) SaveBody(ctx context.Context, id domain.FolderID, uid uint32, body []byte) error {
	result, err := p.db.ExecContext(
		ctx,
		`INSERT INTO bodies (message_id, body)
		SELECT id, ? FROM messages WHERE folder_id = ? AND uid = ?
		ON CONFLICT (message_id) DO UPDATE SET body = excluded.body`,
		body, int64(id), uid,
	)
	if err != nil {
		return storeError("save body", fmt.Errorf("could not save body: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeError("save body", fmt.Errorf("could not get num of affected rows: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("message %d is not cached in folder %d", uid, id)
	}
	return nil
}

// GetBody returns nil when the body has not been fetched yet.
func (p *Persistence) GetBody(ctx context.Context, id domain.FolderID, uid uint32) ([]byte, error) {
	var body []byte
	err := p.db.GetContext(
		ctx, &body,
		`SELECT b.body FROM bodies b JOIN messages m ON m.id = b.message_id WHERE m.folder_id = ? AND m.uid = ?`,
		int64(id), uid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get body", fmt.Errorf("could not query db: %w", err))
	}
	return body, nil
}
