// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/persistence/migrations"

	"github.com/sirupsen/logrus"
)

// matchExpression turns free text into a full text query: every word becomes
// a quoted prefix term, all of which must match. FTS5 puts the prefix marker
// behind the closing quote.
func matchExpression(query string, fullText string) string {
	terms := []string{}
	for _, word := range strings.Fields(query) {
		word = strings.Map(func(r rune) rune {
			switch r {
			case '"', '*', '(', ')', ':', '^':
				return -1
			}
			return r
		}, word)
		if word == "" {
			continue
		}
		if fullText == migrations.FTS5 {
			terms = append(terms, `"`+word+`"*`)
		} else {
			terms = append(terms, `"`+word+`*"`)
		}
	}
	return strings.Join(terms, " ")
}

// Search looks up cached headers of the account whose subject or sender
// match query, newest first.
func (p *Persistence) Search(ctx context.Context, accountId string, query string, limit int) ([]*domain.SearchResult, error) {
	expression := matchExpression(query, p.fullText)
	if expression == "" {
		return []*domain.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	rows := []struct {
		FolderId int64 `db:"folder_id"`
		dbMessage
	}{}
	err := p.db.SelectContext(
		ctx, &rows,
		`SELECT m.folder_id, m.uid, m.subject, m.from_addr, m.message_id, m.date, m.size, m.flags, m.modseq, m.body_ref
		FROM messages m
		JOIN folders f ON f.id = m.folder_id
		WHERE m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?) AND f.account_id = ?
		ORDER BY m.date DESC, m.uid DESC
		LIMIT ?`,
		expression, accountId, limit,
	)
	if err != nil {
		return nil, storeError("search", fmt.Errorf("could not query db: %w", err))
	}

	results := make([]*domain.SearchResult, 0, len(rows))
	for i := range rows {
		results = append(results, &domain.SearchResult{
			Folder: domain.FolderID(rows[i].FolderId),
			Header: rows[i].dbMessage.toDomain(),
		})
	}

	p.l.WithFields(logrus.Fields{"account": accountId, "results": len(results)}).Debug("Searched headers")
	return results, nil
}
