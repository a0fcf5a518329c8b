// SPDX-License-Identifier: GPL-3.0-or-later
package migrations

import (
	"embed"
	"fmt"
	"sort"

	"github.com/rubenv/sql-migrate"
)

// Full text index flavours. mattn/go-sqlite3 ships FTS4 by default,
// modernc.org/sqlite only FTS5.
const (
	FTS4 = "fts4"
	FTS5 = "fts5"
)

//go:embed sql
var files embed.FS

// Source returns the schema migrations followed by the search index
// migrations of the given full text flavour.
func Source(fullText string) migrate.MigrationSource {
	return &source{fullText: fullText}
}

type source struct {
	fullText string
}

func (s *source) FindMigrations() ([]*migrate.Migration, error) {
	if s.fullText != FTS4 && s.fullText != FTS5 {
		return nil, fmt.Errorf("unknown full text index %q", s.fullText)
	}

	migrations := []*migrate.Migration{}
	for _, root := range []string{"sql", "sql/" + s.fullText} {
		found, err := (&migrate.EmbedFileSystemMigrationSource{FileSystem: files, Root: root}).FindMigrations()
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, found...)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Less(migrations[j]) })
	return migrations, nil
}
