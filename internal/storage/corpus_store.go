/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VerseRow is one corpus row as stored
type VerseRow struct {
	BookNumber int
	Book       string
	Chapter    int
	Verse      int
	Text       string
	Version    string
}

// CorpusStore reads translations out of the super_bible table
type CorpusStore struct {
	db       *Database
	language string
}

// NewCorpusStore creates a store scoped to one language code
func NewCorpusStore(db *Database, language string) *CorpusStore {
	if language == "" {
		language = "EN"
	}
	return &CorpusStore{db: db, language: language}
}

// Versions lists the translations present for the store's language
func (s *CorpusStore) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT DISTINCT version FROM super_bible WHERE language = ? ORDER BY version`, s.language)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

// LoadVersion returns every row of version in book, chapter, verse order
func (s *CorpusStore) LoadVersion(ctx context.Context, version string) ([]VerseRow, error) {
	start := time.Now()
	query := `
		SELECT book, title, chapter, verse, text
		FROM super_bible
		WHERE version = ? AND language = ?
		ORDER BY book, chapter, verse`

	rows, err := s.db.DB().QueryContext(ctx, query, version, s.language)
	if err != nil {
		return nil, fmt.Errorf("failed to query version %s: %w", version, err)
	}
	defer rows.Close()

	var verses []VerseRow
	for rows.Next() {
		r := VerseRow{Version: version}
		if err := rows.Scan(&r.BookNumber, &r.Book, &r.Chapter, &r.Verse, &r.Text); err != nil {
			return nil, fmt.Errorf("failed to scan verse: %w", err)
		}
		verses = append(verses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verses: %w", err)
	}

	logRows("SELECT", len(verses), zap.String("version", version), zap.Duration("elapsed", time.Since(start)))
	return verses, nil
}

// InsertVerses writes rows in one transaction. Only writable databases
// accept it; the service itself opens the corpus read-only.
func (s *CorpusStore) InsertVerses(ctx context.Context, verses []VerseRow) error {
	if s.db.ReadOnly() {
		return fmt.Errorf("corpus database is read-only")
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO super_bible (book, title, chapter, verse, text, version, language)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range verses {
		if _, err := stmt.ExecContext(ctx, v.BookNumber, v.Book, v.Chapter, v.Verse, v.Text, v.Version, s.language); err != nil {
			return fmt.Errorf("failed to insert %s %d:%d: %w", v.Book, v.Chapter, v.Verse, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verses: %w", err)
	}

	logRows("INSERT", len(verses))
	return nil
}
