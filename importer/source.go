// Package importer moves posts from a legacy SQLite blog database into the
// flat-file content store.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Post is one row of the legacy posts table.
type Post struct {
	Slug      string
	Title     string
	Date      string
	Tags      []string
	Summary   string
	Content   string
	Published bool
}

// Source reads a legacy database. It never writes to it.
type Source struct {
	db *sql.DB
}

// OpenSource opens the SQLite database at path. A missing file is an error
// rather than a new empty database.
func OpenSource(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("importer: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Source{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// hasPublished reports whether the posts table carries the published column,
// which older databases lack.
func (s *Source) hasPublished(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM pragma_table_info('posts') WHERE name = 'published'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("importer: inspect posts table: %w", err)
	}
	return n > 0, nil
}

// Posts returns every post, drafts included, oldest first.
func (s *Source) Posts(ctx context.Context) ([]Post, error) {
	withPublished, err := s.hasPublished(ctx)
	if err != nil {
		return nil, err
	}
	published := "1"
	if withPublished {
		published = "published"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT slug, title, date, tags, summary, content, `+published+` FROM posts ORDER BY date ASC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("importer: query posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		var tags string
		var pub int
		if err := rows.Scan(&p.Slug, &p.Title, &p.Date, &tags, &p.Summary, &p.Content, &pub); err != nil {
			return nil, err
		}
		p.Tags = ParseTags(tags)
		p.Published = pub == 1
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ParseTags splits a comma-delimited tag string (e.g. ",go,web,") into a slice.
func ParseTags(tagString string) []string {
	var tags []string
	for _, t := range strings.Split(tagString, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
