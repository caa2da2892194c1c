package importer

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/folio/content"
)

const legacySchema = `
CREATE TABLE posts (
    slug TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    date TEXT NOT NULL,
    tags TEXT NOT NULL,
    summary TEXT NOT NULL,
    content TEXT NOT NULL,
    published INTEGER NOT NULL DEFAULT 1
);`

type legacyRow struct {
	slug, title, date, tags, summary, body string
	published                              int
}

func newLegacyDB(t *testing.T, schema string, rows ...legacyRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)
	for _, r := range rows {
		if schema == legacySchema {
			_, err = db.Exec(`INSERT INTO posts (slug, title, date, tags, summary, content, published) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.slug, r.title, r.date, r.tags, r.summary, r.body, r.published)
		} else {
			_, err = db.Exec(`INSERT INTO posts (slug, title, date, tags, summary, content) VALUES (?, ?, ?, ?, ?, ?)`,
				r.slug, r.title, r.date, r.tags, r.summary, r.body)
		}
		require.NoError(t, err)
	}
	return path
}

func newRepo(t *testing.T) *content.Repository {
	t.Helper()
	root := t.TempDir()
	return content.NewRepository(content.Layout{
		EntriesFile: filepath.Join(root, "data", "posts.json"),
		SidecarFile: filepath.Join(root, "data", "exif.json"),
		BodyDir:     filepath.Join(root, "data", "content"),
		UploadsDir:  filepath.Join(root, "uploads"),
		UploadsURL:  "/uploads/",
	})
}

func runImport(t *testing.T, repo *content.Repository, dbPath string) Report {
	t.Helper()
	src, err := OpenSource(dbPath)
	require.NoError(t, err)
	defer src.Close()
	rep, err := New(repo, nil).Run(context.Background(), src)
	require.NoError(t, err)
	return rep
}

func TestRunImportsPostsAndBodies(t *testing.T) {
	ctx := context.Background()
	dbPath := newLegacyDB(t, legacySchema,
		legacyRow{"hello-world", "Hello World", "2024-01-15", ",go,web,", "First post", "# Hi\n\nSome **bold** text.", 1},
		legacyRow{"wip", "Work in progress", "2024-02-01 09:30", "", "", "draft body", 0},
	)
	repo := newRepo(t)

	rep := runImport(t, repo, dbPath)
	assert.Equal(t, []string{"hello-world", "wip"}, rep.Imported)
	assert.Empty(t, rep.Skipped)
	assert.Empty(t, rep.Failed)

	hello, err := repo.GetBySlug(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", hello.Title)
	assert.Equal(t, "2024-01-15", hello.Date)
	assert.Equal(t, content.StatusPublished, hello.Status)
	assert.Equal(t, []string{"go", "web"}, hello.Categories)
	require.NotNil(t, hello.SEO)
	assert.Equal(t, "First post", hello.SEO.Description)

	body, err := repo.Body(ctx, hello.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1><p>Some <strong>bold</strong> text.</p>", body)

	wip, err := repo.GetBySlug(ctx, "wip")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", wip.Date)
	assert.Equal(t, content.StatusDraft, wip.Status)
	assert.Nil(t, wip.SEO)
}

func TestRunSkipsExistingSlugs(t *testing.T) {
	dbPath := newLegacyDB(t, legacySchema,
		legacyRow{"a", "A", "2024-01-01", "", "", "a", 1},
		legacyRow{"b", "B", "2024-01-02", "", "", "b", 1},
	)
	repo := newRepo(t)

	first := runImport(t, repo, dbPath)
	assert.Len(t, first.Imported, 2)

	second := runImport(t, repo, dbPath)
	assert.Empty(t, second.Imported)
	assert.Equal(t, []string{"a", "b"}, second.Skipped)

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunReportsRejectedPosts(t *testing.T) {
	dbPath := newLegacyDB(t, legacySchema,
		legacyRow{"bad-date", "Bad", "someday", "", "", "", 1},
		legacyRow{"good", "Good", "2024-05-05", "", "", "", 1},
	)
	repo := newRepo(t)

	rep := runImport(t, repo, dbPath)
	assert.Equal(t, []string{"good"}, rep.Imported)
	assert.Contains(t, rep.Failed, "bad-date")
}

func TestPostsWithoutPublishedColumn(t *testing.T) {
	schema := `CREATE TABLE posts (slug TEXT PRIMARY KEY, title TEXT, date TEXT, tags TEXT, summary TEXT, content TEXT);`
	dbPath := newLegacyDB(t, schema, legacyRow{slug: "old", title: "Old", date: "2020-01-01", tags: ",x,"})

	src, err := OpenSource(dbPath)
	require.NoError(t, err)
	defer src.Close()

	posts, err := src.Posts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.True(t, posts[0].Published)
	assert.Equal(t, []string{"x"}, posts[0].Tags)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{",go,web,", []string{"go", "web"}},
		{"", nil},
		{",,", nil},
		{" Go , WEB ", []string{"go", "web"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.in), "ParseTags(%q)", tt.in)
	}
}

func TestLegacyDate(t *testing.T) {
	assert.Equal(t, "2024-01-15", legacyDate("2024-01-15"))
	assert.Equal(t, "2024-01-15", legacyDate("2024-01-15T10:00:00Z"))
	assert.Equal(t, "2024-01-15", legacyDate("2024-01-15 10:00"))
	assert.Equal(t, "someday", legacyDate("someday"))
}
