package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eringen/folio/docstore"
)

const testUploadsURL = "/uploads/posts"

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		EntriesFile: filepath.Join(root, "data", "posts.json"),
		SidecarFile: filepath.Join(root, "data", "exif.json"),
		BodyDir:     filepath.Join(root, "data", "content"),
		UploadsDir:  filepath.Join(root, "public", "uploads", "posts"),
		UploadsURL:  testUploadsURL,
	}
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	return NewRepository(testLayout(t), WithClock(clock))
}

// seedUpload writes a file into the upload directory of e and returns its URL.
func seedUpload(t *testing.T, r *Repository, e Entry, sub Subfolder, name, data string) string {
	t.Helper()
	dir := r.Layout().UploadDir(e.Key(), sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	return r.Layout().FileURL(e.Key(), sub, name)
}

func ptr[T any](v T) *T { return &v }

func TestCreateAssignsDefaults(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	e, err := r.Create(ctx, Entry{Title: "Morning Light, Lisbon"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "2024-03-09", e.Date)
	assert.Equal(t, "morning-light-lisbon", e.Slug)
	assert.Equal(t, StatusDraft, e.Status)

	untitled, err := r.Create(ctx, Entry{ID: "caller-chosen"})
	require.NoError(t, err)
	assert.NotEqual(t, "caller-chosen", untitled.ID)
	assert.True(t, strings.HasPrefix(untitled.Slug, "entry-"), "slug %q", untitled.Slug)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, e.ID, list[0].ID)
	assert.Equal(t, untitled.ID, list[1].ID)
}

func TestCreateRejectsMalformedDate(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.Create(context.Background(), Entry{Title: "x", Date: "../../etc"})
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestGetAndGetBySlug(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Dunes", Date: "2023-11-02"})
	require.NoError(t, err)

	got, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	got, err = r.GetBySlug(ctx, "dunes")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetBySlug(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMergesShallowly(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{
		Title:      "Harbour",
		Date:       "2024-01-01",
		Categories: []string{"travel", "sea"},
		Gallery:    []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
	})
	require.NoError(t, err)

	res, err := r.Update(ctx, e.ID, Patch{
		Title:   ptr("Harbour at Dusk"),
		Gallery: ptr([]string{"https://cdn.example.com/c.jpg"}),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Relocation)
	assert.Equal(t, "Harbour at Dusk", res.Entry.Title)
	assert.Equal(t, []string{"https://cdn.example.com/c.jpg"}, res.Entry.Gallery)
	assert.Equal(t, []string{"travel", "sea"}, res.Entry.Categories)
	assert.Equal(t, e.Slug, res.Entry.Slug)

	stored, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Entry, stored)
}

func TestUpdateUnknownID(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.Update(context.Background(), "nope", Patch{Title: ptr("x")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEmptySlugFallsBackToToken(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Fog", Date: "2024-02-02"})
	require.NoError(t, err)

	res, err := r.Update(ctx, e.ID, Patch{Slug: ptr("  ")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Entry.Slug, "entry-"), "slug %q", res.Entry.Slug)
	require.NotNil(t, res.Relocation)
}

func TestUpdateRejectsMalformedDate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Fog", Date: "2024-02-02"})
	require.NoError(t, err)

	_, err = r.Update(ctx, e.ID, Patch{Date: ptr("02/02/2024")})
	require.ErrorIs(t, err, ErrInvalidEntry)

	stored, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-02", stored.Date)
}

func TestUpdateSameKeyDoesNotRelocate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Old Slug", Date: "2024-01-01"})
	require.NoError(t, err)
	url := seedUpload(t, r, e, Gallery, "a.webp", "img")
	_, err = r.Update(ctx, e.ID, Patch{Gallery: ptr([]string{url})})
	require.NoError(t, err)

	res, err := r.Update(ctx, e.ID, Patch{Date: ptr("2024-01-01"), Slug: ptr("old-slug")})
	require.NoError(t, err)
	assert.Nil(t, res.Relocation)
	assert.Equal(t, []string{url}, res.Entry.Gallery)
	assert.DirExists(t, r.Layout().EntryDir(e.Key()))
}

func TestUpdateSlugRelocatesEverything(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "x", Date: "2024-01-01", Slug: "old-slug"})
	require.NoError(t, err)

	galleryURL := seedUpload(t, r, e, Gallery, "a.webp", "img")
	thumbURL := seedUpload(t, r, e, Featured, "cover.webp", "cover")
	external := "https://cdn.example.com/elsewhere.jpg"
	_, err = r.Update(ctx, e.ID, Patch{
		Thumbnail: ptr(thumbURL),
		Gallery:   ptr([]string{galleryURL, external}),
		GalleryMetadata: ptr(map[string]GalleryItem{
			galleryURL: {Title: "A"},
			external:   {Title: "External"},
		}),
	})
	require.NoError(t, err)
	require.NoError(t, r.Sidecar().Put(ctx, galleryURL, CaptureMetadata{Camera: "X100V", ISO: 200}))
	require.NoError(t, r.SaveBody(ctx, e.ID, "<p>hello</p>"))

	res, err := r.Update(ctx, e.ID, Patch{Slug: ptr("new-slug")})
	require.NoError(t, err)
	require.NotNil(t, res.Relocation)
	assert.Empty(t, res.Warnings())
	assert.True(t, res.Relocation.DirMoved)
	assert.True(t, res.Relocation.BodyMoved)
	assert.Equal(t, 1, res.Relocation.SidecarKeys)
	assert.Equal(t, "2024-01-01-old-slug", res.Relocation.From)
	assert.Equal(t, "2024-01-01-new-slug", res.Relocation.To)

	newGallery := testUploadsURL + "/2024-01-01-new-slug/gallery/a.webp"
	newThumb := testUploadsURL + "/2024-01-01-new-slug/featured/cover.webp"
	assert.Equal(t, newThumb, res.Entry.Thumbnail)
	assert.Equal(t, []string{newGallery, external}, res.Entry.Gallery)
	assert.Equal(t, map[string]GalleryItem{
		newGallery: {Title: "A"},
		external:   {Title: "External"},
	}, res.Entry.GalleryMetadata)

	layout := r.Layout()
	assert.NoDirExists(t, layout.EntryDir(Key{Date: "2024-01-01", Slug: "old-slug"}))
	assert.FileExists(t, filepath.Join(layout.EntryDir(Key{Date: "2024-01-01", Slug: "new-slug"}), "gallery", "a.webp"))

	meta, ok, err := r.Sidecar().Get(ctx, newGallery)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X100V", meta.Camera)
	_, ok, err = r.Sidecar().Get(ctx, galleryURL)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoFileExists(t, layout.BodyPath("old-slug"))
	body, err := r.Body(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>hello</p>", body)

	stored, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Entry, stored)
}

func TestUpdateDateRelocatesWithoutMovingBody(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Pines", Date: "2024-01-01"})
	require.NoError(t, err)
	url := seedUpload(t, r, e, Gallery, "p.jpg", "img")
	_, err = r.Update(ctx, e.ID, Patch{Gallery: ptr([]string{url})})
	require.NoError(t, err)
	require.NoError(t, r.SaveBody(ctx, e.ID, "body"))

	res, err := r.Update(ctx, e.ID, Patch{Date: ptr("2024-05-05")})
	require.NoError(t, err)
	require.NotNil(t, res.Relocation)
	assert.False(t, res.Relocation.BodyMoved)
	assert.Equal(t, []string{testUploadsURL + "/2024-05-05-pines/gallery/p.jpg"}, res.Entry.Gallery)
	assert.FileExists(t, r.Layout().BodyPath("pines"))
}

func TestUpdateWithoutUploadDirectoryStillRewritesFields(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Empty", Date: "2024-01-01"})
	require.NoError(t, err)
	stale := r.Layout().FileURL(e.Key(), Gallery, "ghost.jpg")
	_, err = r.Update(ctx, e.ID, Patch{Gallery: ptr([]string{stale})})
	require.NoError(t, err)

	res, err := r.Update(ctx, e.ID, Patch{Slug: ptr("renamed")})
	require.NoError(t, err)
	require.NotNil(t, res.Relocation)
	assert.False(t, res.Relocation.DirMoved)
	assert.Equal(t, []string{testUploadsURL + "/2024-01-01-renamed/gallery/ghost.jpg"}, res.Entry.Gallery)
	assert.NoDirExists(t, r.Layout().EntryDir(res.Entry.Key()))
}

func TestUpdateRejectedWhenTargetDirectoryOccupied(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a, err := r.Create(ctx, Entry{Title: "First", Date: "2024-01-01"})
	require.NoError(t, err)
	b, err := r.Create(ctx, Entry{Title: "Second", Date: "2024-01-01"})
	require.NoError(t, err)
	urlA := seedUpload(t, r, a, Gallery, "a.jpg", "a")
	seedUpload(t, r, b, Gallery, "b.jpg", "b")
	_, err = r.Update(ctx, a.ID, Patch{Gallery: ptr([]string{urlA})})
	require.NoError(t, err)
	before, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)

	_, err = r.Update(ctx, a.ID, Patch{Slug: ptr("second"), Title: ptr("changed")})
	require.ErrorIs(t, err, ErrRelocationFailed)
	var relErr *RelocationError
	require.True(t, errors.As(err, &relErr))
	assert.Equal(t, "2024-01-01-first", relErr.From)
	assert.Equal(t, "2024-01-01-second", relErr.To)

	after, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	stored, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Slug)
	assert.Equal(t, "First", stored.Title)
	assert.Equal(t, []string{urlA}, stored.Gallery)
	assert.FileExists(t, filepath.Join(r.Layout().UploadDir(a.Key(), Gallery), "a.jpg"))
	assert.FileExists(t, filepath.Join(r.Layout().UploadDir(b.Key(), Gallery), "b.jpg"))
	assert.NoFileExists(t, filepath.Join(r.Layout().UploadDir(b.Key(), Gallery), "a.jpg"))
}

func TestRelocationSidecarFailureIsAWarning(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Cliffs", Date: "2024-01-01"})
	require.NoError(t, err)
	url := seedUpload(t, r, e, Gallery, "c.jpg", "img")
	_, err = r.Update(ctx, e.ID, Patch{Gallery: ptr([]string{url})})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.Layout().SidecarFile, []byte("{broken"), 0o644))

	res, err := r.Update(ctx, e.ID, Patch{Slug: ptr("cliffs-2")})
	require.NoError(t, err)
	require.Len(t, res.Warnings(), 1)
	assert.Equal(t, []string{testUploadsURL + "/2024-01-01-cliffs-2/gallery/c.jpg"}, res.Entry.Gallery)
	assert.DirExists(t, r.Layout().EntryDir(res.Entry.Key()))

	raw, err := os.ReadFile(r.Layout().SidecarFile)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(raw))
}

func TestDeleteCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	keep, err := r.Create(ctx, Entry{Title: "Keep", Date: "2024-01-01"})
	require.NoError(t, err)
	e, err := r.Create(ctx, Entry{Title: "Gone", Date: "2024-01-01"})
	require.NoError(t, err)

	url := seedUpload(t, r, e, Gallery, "g.jpg", "img")
	keepURL := seedUpload(t, r, keep, Gallery, "k.jpg", "img")
	require.NoError(t, r.Sidecar().Put(ctx, url, CaptureMetadata{ISO: 100}))
	require.NoError(t, r.Sidecar().Put(ctx, keepURL, CaptureMetadata{ISO: 400}))
	require.NoError(t, r.SaveBody(ctx, e.ID, "bye"))

	require.NoError(t, r.Delete(ctx, e.ID))

	_, err = r.Get(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, r.Layout().EntryDir(e.Key()))
	assert.NoFileExists(t, r.Layout().BodyPath(e.Slug))
	all, err := r.Sidecar().All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]CaptureMetadata{keepURL: {ISO: 400}}, all)
	assert.DirExists(t, r.Layout().EntryDir(keep.Key()))

	require.NoError(t, r.Delete(ctx, e.ID))
	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeleteLastEntryLeavesEmptyArray(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Only"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, e.ID))

	raw, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

// Two entries may share a (date, slug) pair; nothing rejects it, and they
// then share one upload directory. Deleting either removes it for both.
func TestDuplicateKeysShareDirectory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a, err := r.Create(ctx, Entry{Title: "Twin", Date: "2024-06-01"})
	require.NoError(t, err)
	b, err := r.Create(ctx, Entry{Title: "Twin", Date: "2024-06-01"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, r.Layout().EntryDir(a.Key()), r.Layout().EntryDir(b.Key()))

	seedUpload(t, r, b, Gallery, "b.jpg", "img")
	require.NoError(t, r.Delete(ctx, a.ID))
	assert.NoDirExists(t, r.Layout().EntryDir(b.Key()))
}

// Body files are addressed by slug alone, so same-slug entries on different
// dates read and write the same body.
func TestSameSlugSharesBody(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a, err := r.Create(ctx, Entry{Title: "Notes", Date: "2023-01-01"})
	require.NoError(t, err)
	b, err := r.Create(ctx, Entry{Title: "Notes", Date: "2024-01-01"})
	require.NoError(t, err)

	require.NoError(t, r.SaveBody(ctx, a.ID, "from a"))
	body, err := r.Body(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "from a", body)
}

func TestBodyOfEntryWithoutContent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Blank"})
	require.NoError(t, err)

	body, err := r.Body(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, body)

	_, err = r.Body(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPruneSidecarDropsOrphans(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Kept", Date: "2024-01-01"})
	require.NoError(t, err)
	url := r.Layout().FileURL(e.Key(), Gallery, "k.jpg")
	_, err = r.Update(ctx, e.ID, Patch{Gallery: ptr([]string{url})})
	require.NoError(t, err)

	require.NoError(t, r.Sidecar().Put(ctx, url, CaptureMetadata{ISO: 100}))
	require.NoError(t, r.Sidecar().Put(ctx, testUploadsURL+"/2020-01-01-old/gallery/x.jpg", CaptureMetadata{ISO: 800}))

	n, err := r.PruneSidecar(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := r.Sidecar().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, url)
}

func TestConcurrentCreates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	const n = 25
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := r.Create(ctx, Entry{Title: fmt.Sprintf("Post %d", i)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, n)
}

func TestPruneSidecarKeepsKeysWhoseFileExists(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Inline", Date: "2024-01-02"})
	require.NoError(t, err)

	// Content files are never listed on the entry, but their file is live.
	url := seedUpload(t, r, e, ContentFolder, "inline.jpg", "img")
	require.NoError(t, r.Sidecar().Put(ctx, url, CaptureMetadata{Width: 10, Height: 10}))

	n, err := r.PruneSidecar(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok, err := r.Sidecar().Get(ctx, url)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPruneSidecarKeepsKeysRemappedByRelocation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Before", Date: "2024-01-03"})
	require.NoError(t, err)
	url := seedUpload(t, r, e, Gallery, "a.jpg", "img")
	require.NoError(t, r.Sidecar().Put(ctx, url, CaptureMetadata{ISO: 100}))

	res, err := r.Update(ctx, e.ID, Patch{Slug: ptr("after")})
	require.NoError(t, err)
	newURL := r.Layout().FileURL(res.Entry.Key(), Gallery, "a.jpg")

	// The entry does not list the file, so only the file on disk keeps it.
	n, err := r.PruneSidecar(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, ok, err := r.Sidecar().Get(ctx, newURL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAttachConcurrentGalleryUploads(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Busy", Date: "2024-01-04"})
	require.NoError(t, err)

	const uploads = 16
	var g errgroup.Group
	for i := 0; i < uploads; i++ {
		i := i
		g.Go(func() error {
			url := r.Layout().FileURL(e.Key(), Gallery, fmt.Sprintf("%02d.jpg", i))
			_, err := r.Attach(ctx, e.ID, e.Key(), Gallery, []string{url})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := r.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, got.Gallery, uploads)
}

func TestAttachFeaturedAndDuplicates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Cover", Date: "2024-01-05"})
	require.NoError(t, err)
	a := r.Layout().FileURL(e.Key(), Gallery, "a.jpg")

	_, err = r.Attach(ctx, e.ID, e.Key(), Gallery, []string{a})
	require.NoError(t, err)
	got, err := r.Attach(ctx, e.ID, e.Key(), Gallery, []string{a})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, got.Gallery)

	cover := r.Layout().FileURL(e.Key(), Featured, "cover.jpg")
	got, err = r.Attach(ctx, e.ID, e.Key(), Featured, []string{cover})
	require.NoError(t, err)
	assert.Equal(t, cover, got.Thumbnail)

	_, err = r.Attach(ctx, "missing", e.Key(), Gallery, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAttachRejectsStaleKey(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Moving", Date: "2024-01-06"})
	require.NoError(t, err)
	_, err = r.Update(ctx, e.ID, Patch{Slug: ptr("moved")})
	require.NoError(t, err)
	before, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)

	stale := r.Layout().FileURL(e.Key(), Gallery, "late.jpg")
	_, err = r.Attach(ctx, e.ID, e.Key(), Gallery, []string{stale})
	require.ErrorIs(t, err, ErrKeyChanged)

	after, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestUpdateRestoresDirectoryWhenWriteFails(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Stay", Date: "2024-01-07"})
	require.NoError(t, err)
	seedUpload(t, r, e, Gallery, "a.jpg", "img")
	before, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)

	// Reopen the primary document so every commit is refused after the
	// transform, i.e. after the directory has been moved.
	refused := errors.New("disk full")
	r.entries = docstore.Open(r.Layout().EntriesFile,
		docstore.WithDefault(newEntryList),
		docstore.WithValidate(func([]Entry) error { return refused }),
	)

	_, err = r.Update(ctx, e.ID, Patch{Slug: ptr("gone")})
	require.ErrorIs(t, err, refused)

	oldDir := r.Layout().EntryDir(e.Key())
	newDir := r.Layout().EntryDir(Key{Date: e.Date, Slug: "gone"})
	assert.FileExists(t, filepath.Join(oldDir, "gallery", "a.jpg"))
	assert.NoDirExists(t, newDir)

	after, err := os.ReadFile(r.Layout().EntriesFile)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestConcurrentBodySaves(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	e, err := r.Create(ctx, Entry{Title: "Body"})
	require.NoError(t, err)

	const writers = 50
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			return r.SaveBody(ctx, e.ID, fmt.Sprintf("<p>%d</p>", i))
		})
	}
	require.NoError(t, g.Wait())

	body, err := r.Body(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "<p>"), body)

	leftovers, err := filepath.Glob(filepath.Join(r.Layout().BodyDir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
