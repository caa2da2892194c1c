// Package content implements the flat-file content store: the primary entry
// document, the capture-metadata sidecar, per-entry body files and the
// per-entry upload directories, kept consistent across edits that rename an
// entry.
package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eringen/folio/docstore"
)

// Repository provides CRUD operations over entries.
type Repository struct {
	layout  Layout
	entries *docstore.Document[[]Entry]
	sidecar *Sidecar
	bodies  *BodyStore
	reloc   *relocator
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Repository.
type Option func(*repoOptions)

type repoOptions struct {
	log      *zap.Logger
	now      func() time.Time
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *repoOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the clock used for default dates.
func WithClock(now func() time.Time) Option {
	return func(o *repoOptions) {
		o.now = now
	}
}

// WithLockRetry tunes the lock retry budget of both documents.
func WithLockRetry(attempts int, delay, maxDelay time.Duration) Option {
	return func(o *repoOptions) {
		o.attempts, o.delay, o.maxDelay = attempts, delay, maxDelay
	}
}

func newEntryList() []Entry { return []Entry{} }

// NewRepository opens the store described by layout.
func NewRepository(layout Layout, opts ...Option) *Repository {
	o := repoOptions{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	entries := docstore.Open(layout.EntriesFile,
		docstore.WithDefault(newEntryList),
		docstore.WithLogger[[]Entry](o.log),
		docstore.WithLockRetry[[]Entry](o.attempts, o.delay, o.maxDelay),
	)
	sidecar := OpenSidecar(layout.SidecarFile,
		docstore.WithLogger[map[string]CaptureMetadata](o.log),
		docstore.WithLockRetry[map[string]CaptureMetadata](o.attempts, o.delay, o.maxDelay),
	)
	bodies := NewBodyStore(layout)

	return &Repository{
		layout:  layout,
		entries: entries,
		sidecar: sidecar,
		bodies:  bodies,
		reloc:   &relocator{layout: layout, sidecar: sidecar, bodies: bodies, log: o.log},
		log:     o.log,
		now:     o.now,
	}
}

// Layout returns the on-disk layout of the store.
func (r *Repository) Layout() Layout {
	return r.layout
}

// Sidecar returns the capture-metadata document.
func (r *Repository) Sidecar() *Sidecar {
	return r.sidecar
}

// List returns every entry in document order.
func (r *Repository) List(ctx context.Context) ([]Entry, error) {
	return r.entries.Read(ctx)
}

// Get returns the entry with the given id.
func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	return r.find(ctx, func(e Entry) bool { return e.ID == id })
}

// GetBySlug returns the first entry, in document order, with the given slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (Entry, error) {
	return r.find(ctx, func(e Entry) bool { return e.Slug == slug })
}

func (r *Repository) find(ctx context.Context, match func(Entry) bool) (Entry, error) {
	list, err := r.entries.Read(ctx)
	if err != nil {
		return Entry{}, err
	}
	i := slices.IndexFunc(list, match)
	if i < 0 {
		return Entry{}, ErrNotFound
	}
	return list[i], nil
}

// Create appends a new entry built from fields. The id is always assigned
// here; a missing date defaults to today and a missing slug is derived from
// the title or generated.
func (r *Repository) Create(ctx context.Context, fields Entry) (Entry, error) {
	e := fields.clone()
	e.ID = uuid.NewString()
	if strings.TrimSpace(e.Date) == "" {
		e.Date = r.now().Format(dateLayout)
	}
	if !validDate(e.Date) {
		return Entry{}, invalid("date %q is not YYYY-MM-DD", e.Date)
	}
	e.Slug = Slugify(e.Slug)
	if e.Slug == "" {
		e.Slug = Slugify(e.Title)
	}
	if e.Slug == "" {
		e.Slug = newToken()
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}

	err := r.entries.Update(ctx, func(list []Entry) ([]Entry, error) {
		return append(list, e), nil
	})
	if err != nil {
		return Entry{}, err
	}
	r.log.Info("entry created", zap.String("id", e.ID), zap.String("dir", DirName(e.Key())))
	return e, nil
}

// UpdateResult is the outcome of Update. Relocation is nil when the
// identifying key did not change.
type UpdateResult struct {
	Entry      Entry       `json:"entry"`
	Relocation *Relocation `json:"relocation,omitempty"`
}

// Warnings returns the partial failures of a relocation, if any.
func (u UpdateResult) Warnings() []error {
	if u.Relocation == nil {
		return nil
	}
	return u.Relocation.Warnings
}

// Update merges patch into the entry with the given id. When the date or
// slug changes, the upload directory is moved before the new values are
// committed and every stored URL under the old directory is rewritten.
// A failed move rejects the whole update.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (UpdateResult, error) {
	type change struct {
		before, after Entry
		rel           *Relocation
	}

	var pending *change
	ch, err := docstore.Apply(ctx, r.entries, func(list []Entry) ([]Entry, *change, error) {
		i := slices.IndexFunc(list, func(e Entry) bool { return e.ID == id })
		if i < 0 {
			return nil, nil, ErrNotFound
		}
		before := list[i]
		after := before.clone()
		patch.apply(&after)

		after.ID = before.ID
		if patch.Date != nil {
			if strings.TrimSpace(after.Date) == "" {
				after.Date = before.Date
			}
			if !validDate(after.Date) {
				return nil, nil, invalid("date %q is not YYYY-MM-DD", after.Date)
			}
		}
		if patch.Slug != nil {
			after.Slug = Slugify(after.Slug)
		}
		if after.Slug == "" {
			after.Slug = newToken()
		}

		c := &change{before: before, after: after}
		if before.Key() != after.Key() {
			rel, err := r.reloc.moveDir(before.Key(), after.Key())
			if err != nil {
				return nil, nil, err
			}
			c.rel = rel
			pending = c
			rel.rewrite(&c.after)
		}

		list[i] = c.after
		return list, c, nil
	})
	if err != nil {
		// The document was not written; put the directory back where the
		// stored entry still expects it.
		if pending != nil {
			r.reloc.undo(pending.rel, pending.before.Key(), pending.after.Key())
		}
		if errors.Is(err, ErrRelocationFailed) {
			r.log.Warn("update rejected", zap.String("id", id), zap.Error(err))
		}
		return UpdateResult{}, err
	}

	res := UpdateResult{Entry: ch.after, Relocation: ch.rel}
	if ch.rel != nil {
		r.reloc.finish(ctx, ch.rel, ch.before.Key(), ch.after.Key())
	}
	return res, nil
}

// Delete removes the entry and then its upload directory, body file and
// sidecar keys. Deleting an unknown id is a no-op.
func (r *Repository) Delete(ctx context.Context, id string) error {
	removed, err := docstore.Apply(ctx, r.entries, func(list []Entry) ([]Entry, *Entry, error) {
		i := slices.IndexFunc(list, func(e Entry) bool { return e.ID == id })
		if i < 0 {
			return list, nil, nil
		}
		e := list[i]
		return slices.Delete(list, i, i+1), &e, nil
	})
	if err != nil {
		return err
	}
	if removed == nil {
		return nil
	}

	log := r.log.With(zap.String("id", id), zap.String("dir", DirName(removed.Key())))
	var errs []error
	if err := os.RemoveAll(r.layout.EntryDir(removed.Key())); err != nil {
		errs = append(errs, fmt.Errorf("remove uploads: %w", err))
	}
	if err := r.bodies.Remove(removed.Slug); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.sidecar.RemovePrefix(ctx, r.layout.URLPrefix(removed.Key())); err != nil {
		errs = append(errs, fmt.Errorf("remove sidecar keys: %w", err))
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Warn("entry deleted with leftovers", zap.Error(err))
		return fmt.Errorf("content: cleanup after delete: %w", err)
	}
	log.Info("entry deleted")
	return nil
}

// Body returns the stored body of the entry.
func (r *Repository) Body(ctx context.Context, id string) (string, error) {
	e, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return r.bodies.Read(e.Slug)
}

// SaveBody replaces the body of the entry.
func (r *Repository) SaveBody(ctx context.Context, id, body string) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.bodies.Write(e.Slug, body)
}

// Attach records files that were placed under the upload directory of key
// on the entry with the given id. Gallery files are appended once each and
// the last featured file becomes the thumbnail; content files only confirm
// the key. The check and the change happen under the document lock, so
// concurrent uploads never drop each other's files. It fails with
// ErrKeyChanged when the entry was relocated away from key.
func (r *Repository) Attach(ctx context.Context, id string, key Key, sub Subfolder, urls []string) (Entry, error) {
	return docstore.Apply(ctx, r.entries, func(list []Entry) ([]Entry, Entry, error) {
		i := slices.IndexFunc(list, func(e Entry) bool { return e.ID == id })
		if i < 0 {
			return nil, Entry{}, ErrNotFound
		}
		e := list[i].clone()
		if e.Key() != key {
			return nil, Entry{}, fmt.Errorf("%w: %s is now %s", ErrKeyChanged, DirName(key), DirName(e.Key()))
		}
		switch sub {
		case Gallery:
			for _, u := range urls {
				if !slices.Contains(e.Gallery, u) {
					e.Gallery = append(e.Gallery, u)
				}
			}
		case Featured:
			if len(urls) > 0 {
				e.Thumbnail = urls[len(urls)-1]
			}
		}
		list[i] = e
		return list, e, nil
	})
}

// PruneSidecar removes sidecar keys that no entry references and whose file
// is gone, and returns how many were dropped. Such orphans are left behind
// when a relocation is interrupted between the primary and the sidecar
// rewrite. Keys whose file still exists are kept, which also covers keys a
// concurrent relocation remapped after the entries were read.
func (r *Repository) PruneSidecar(ctx context.Context) (int, error) {
	list, err := r.entries.Read(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{})
	for _, e := range list {
		if e.Thumbnail != "" {
			referenced[e.Thumbnail] = struct{}{}
		}
		for _, u := range e.Gallery {
			referenced[u] = struct{}{}
		}
	}
	n, err := r.sidecar.removeWhere(ctx, func(url string) bool {
		if _, ok := referenced[url]; ok {
			return false
		}
		return !r.fileExists(url)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("pruned sidecar orphans", zap.Int("count", n))
	}
	return n, nil
}

func (r *Repository) fileExists(url string) bool {
	path, ok := r.layout.FilePath(url)
	if !ok {
		return false
	}
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
