package folio

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/eringen/folio/content"
)

const keyPublished = "entries:published"

func keyPage(slug string) string {
	return "page:" + slug
}

// Page is a published entry together with its body.
type Page struct {
	Entry content.Entry
	Body  string
}

// EntryCache is a TTL cache of published entries for the public routes.
// Admin writes flush it; writes from other processes show up after the TTL.
type EntryCache struct {
	c     *cache.Cache
	store *content.Repository
}

// NewEntryCache creates an EntryCache backed by the given repository.
func NewEntryCache(r *content.Repository, ttl time.Duration) *EntryCache {
	return &EntryCache{c: cache.New(ttl, 2*ttl), store: r}
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (ec *EntryCache) Invalidate() {
	ec.c.Flush()
}

// Published returns published entries in document order.
func (ec *EntryCache) Published(ctx context.Context) ([]content.Entry, error) {
	if v, ok := ec.c.Get(keyPublished); ok {
		return v.([]content.Entry), nil
	}
	all, err := ec.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var published []content.Entry
	for _, e := range all {
		if e.Published() {
			published = append(published, e)
		}
	}
	ec.c.SetDefault(keyPublished, published)
	return published, nil
}

// Page returns the published entry with slug and its body.
func (ec *EntryCache) Page(ctx context.Context, slug string) (Page, error) {
	if v, ok := ec.c.Get(keyPage(slug)); ok {
		return v.(Page), nil
	}
	published, err := ec.Published(ctx)
	if err != nil {
		return Page{}, err
	}
	for _, e := range published {
		if e.Slug != slug {
			continue
		}
		body, err := ec.store.Body(ctx, e.ID)
		if err != nil {
			return Page{}, err
		}
		p := Page{Entry: e, Body: body}
		ec.c.SetDefault(keyPage(slug), p)
		return p, nil
	}
	return Page{}, content.ErrNotFound
}
