package content

import (
	"context"
	"strings"

	"github.com/eringen/folio/docstore"
)

// Sidecar is the document of capture metadata keyed by file URL. It has its
// own lock and is never updated together with the primary document.
type Sidecar struct {
	doc *docstore.Document[map[string]CaptureMetadata]
}

func newSidecarMap() map[string]CaptureMetadata {
	return map[string]CaptureMetadata{}
}

// OpenSidecar opens the sidecar document at path.
func OpenSidecar(path string, opts ...docstore.Option[map[string]CaptureMetadata]) *Sidecar {
	opts = append([]docstore.Option[map[string]CaptureMetadata]{docstore.WithDefault(newSidecarMap)}, opts...)
	return &Sidecar{doc: docstore.Open(path, opts...)}
}

// Get returns the metadata stored for url.
func (s *Sidecar) Get(ctx context.Context, url string) (CaptureMetadata, bool, error) {
	all, err := s.doc.Read(ctx)
	if err != nil {
		return CaptureMetadata{}, false, err
	}
	m, ok := all[url]
	return m, ok, nil
}

// All returns a snapshot of the whole sidecar document.
func (s *Sidecar) All(ctx context.Context) (map[string]CaptureMetadata, error) {
	return s.doc.Read(ctx)
}

// Put stores meta for url, replacing any previous record.
func (s *Sidecar) Put(ctx context.Context, url string, meta CaptureMetadata) error {
	return s.doc.Update(ctx, func(all map[string]CaptureMetadata) (map[string]CaptureMetadata, error) {
		if all == nil {
			all = newSidecarMap()
		}
		all[url] = meta
		return all, nil
	})
}

// Remap moves every key under oldPrefix to the same suffix under newPrefix
// and reports how many keys moved. Values are carried over unchanged.
func (s *Sidecar) Remap(ctx context.Context, oldPrefix, newPrefix string) (int, error) {
	if oldPrefix == newPrefix {
		return 0, nil
	}
	return docstore.Apply(ctx, s.doc, func(all map[string]CaptureMetadata) (map[string]CaptureMetadata, int, error) {
		var keys []string
		for url := range all {
			if strings.HasPrefix(url, oldPrefix) {
				keys = append(keys, url)
			}
		}
		for _, url := range keys {
			meta := all[url]
			delete(all, url)
			all[newPrefix+strings.TrimPrefix(url, oldPrefix)] = meta
		}
		return all, len(keys), nil
	})
}

// RemovePrefix deletes every key under prefix.
func (s *Sidecar) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	return s.removeWhere(ctx, func(url string) bool {
		return strings.HasPrefix(url, prefix)
	})
}

// Remove deletes the given keys.
func (s *Sidecar) Remove(ctx context.Context, urls ...string) (int, error) {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return s.removeWhere(ctx, func(url string) bool {
		_, ok := set[url]
		return ok
	})
}

func (s *Sidecar) removeWhere(ctx context.Context, match func(string) bool) (int, error) {
	return docstore.Apply(ctx, s.doc, func(all map[string]CaptureMetadata) (map[string]CaptureMetadata, int, error) {
		n := 0
		for url := range all {
			if match(url) {
				delete(all, url)
				n++
			}
		}
		return all, n, nil
	})
}
