package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Relocation records what happened when an update changed an entry's
// identifying key. The steps are ordered, not transactional: the directory
// moves first, then the primary document is rewritten, then the sidecar
// keys and the body file follow. Failures in the trailing steps are kept in
// Warnings and leave the primary document authoritative.
type Relocation struct {
	From      string `json:"from"`
	To        string `json:"to"`
	OldPrefix string `json:"oldPrefix"`
	NewPrefix string `json:"newPrefix"`

	DirMoved    bool `json:"dirMoved"`
	SidecarKeys int  `json:"sidecarKeys"`
	BodyMoved   bool `json:"bodyMoved"`

	Warnings []error `json:"-"`
}

type relocator struct {
	layout  Layout
	sidecar *Sidecar
	bodies  *BodyStore
	log     *zap.Logger
}

// moveDir renames the upload directory of from to that of to. A missing
// source directory is not an error: there is nothing on disk to move.
func (r *relocator) moveDir(from, to Key) (*Relocation, error) {
	rel := &Relocation{
		From:      DirName(from),
		To:        DirName(to),
		OldPrefix: r.layout.URLPrefix(from),
		NewPrefix: r.layout.URLPrefix(to),
	}
	if rel.From == rel.To {
		return rel, nil
	}

	src, dst := r.layout.EntryDir(from), r.layout.EntryDir(to)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		r.log.Debug("no upload directory to move", zap.String("dir", rel.From))
		return rel, nil
	} else if err != nil {
		return nil, &RelocationError{From: rel.From, To: rel.To, cause: err}
	}

	// os.Rename silently replaces an empty directory on some platforms.
	if _, err := os.Lstat(dst); err == nil {
		return nil, &RelocationError{From: rel.From, To: rel.To, cause: fmt.Errorf("destination %s already exists", dst)}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &RelocationError{From: rel.From, To: rel.To, cause: err}
	}

	if err := os.Rename(src, dst); err != nil {
		return nil, &RelocationError{From: rel.From, To: rel.To, cause: err}
	}
	rel.DirMoved = true
	r.log.Info("moved upload directory", zap.String("from", rel.From), zap.String("to", rel.To))
	return rel, nil
}

// undo moves the directory back after the primary document failed to commit.
func (r *relocator) undo(rel *Relocation, from, to Key) {
	if !rel.DirMoved {
		return
	}
	if err := os.Rename(r.layout.EntryDir(to), r.layout.EntryDir(from)); err != nil {
		r.log.Error("could not restore upload directory",
			zap.String("from", rel.To), zap.String("to", rel.From), zap.Error(err))
		return
	}
	rel.DirMoved = false
}

// rewrite points every path-bearing field of e at the new prefix.
func (rel *Relocation) rewrite(e *Entry) {
	swap := func(s string) string {
		if rest, ok := strings.CutPrefix(s, rel.OldPrefix); ok {
			return rel.NewPrefix + rest
		}
		return s
	}

	e.Thumbnail = swap(e.Thumbnail)
	if e.Gallery != nil {
		gallery := make([]string, len(e.Gallery))
		for i, u := range e.Gallery {
			gallery[i] = swap(u)
		}
		e.Gallery = gallery
	}
	if e.GalleryMetadata != nil {
		meta := make(map[string]GalleryItem, len(e.GalleryMetadata))
		for u, item := range e.GalleryMetadata {
			meta[swap(u)] = item
		}
		e.GalleryMetadata = meta
	}
}

// finish runs the steps that follow the primary commit: sidecar keys, then
// the body file. Errors are collected, logged and never abort the update.
func (r *relocator) finish(ctx context.Context, rel *Relocation, from, to Key) {
	if rel.From == rel.To {
		return
	}
	log := r.log.With(zap.String("from", rel.From), zap.String("to", rel.To))

	n, err := r.sidecar.Remap(ctx, rel.OldPrefix, rel.NewPrefix)
	if err != nil {
		log.Warn("sidecar keys left under old prefix", zap.Error(err))
		rel.Warnings = append(rel.Warnings, fmt.Errorf("remap sidecar: %w", err))
	}
	rel.SidecarKeys = n

	if from.Slug != to.Slug {
		moved, err := r.bodies.Rename(from.Slug, to.Slug)
		if err != nil {
			log.Warn("body file left under old slug", zap.Error(err))
			rel.Warnings = append(rel.Warnings, fmt.Errorf("move body: %w", err))
		}
		rel.BodyMoved = moved
	}
}
