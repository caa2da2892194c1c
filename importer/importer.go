package importer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eringen/folio/content"
)

// Report lists what a run did, by legacy slug.
type Report struct {
	Imported []string          `json:"imported"`
	Skipped  []string          `json:"skipped"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Importer copies legacy posts into a repository.
type Importer struct {
	repo *content.Repository
	log  *zap.Logger
}

// New returns an importer writing into repo.
func New(repo *content.Repository, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{repo: repo, log: log.Named("import")}
}

// Run imports every post of src whose slug is not in the repository yet.
// Posts the store rejects are reported as failed and do not stop the run.
func (im *Importer) Run(ctx context.Context, src *Source) (Report, error) {
	posts, err := src.Posts(ctx)
	if err != nil {
		return Report{}, err
	}
	existing, err := im.repo.List(ctx)
	if err != nil {
		return Report{}, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.Slug] = struct{}{}
	}

	rep := Report{Imported: []string{}, Skipped: []string{}}
	for _, p := range posts {
		if _, ok := seen[content.Slugify(p.Slug)]; ok {
			rep.Skipped = append(rep.Skipped, p.Slug)
			continue
		}
		e, err := im.importPost(ctx, p)
		if errors.Is(err, content.ErrInvalidEntry) {
			if rep.Failed == nil {
				rep.Failed = make(map[string]string)
			}
			rep.Failed[p.Slug] = err.Error()
			im.log.Warn("post rejected", zap.String("slug", p.Slug), zap.Error(err))
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("importer: %s: %w", p.Slug, err)
		}
		seen[e.Slug] = struct{}{}
		rep.Imported = append(rep.Imported, p.Slug)
		im.log.Info("post imported", zap.String("slug", p.Slug), zap.String("id", e.ID))
	}
	return rep, nil
}

func (im *Importer) importPost(ctx context.Context, p Post) (content.Entry, error) {
	status := content.StatusDraft
	if p.Published {
		status = content.StatusPublished
	}
	fields := content.Entry{
		Title:      p.Title,
		Date:       legacyDate(p.Date),
		Slug:       p.Slug,
		Status:     status,
		Categories: p.Tags,
	}
	if p.Summary != "" {
		fields.SEO = &content.SEO{Title: p.Title, Description: p.Summary}
	}
	e, err := im.repo.Create(ctx, fields)
	if err != nil {
		return content.Entry{}, err
	}
	if err := im.repo.SaveBody(ctx, e.ID, ToHTML(p.Content)); err != nil {
		return e, err
	}
	return e, nil
}

// legacyDate keeps the calendar part of timestamps like "2024-01-15 10:00".
func legacyDate(s string) string {
	if len(s) > 10 && (s[10] == ' ' || s[10] == 'T') {
		return s[:10]
	}
	return s
}
