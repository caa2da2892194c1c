package content

import (
	"maps"
	"slices"
)

// Entry is one post in the primary document. Its JSON form is the on-disk
// format and must stay stable.
type Entry struct {
	ID              string                 `json:"id"`
	Title           string                 `json:"title"`
	Date            string                 `json:"date"`
	Slug            string                 `json:"slug"`
	Time            string                 `json:"time,omitempty"`
	Status          string                 `json:"status,omitempty"`
	Categories      []string               `json:"categories,omitempty"`
	Thumbnail       string                 `json:"thumbnail,omitempty"`
	Gallery         []string               `json:"gallery,omitempty"`
	GalleryMetadata map[string]GalleryItem `json:"galleryMetadata,omitempty"`
	SEO             *SEO                   `json:"seo,omitempty"`
}

// GalleryItem is the caption attached to one gallery URL.
type GalleryItem struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SEO holds per-entry search metadata.
type SEO struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
}

// Entry statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Key is the identifying key of an entry. It names the entry's upload
// directory, so changing it relocates files.
type Key struct {
	Date string
	Slug string
}

// Key returns the entry's identifying key.
func (e Entry) Key() Key {
	return Key{Date: e.Date, Slug: e.Slug}
}

// Published reports whether the entry is publicly visible.
func (e Entry) Published() bool {
	return e.Status == StatusPublished
}

// clone copies the entry so path rewrites never alias the stored value.
func (e Entry) clone() Entry {
	e.Categories = slices.Clone(e.Categories)
	e.Gallery = slices.Clone(e.Gallery)
	e.GalleryMetadata = maps.Clone(e.GalleryMetadata)
	if e.SEO != nil {
		seo := *e.SEO
		e.SEO = &seo
	}
	return e
}

// Patch is a partial update. Nil fields are left unchanged; slices and maps
// replace the stored value wholesale.
type Patch struct {
	Title           *string                 `json:"title,omitempty"`
	Date            *string                 `json:"date,omitempty"`
	Slug            *string                 `json:"slug,omitempty"`
	Time            *string                 `json:"time,omitempty"`
	Status          *string                 `json:"status,omitempty"`
	Categories      *[]string               `json:"categories,omitempty"`
	Thumbnail       *string                 `json:"thumbnail,omitempty"`
	Gallery         *[]string               `json:"gallery,omitempty"`
	GalleryMetadata *map[string]GalleryItem `json:"galleryMetadata,omitempty"`
	SEO             *SEO                    `json:"seo,omitempty"`
}

func (p Patch) apply(e *Entry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Slug != nil {
		e.Slug = *p.Slug
	}
	if p.Time != nil {
		e.Time = *p.Time
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Categories != nil {
		e.Categories = slices.Clone(*p.Categories)
	}
	if p.Thumbnail != nil {
		e.Thumbnail = *p.Thumbnail
	}
	if p.Gallery != nil {
		e.Gallery = slices.Clone(*p.Gallery)
	}
	if p.GalleryMetadata != nil {
		e.GalleryMetadata = maps.Clone(*p.GalleryMetadata)
	}
	if p.SEO != nil {
		seo := *p.SEO
		e.SEO = &seo
	}
}

// CaptureMetadata is the sidecar record kept per uploaded file URL.
type CaptureMetadata struct {
	Camera       string `json:"camera,omitempty"`
	Lens         string `json:"lens,omitempty"`
	FocalLength  string `json:"focalLength,omitempty"`
	Aperture     string `json:"aperture,omitempty"`
	ShutterSpeed string `json:"shutterSpeed,omitempty"`
	ISO          int    `json:"iso,omitempty"`
	TakenAt      string `json:"takenAt,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}
