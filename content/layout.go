package content

import (
	"path/filepath"
	"strings"
)

// Subfolder is one of the fixed folders inside an entry's upload directory.
type Subfolder string

const (
	Featured      Subfolder = "featured"
	Gallery       Subfolder = "gallery"
	ContentFolder Subfolder = "content"
)

// Subfolders lists every upload subfolder in creation order.
var Subfolders = []Subfolder{Featured, Gallery, ContentFolder}

// ParseSubfolder maps a path segment to a Subfolder.
func ParseSubfolder(s string) (Subfolder, bool) {
	for _, f := range Subfolders {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Layout describes where the store keeps its files.
type Layout struct {
	EntriesFile string // primary document (JSON array of entries)
	SidecarFile string // sidecar document (JSON object keyed by URL)
	BodyDir     string // one {slug}.html per entry
	UploadsDir  string // {UploadsDir}/{date}-{slug}/{subfolder}/{file}
	UploadsURL  string // public URL prefix that maps onto UploadsDir
}

// DirName is the upload directory name for k.
func DirName(k Key) string {
	return k.Date + "-" + k.Slug
}

// EntryDir returns the upload directory of k on disk.
func (l Layout) EntryDir(k Key) string {
	return filepath.Join(l.UploadsDir, DirName(k))
}

// UploadDir returns one subfolder of the upload directory of k.
func (l Layout) UploadDir(k Key, sub Subfolder) string {
	return filepath.Join(l.EntryDir(k), string(sub))
}

// URLPrefix is the public URL prefix, with trailing slash, of every file
// under the upload directory of k.
func (l Layout) URLPrefix(k Key) string {
	return strings.TrimRight(l.UploadsURL, "/") + "/" + DirName(k) + "/"
}

// FileURL returns the public URL of name inside a subfolder of k.
func (l Layout) FileURL(k Key, sub Subfolder, name string) string {
	return l.URLPrefix(k) + string(sub) + "/" + name
}

// FilePath maps a public upload URL back to its file on disk. It reports
// false for URLs outside UploadsURL.
func (l Layout) FilePath(url string) (string, bool) {
	prefix := strings.TrimRight(l.UploadsURL, "/") + "/"
	rest, ok := strings.CutPrefix(url, prefix)
	if !ok || rest == "" {
		return "", false
	}
	path := filepath.Join(l.UploadsDir, filepath.FromSlash(rest))
	if !strings.HasPrefix(path, filepath.Clean(l.UploadsDir)+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// BodyPath returns the body file of slug. The date is deliberately not part
// of the address.
func (l Layout) BodyPath(slug string) string {
	return filepath.Join(l.BodyDir, slug+".html")
}
