// Package uploads resolves filename collisions inside an entry's upload
// folders. It does no locking: listing a folder, deciding and writing are
// separate steps, so two uploaders racing on the same name can both pick
// the same suffixed name. The admin UI has a single editor, which keeps that
// window acceptable.
package uploads

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("uploads: invalid file name")

	// ErrUndecided is returned by Batch.Place when a conflict needs a choice
	// and neither a decider nor a remembered choice is available.
	ErrUndecided = errors.New("uploads: conflict needs a decision")
)

// Choice is the caller's answer to a conflict.
type Choice int

const (
	Overwrite Choice = iota + 1
	AddWithSuffix
	Skip
)

func (c Choice) String() string {
	switch c {
	case Overwrite:
		return "overwrite"
	case AddWithSuffix:
		return "suffix"
	case Skip:
		return "skip"
	}
	return "undecided"
}

// ParseChoice accepts the names produced by Choice.String plus a few aliases.
func ParseChoice(s string) (Choice, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite", "replace":
		return Overwrite, true
	case "suffix", "add", "addwithsuffix", "rename":
		return AddWithSuffix, true
	case "skip":
		return Skip, true
	}
	return 0, false
}

// Conflict describes the file already occupying a requested name.
type Conflict struct {
	Name         string `json:"name"`
	ExistingPath string `json:"existingPath"`
	ExistingSize int64  `json:"existingSize"`
}

// Decision is the outcome of Resolve. Conflict is nil when Path is free.
type Decision struct {
	Path     string
	Conflict *Conflict
}

// Resolve checks whether name is free in dir.
func Resolve(dir, name string) (Decision, error) {
	if err := checkName(name); err != nil {
		return Decision{}, err
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Decision{Path: path}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("uploads: stat %s: %w", path, err)
	}
	return Decision{
		Path: path,
		Conflict: &Conflict{
			Name:         name,
			ExistingPath: path,
			ExistingSize: info.Size(),
		},
	}, nil
}

// NextFreeName returns the first "{base}_{n}{ext}" with n >= 2 that does not
// exist in dir.
func NextFreeName(dir, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	taken := make(map[string]struct{})
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("uploads: list %s: %w", dir, err)
	}
	for _, e := range entries {
		taken[e.Name()] = struct{}{}
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := base + "_" + strconv.Itoa(n) + ext
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
