package uploads

import (
	"fmt"
	"os"
	"path/filepath"
)

// Decider is asked for a Choice when a file name is taken. Returning
// remember=true applies the same choice to every later conflict in the batch.
type Decider func(c Conflict) (choice Choice, remember bool, err error)

// Placement is where one upload ended up.
type Placement struct {
	Name     string    `json:"name"`
	Path     string    `json:"-"`
	Skipped  bool      `json:"skipped,omitempty"`
	Conflict *Conflict `json:"conflict,omitempty"`
	Choice   string    `json:"choice,omitempty"`
}

// Batch carries the "apply to remaining items" choice across the uploads of
// one batch. A Batch is not safe for concurrent use.
type Batch struct {
	remembered Choice
}

// NewBatch returns a batch with no remembered choice.
func NewBatch() *Batch {
	return &Batch{}
}

// ApplyToRemaining stores c for every later conflict in this batch.
func (b *Batch) ApplyToRemaining(c Choice) {
	b.remembered = c
}

// Remembered returns the stored choice, if one was set.
func (b *Batch) Remembered() (Choice, bool) {
	return b.remembered, b.remembered != 0
}

// Place decides where name goes inside dir. Conflicts use the remembered
// choice if there is one, otherwise decide. With neither, Place returns the
// conflict together with ErrUndecided.
func (b *Batch) Place(dir, name string, decide Decider) (Placement, error) {
	d, err := Resolve(dir, name)
	if err != nil {
		return Placement{}, err
	}
	p := Placement{Name: name, Path: d.Path}
	if d.Conflict == nil {
		return p, nil
	}
	p.Conflict = d.Conflict

	choice, ok := b.Remembered()
	if !ok {
		if decide == nil {
			return p, ErrUndecided
		}
		var remember bool
		choice, remember, err = decide(*d.Conflict)
		if err != nil {
			return p, err
		}
		if remember {
			b.ApplyToRemaining(choice)
		}
	}
	p.Choice = choice.String()

	switch choice {
	case Overwrite:
	case AddWithSuffix:
		free, err := NextFreeName(dir, name)
		if err != nil {
			return p, err
		}
		p.Name = free
		p.Path = filepath.Join(dir, free)
	case Skip:
		p.Skipped = true
	default:
		return p, fmt.Errorf("%w: unknown choice %d", ErrUndecided, choice)
	}
	return p, nil
}

// Save places name in dir and writes data there unless the upload was
// skipped.
func (b *Batch) Save(dir, name string, data []byte, decide Decider) (Placement, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Placement{}, fmt.Errorf("uploads: create %s: %w", dir, err)
	}
	p, err := b.Place(dir, name, decide)
	if err != nil || p.Skipped {
		return p, err
	}
	if err := os.WriteFile(p.Path, data, 0o644); err != nil {
		return p, fmt.Errorf("uploads: write %s: %w", p.Path, err)
	}
	return p, nil
}
