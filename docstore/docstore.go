// Package docstore provides read-modify-write access to a single JSON document
// file. Every access is serialized through an advisory lock file that sits next
// to the document, so cooperating goroutines and processes never interleave
// their updates.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrLockTimeout is returned when the document lock could not be acquired
	// within the retry budget. Callers may retry the whole operation.
	ErrLockTimeout = errors.New("docstore: lock timeout")

	// ErrCorruptDocument is returned when an existing, non-empty document file
	// cannot be parsed. The file is left untouched.
	ErrCorruptDocument = errors.New("docstore: corrupt document")

	errBusy = errors.New("docstore: lock busy")
)

const lockSuffix = ".lock"

// Document owns one JSON document file. It is safe for concurrent use; the
// only way to change the file is through Update or Apply.
type Document[T any] struct {
	path     string
	lockPath string
	sem      *semaphore.Weighted
	opts     options[T]
}

// Open returns the Document for path. The file does not need to exist yet;
// a missing file reads as the default document.
func Open[T any](path string, opts ...Option[T]) *Document[T] {
	o := defaultOptions[T]()
	for _, opt := range opts {
		opt(&o)
	}
	return &Document[T]{
		path:     path,
		lockPath: path + lockSuffix,
		sem:      processLock(path),
		opts:     o,
	}
}

// Path returns the document's file path.
func (d *Document[T]) Path() string {
	return d.path
}

// Read returns the current document under a shared lock.
func (d *Document[T]) Read(ctx context.Context) (T, error) {
	var zero T
	unlock, err := d.acquire(ctx, false)
	if err != nil {
		return zero, err
	}
	defer unlock()
	return d.load()
}

// Update runs fn against the current document and writes back the value it
// returns. When fn fails the file is not rewritten.
func (d *Document[T]) Update(ctx context.Context, fn func(T) (T, error)) error {
	_, err := Apply(ctx, d, func(doc T) (T, struct{}, error) {
		next, err := fn(doc)
		return next, struct{}{}, err
	})
	return err
}

// Apply is the generic form of Update: fn returns the new document together
// with a result handed back to the caller.
func Apply[T, R any](ctx context.Context, d *Document[T], fn func(T) (T, R, error)) (R, error) {
	var zero R
	unlock, err := d.acquire(ctx, true)
	if err != nil {
		return zero, err
	}
	defer unlock()

	doc, err := d.load()
	if err != nil {
		return zero, err
	}
	next, res, err := fn(doc)
	if err != nil {
		return zero, err
	}
	if d.opts.validate != nil {
		if err := d.opts.validate(next); err != nil {
			return zero, err
		}
	}
	if err := d.store(next); err != nil {
		return zero, err
	}
	return res, nil
}

// acquire takes the in-process slot for the path and then the file lock.
// The returned func releases both. Without a caller deadline, waiting for
// the in-process slot is bounded by the lock retry budget.
func (d *Document[T]) acquire(ctx context.Context, exclusive bool) (func(), error) {
	if err := d.acquireSlot(ctx); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		d.sem.Release(1)
		return nil, fmt.Errorf("docstore: create dir: %w", err)
	}

	fl := flock.New(d.lockPath)
	try := fl.TryRLock
	if exclusive {
		try = fl.TryLock
	}

	start := time.Now()
	attempts := 0
	err := retry.Do(ctx, d.opts.backoff(), func(ctx context.Context) error {
		attempts++
		ok, err := try()
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errBusy)
		}
		return nil
	})
	if err != nil {
		_ = fl.Close()
		d.sem.Release(1)
		if errors.Is(err, errBusy) {
			d.opts.logger.Warn("document lock not acquired",
				zap.String("path", d.path),
				zap.Int("attempts", attempts),
				zap.Duration("waited", time.Since(start)))
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, d.path)
		}
		return nil, fmt.Errorf("docstore: lock %s: %w", d.path, err)
	}
	if attempts > 1 {
		d.opts.logger.Debug("document lock contended",
			zap.String("path", d.path), zap.Int("attempts", attempts))
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			d.opts.logger.Error("unlock document", zap.String("path", d.path), zap.Error(err))
		}
		_ = fl.Close()
		d.sem.Release(1)
	}, nil
}

func (d *Document[T]) acquireSlot(ctx context.Context) error {
	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.opts.budget())
		defer cancel()
	}
	if err := d.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return err
		}
		d.opts.logger.Warn("document queue wait exceeded", zap.String("path", d.path))
		return fmt.Errorf("%w: %s", ErrLockTimeout, d.path)
	}
	return nil
}

func (d *Document[T]) load() (T, error) {
	var zero T
	data, err := os.ReadFile(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return d.opts.newDefault(), nil
	}
	if err != nil {
		return zero, fmt.Errorf("docstore: read %s: %w", d.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return d.opts.newDefault(), nil
	}
	doc := d.opts.newDefault()
	if err := json.Unmarshal(data, &doc); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, d.path, err)
	}
	return doc, nil
}

// store writes doc to a temporary sibling and renames it over the document,
// so readers never observe a partially written file.
func (d *Document[T]) store(doc T) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.path, err)
	}
	data = append(data, '\n')

	dir, base := filepath.Split(d.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("docstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("docstore: write %s: %w", d.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("docstore: sync %s: %w", d.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("docstore: close %s: %w", d.path, err)
	}
	if err := os.Chmod(tmpPath, d.opts.perm); err != nil {
		return fmt.Errorf("docstore: chmod %s: %w", d.path, err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		return fmt.Errorf("docstore: replace %s: %w", d.path, err)
	}
	committed = true
	return nil
}

// processLocks hands out one semaphore per absolute document path, so two
// Documents opened on the same file inside one process queue behind each
// other before competing for the file lock.
var processLocks sync.Map

func processLock(path string) *semaphore.Weighted {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	sem, _ := processLocks.LoadOrStore(key, semaphore.NewWeighted(1))
	return sem.(*semaphore.Weighted)
}
