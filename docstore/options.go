package docstore

import (
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Default lock retry budget: 10 attempts, 50ms growing exponentially,
// each wait capped at 500ms.
const (
	DefaultLockAttempts = 10
	DefaultLockDelay    = 50 * time.Millisecond
	DefaultLockMaxDelay = 500 * time.Millisecond
)

type options[T any] struct {
	newDefault func() T
	validate   func(T) error
	logger     *zap.Logger
	perm       os.FileMode
	attempts   uint64
	delay      time.Duration
	maxDelay   time.Duration
}

func defaultOptions[T any]() options[T] {
	return options[T]{
		newDefault: func() T {
			var zero T
			return zero
		},
		logger:   zap.NewNop(),
		perm:     0o644,
		attempts: DefaultLockAttempts,
		delay:    DefaultLockDelay,
		maxDelay: DefaultLockMaxDelay,
	}
}

func (o options[T]) backoff() retry.Backoff {
	b := retry.NewExponential(o.delay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(o.maxDelay, b)
	retries := uint64(0)
	if o.attempts > 1 {
		retries = o.attempts - 1
	}
	return retry.WithMaxRetries(retries, b)
}

// budget is roughly how long the retry loop may wait in total. It bounds
// the in-process queue when the caller's context has no deadline.
func (o options[T]) budget() time.Duration {
	var total time.Duration
	d := o.delay
	for i := uint64(1); i < o.attempts; i++ {
		total += min(d, o.maxDelay)
		if d < o.maxDelay {
			d *= 2
		}
	}
	return max(total+total/10, o.delay)
}

// Option configures a Document.
type Option[T any] func(*options[T])

// WithDefault sets the constructor used when the file is missing or blank.
// Use it for collection documents so an empty store serializes as [] or {}
// rather than null.
func WithDefault[T any](fn func() T) Option[T] {
	return func(o *options[T]) {
		o.newDefault = fn
	}
}

// WithValidate sets a check run on every new document before it is written.
// An error aborts the write and is returned to the caller unchanged.
func WithValidate[T any](fn func(T) error) Option[T] {
	return func(o *options[T]) {
		o.validate = fn
	}
}

// WithLogger sets the logger used for lock diagnostics.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(o *options[T]) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLockRetry overrides the lock retry budget.
func WithLockRetry[T any](attempts int, delay, maxDelay time.Duration) Option[T] {
	return func(o *options[T]) {
		if attempts > 0 {
			o.attempts = uint64(attempts)
		}
		if delay > 0 {
			o.delay = delay
		}
		if maxDelay > 0 {
			o.maxDelay = maxDelay
		}
	}
}

// WithFileMode sets the permission bits of the written document.
func WithFileMode[T any](perm os.FileMode) Option[T] {
	return func(o *options[T]) {
		o.perm = perm
	}
}
