// Package nonce derives coarse, monotonically increasing counters from wall
// clock time. A nonce is the number of whole buckets elapsed since the Unix
// epoch; callers sign its decimal form to bind a request to a time window.
package nonce

import (
	"strconv"
	"time"
)

// DefaultBucket is the bucket width used when none is configured.
const DefaultBucket = 30 * time.Second

// Clock abstracts the time source so tests can control bucket boundaries.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Source hands out nonces for the current bucket.
type Source struct {
	clock  Clock
	bucket time.Duration
}

// Option is a functional option for configuring a Source
type Option func(*Source)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Source) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithBucket sets the bucket width. Widths under one second are rounded up
// to one second since nonces are computed from whole Unix seconds.
func WithBucket(d time.Duration) Option {
	return func(s *Source) {
		if d < time.Second {
			d = time.Second
		}
		s.bucket = d.Truncate(time.Second)
	}
}

// New creates a Source with the given options
func New(opts ...Option) *Source {
	s := &Source{
		clock:  realClock{},
		bucket: DefaultBucket,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the nonce for the clock's current time.
func (s *Source) Current() uint64 {
	return At(s.clock.Now(), s.bucket)
}

// Bucket returns the configured bucket width.
func (s *Source) Bucket() time.Duration {
	return s.bucket
}

// At computes floor(unix_seconds / bucket_seconds). Times before the epoch
// yield 0.
func At(t time.Time, bucket time.Duration) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	width := uint64(bucket / time.Second)
	if width == 0 {
		width = 1
	}
	return uint64(secs) / width
}

// Format returns the decimal string form that clients sign.
func Format(n uint64) string {
	return strconv.FormatUint(n, 10)
}
