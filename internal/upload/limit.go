package upload

import (
	"errors"
	"io"
)

// ErrTooLarge reports that a body crossed its configured size ceiling.
var ErrTooLarge = errors.New("upload: payload too large")

// LimitReader counts the bytes flowing through it and fails with ErrTooLarge
// as soon as the running total exceeds max. Bytes past the ceiling are never
// handed to the caller, and nothing is buffered beyond the caller's slice.
type LimitReader struct {
	r   io.Reader
	max int64
	n   int64
}

// NewLimitReader wraps r with a ceiling of max bytes.
func NewLimitReader(r io.Reader, max int64) *LimitReader {
	return &LimitReader{r: r, max: max}
}

// Read implements io.Reader.
func (l *LimitReader) Read(p []byte) (int, error) {
	if l.n > l.max {
		return 0, ErrTooLarge
	}
	// One byte of headroom is enough to observe the crossing.
	if room := l.max - l.n + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return 0, ErrTooLarge
	}
	return n, err
}

// Count returns the number of bytes observed so far.
func (l *LimitReader) Count() int64 {
	return l.n
}
