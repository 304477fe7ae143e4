// Package upload admits streamed file uploads into bounded directories.
//
// A Controller combines the name Sanitizer, the LimitReader stream filter and
// a Store, and applies one of two named admission policies: DocumentPolicy
// (streaming size enforcement, capacity eviction, duplicate rejection) or
// AudioPolicy (declared-length check only).
package upload

import (
	"errors"
	"strings"
)

// maxNameBytes is the usual filesystem limit for a single path segment.
const maxNameBytes = 255

var (
	// ErrEmptyName is returned when a client-supplied name sanitizes to nothing usable.
	ErrEmptyName = errors.New("upload: empty file name")
	// ErrNameTooLong is returned when the sanitized name cannot be stored as one path segment.
	ErrNameTooLong = errors.New("upload: file name too long")
)

// Sanitize reduces a client-supplied name to a safe storage key. Only the last
// path segment is kept and every rune outside [A-Za-z0-9._-] becomes '_'.
func Sanitize(name string) (string, error) {
	base := strings.TrimRight(name, "/")
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}

	var b strings.Builder
	b.Grow(len(base))
	for _, r := range base {
		if isAllowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	key := b.String()
	switch {
	case key == "", key == ".", key == "..":
		return "", ErrEmptyName
	case len(key) > maxNameBytes:
		return "", ErrNameTooLong
	}
	return key, nil
}

func isAllowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
