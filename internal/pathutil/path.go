// Package pathutil provides canonical folder-path handling for the
// coordination services. All locking operations key off the normalized
// form produced here, so two spellings of the same folder always map to
// the same lock entry.
package pathutil

import (
	"errors"
	"strings"
)

// Separator is the canonical path separator.
const Separator = "/"

// DefaultMaxPathBytes is the maximum encoded length of a normalized path.
// Matches the object-key limit of the storage system the locks protect.
const DefaultMaxPathBytes = 1024

// ErrInvalidPath indicates a path that cannot be normalized: empty after
// cleanup, containing traversal segments, or exceeding the length limit.
var ErrInvalidPath = errors.New("invalid path")

// Normalize converts an input path to canonical folder form: repeated
// separators collapsed, leading/trailing separators stripped, exactly one
// trailing separator appended. Traversal segments ("." or "..") and
// oversize paths are rejected with ErrInvalidPath.
func Normalize(path string) (string, error) {
	return NormalizeMax(path, DefaultMaxPathBytes)
}

// NormalizeMax is Normalize with a caller-supplied byte limit.
func NormalizeMax(path string, maxBytes int) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPathBytes
	}

	parts := strings.Split(path, Separator)
	segments := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" {
			// Collapses "a//b" and strips leading/trailing separators.
			continue
		}
		if seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return "", ErrInvalidPath
	}

	normalized := strings.Join(segments, Separator) + Separator
	if len(normalized) > maxBytes {
		return "", ErrInvalidPath
	}

	return normalized, nil
}

// Ancestors returns every proper ancestor of a normalized path, ordered
// shallowest to deepest and excluding the path itself. The input must
// already be in canonical form (see Normalize); the result for a top-level
// folder is empty.
func Ancestors(normalized string) []string {
	trimmed := strings.TrimSuffix(normalized, Separator)
	segments := strings.Split(trimmed, Separator)
	if len(segments) <= 1 {
		return nil
	}

	ancestors := make([]string, 0, len(segments)-1)
	var b strings.Builder
	for _, seg := range segments[:len(segments)-1] {
		b.WriteString(seg)
		b.WriteString(Separator)
		ancestors = append(ancestors, b.String())
	}
	return ancestors
}

// Depth returns the number of segments in a normalized path.
func Depth(normalized string) int {
	trimmed := strings.TrimSuffix(normalized, Separator)
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, Separator) + 1
}
