package store

// HashTag wraps a namespace in braces so every key carrying it maps to the
// same cluster slot. Multi-key atomic scripts require all their keys on one
// partition; co-locating a namespace's keys guarantees that.
func HashTag(namespace string) string {
	return "{" + namespace + "}"
}
