// Package hashing holds the content-address layout helper shared by the
// blob store.
package hashing

// BlobDir returns the two-character prefix directory for a hash.
func BlobDir(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2]
}
