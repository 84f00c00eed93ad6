package storage

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// hashingWriter wraps a writer and computes SHA256 and SHA1 as data passes
// through. SHA256 addresses the blob on disk; SHA1 is the Composer dist
// shasum.
type hashingWriter struct {
	w      io.Writer
	sha256 hash.Hash
	sha1   hash.Hash
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{
		w:      w,
		sha256: sha256.New(),
		sha1:   sha1.New(),
	}
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.sha256.Write(p[:n])
		hw.sha1.Write(p[:n])
	}
	return n, err
}

func (hw *hashingWriter) Hash() string {
	return hex.EncodeToString(hw.sha256.Sum(nil))
}

func (hw *hashingWriter) SHA1() string {
	return hex.EncodeToString(hw.sha1.Sum(nil))
}
