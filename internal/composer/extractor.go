package composer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// ManifestExtractor reads the composer.json manifest out of a package
// archive.
type ManifestExtractor interface {
	ExtractFromZip(archive []byte) (*Document, error)
}

// ZipExtractor extracts composer.json from zip archives. Composer archives
// may nest the package under a single top-level directory, so the manifest
// at the shallowest depth wins.
type ZipExtractor struct{}

// NewZipExtractor returns a ZipExtractor.
func NewZipExtractor() *ZipExtractor {
	return &ZipExtractor{}
}

const manifestName = "composer.json"

// ExtractFromZip returns the parsed composer.json from the archive. A
// corrupt archive, a missing manifest, or an unparsable manifest is an
// ExtractionError.
func (e *ZipExtractor) ExtractFromZip(archive []byte) (*Document, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("opening archive: %w", err)}
	}

	var best *zip.File
	bestDepth := -1
	for _, f := range r.File {
		name := strings.TrimPrefix(f.Name, "./")
		if !strings.HasSuffix(name, manifestName) {
			continue
		}
		dir := strings.TrimSuffix(name, manifestName)
		if dir != "" && !strings.HasSuffix(dir, "/") {
			continue
		}
		depth := strings.Count(dir, "/")
		if bestDepth == -1 || depth < bestDepth {
			best = f
			bestDepth = depth
		}
	}
	if best == nil {
		return nil, &ExtractionError{Err: fmt.Errorf("archive contains no %s", manifestName)}
	}

	rc, err := best.Open()
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("opening %s: %w", best.Name, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("reading %s: %w", best.Name, err)}
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("parsing %s: %w", best.Name, err)}
	}
	return doc, nil
}
