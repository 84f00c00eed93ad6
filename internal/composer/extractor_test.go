package composer

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractFromZip(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"composer.json":  `{"name": "acme/widget", "description": "a widget"}`,
		"src/Widget.php": "<?php",
	})

	manifest, err := NewZipExtractor().ExtractFromZip(archive)
	if err != nil {
		t.Fatalf("ExtractFromZip: %v", err)
	}

	name, _, err := manifest.String("name")
	if err != nil || name != "acme/widget" {
		t.Errorf("name = %q (%v), want acme/widget", name, err)
	}
}

func TestExtractFromZipNestedDirectory(t *testing.T) {
	// GitHub-style archives nest everything under a top directory; the
	// shallowest composer.json wins over deeper vendored ones.
	archive := zipArchive(t, map[string]string{
		"widget-1.0/composer.json":              `{"name": "acme/widget"}`,
		"widget-1.0/vendor/other/composer.json": `{"name": "other/lib"}`,
		"widget-1.0/src/Widget.php":             "<?php",
	})

	manifest, err := NewZipExtractor().ExtractFromZip(archive)
	if err != nil {
		t.Fatalf("ExtractFromZip: %v", err)
	}

	name, _, err := manifest.String("name")
	if err != nil || name != "acme/widget" {
		t.Errorf("name = %q (%v), want acme/widget", name, err)
	}
}

func TestExtractFromZipMissingManifest(t *testing.T) {
	archive := zipArchive(t, map[string]string{"readme.txt": "no manifest here"})

	_, err := NewZipExtractor().ExtractFromZip(archive)
	var eerr *ExtractionError
	if !errors.As(err, &eerr) {
		t.Errorf("expected ExtractionError, got %v", err)
	}
}

func TestExtractFromZipCorruptArchive(t *testing.T) {
	_, err := NewZipExtractor().ExtractFromZip([]byte("this is not a zip"))
	var eerr *ExtractionError
	if !errors.As(err, &eerr) {
		t.Errorf("expected ExtractionError, got %v", err)
	}
}

func TestExtractFromZipUnparsableManifest(t *testing.T) {
	archive := zipArchive(t, map[string]string{"composer.json": "{broken"})

	_, err := NewZipExtractor().ExtractFromZip(archive)
	var eerr *ExtractionError
	if !errors.As(err, &eerr) {
		t.Errorf("expected ExtractionError, got %v", err)
	}
}
