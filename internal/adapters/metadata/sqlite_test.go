package metadata

import (
	"errors"
	"os"
	"testing"

	"github.com/composer-registry/server/internal/core/services"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	dir := t.TempDir()
	catalog, err := NewSQLiteCatalog(dir)
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCreateAndGetComponent(t *testing.T) {
	catalog := newTestCatalog(t)

	c, err := catalog.CreateComponent("acme", "widget", "1.0.0", "abc123", "def456", 1024)
	if err != nil {
		t.Fatalf("CreateComponent: %v", err)
	}
	if c.ID == 0 {
		t.Fatal("expected non-zero id")
	}
	if c.PackageName() != "acme/widget" {
		t.Errorf("package name = %q, want %q", c.PackageName(), "acme/widget")
	}

	got, err := catalog.GetComponent("acme", "widget", "1.0.0")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if got == nil {
		t.Fatal("expected component, got nil")
	}
	if got.Hash != "abc123" {
		t.Errorf("hash = %q, want %q", got.Hash, "abc123")
	}
	if got.SHA1 != "def456" {
		t.Errorf("sha1 = %q, want %q", got.SHA1, "def456")
	}
}

func TestGetComponentNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	c, err := catalog.GetComponent("acme", "missing", "1.0.0")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if c != nil {
		t.Error("expected nil for nonexistent component")
	}
}

func TestCreateDuplicateComponent(t *testing.T) {
	catalog := newTestCatalog(t)

	catalog.CreateComponent("acme", "widget", "1.0.0", "hash1", "sha1a", 100)
	_, err := catalog.CreateComponent("acme", "widget", "1.0.0", "hash2", "sha1b", 200)
	if err == nil {
		t.Error("expected error for duplicate version")
	}
	if !errors.Is(err, services.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestListComponents(t *testing.T) {
	catalog := newTestCatalog(t)

	catalog.CreateComponent("acme", "widget", "1.0.0", "hash1", "sha1a", 100)
	catalog.CreateComponent("acme", "widget", "2.0.0", "hash2", "sha1b", 200)
	catalog.CreateComponent("other", "tool", "1.0.0", "hash3", "sha1c", 300)

	components, err := catalog.ListComponents()
	if err != nil {
		t.Fatalf("ListComponents: %v", err)
	}
	if len(components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(components))
	}

	// Insertion order is preserved.
	if components[0].Version != "1.0.0" || components[0].Group != "acme" {
		t.Errorf("unexpected first component: %+v", components[0])
	}
}

func TestListComponentsByPackage(t *testing.T) {
	catalog := newTestCatalog(t)

	catalog.CreateComponent("acme", "widget", "1.0.0", "hash1", "sha1a", 100)
	catalog.CreateComponent("acme", "widget", "2.0.0", "hash2", "sha1b", 200)
	catalog.CreateComponent("acme", "gadget", "1.0.0", "hash3", "sha1c", 300)

	components, err := catalog.ListComponentsByPackage("acme", "widget")
	if err != nil {
		t.Fatalf("ListComponentsByPackage: %v", err)
	}
	if len(components) != 2 {
		t.Errorf("expected 2 components, got %d", len(components))
	}
}

func TestDeleteComponent(t *testing.T) {
	catalog := newTestCatalog(t)

	catalog.CreateComponent("acme", "widget", "1.0.0", "hash1", "sha1a", 100)

	if err := catalog.DeleteComponent("acme", "widget", "1.0.0"); err != nil {
		t.Fatalf("DeleteComponent: %v", err)
	}

	c, _ := catalog.GetComponent("acme", "widget", "1.0.0")
	if c != nil {
		t.Error("component should be deleted")
	}
}

func TestDeleteComponentNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	err := catalog.DeleteComponent("acme", "missing", "1.0.0")
	if err == nil {
		t.Error("expected error deleting nonexistent component")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReferencedHashes(t *testing.T) {
	catalog := newTestCatalog(t)

	catalog.CreateComponent("acme", "widget", "1.0.0", "hash1", "sha1a", 100)
	catalog.CreateComponent("acme", "widget", "2.0.0", "hash2", "sha1b", 200)

	// Different package, same blob (dedup).
	catalog.CreateComponent("other", "tool", "1.0.0", "hash1", "sha1a", 100)

	refs, err := catalog.ReferencedHashes()
	if err != nil {
		t.Fatalf("ReferencedHashes: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 unique hashes, got %d", len(refs))
	}
	if !refs["hash1"] || !refs["hash2"] {
		t.Error("missing expected hash")
	}
}

func TestSQLiteCatalogDataDir(t *testing.T) {
	dir := t.TempDir()
	catalog, err := NewSQLiteCatalog(dir)
	if err != nil {
		t.Fatalf("NewSQLiteCatalog: %v", err)
	}
	catalog.Close()

	// Verify the database file was created.
	if _, err := os.Stat(dir + "/catalog.db"); os.IsNotExist(err) {
		t.Error("expected catalog.db to exist")
	}
}
