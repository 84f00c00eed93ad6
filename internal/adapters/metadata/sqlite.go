package metadata

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/composer-registry/server/internal/core/models"
	"github.com/composer-registry/server/internal/core/services"

	_ "modernc.org/sqlite"
)

// SQLiteCatalog implements Catalog backed by SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates the SQLite database and runs migrations.
func NewSQLiteCatalog(dataDir string) (*SQLiteCatalog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := dataDir + "/catalog.db?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS components (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			grp        TEXT NOT NULL,
			name       TEXT NOT NULL,
			version    TEXT NOT NULL,
			hash       TEXT NOT NULL,
			sha1       TEXT NOT NULL,
			size       INTEGER NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(grp, name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_components_hash ON components(hash);
		CREATE INDEX IF NOT EXISTS idx_components_package ON components(grp, name);
	`)
	return err
}

func (s *SQLiteCatalog) CreateComponent(group, name, version, hash, sha1 string, size int64) (*models.Component, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		"INSERT INTO components (grp, name, version, hash, sha1, size, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		group, name, version, hash, sha1, size, now,
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: component version already exists", services.ErrConflict)
		}
		return nil, fmt.Errorf("creating component: %w", err)
	}

	id, _ := result.LastInsertId()
	return &models.Component{
		ID:        id,
		Group:     group,
		Name:      name,
		Version:   version,
		Hash:      hash,
		SHA1:      sha1,
		Size:      size,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteCatalog) GetComponent(group, name, version string) (*models.Component, error) {
	var c models.Component
	err := s.db.QueryRow(`
		SELECT id, grp, name, version, hash, sha1, size, updated_at
		FROM components WHERE grp = ? AND name = ? AND version = ?
	`, group, name, version).Scan(&c.ID, &c.Group, &c.Name, &c.Version, &c.Hash, &c.SHA1, &c.Size, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting component: %w", err)
	}
	return &c, nil
}

func (s *SQLiteCatalog) ListComponents() ([]models.Component, error) {
	return s.queryComponents(`
		SELECT id, grp, name, version, hash, sha1, size, updated_at
		FROM components ORDER BY id
	`)
}

func (s *SQLiteCatalog) ListComponentsByPackage(group, name string) ([]models.Component, error) {
	return s.queryComponents(`
		SELECT id, grp, name, version, hash, sha1, size, updated_at
		FROM components WHERE grp = ? AND name = ? ORDER BY id
	`, group, name)
}

func (s *SQLiteCatalog) queryComponents(query string, args ...any) ([]models.Component, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing components: %w", err)
	}
	defer rows.Close()

	var components []models.Component
	for rows.Next() {
		var c models.Component
		if err := rows.Scan(&c.ID, &c.Group, &c.Name, &c.Version, &c.Hash, &c.SHA1, &c.Size, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning component: %w", err)
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

func (s *SQLiteCatalog) DeleteComponent(group, name, version string) error {
	result, err := s.db.Exec(
		"DELETE FROM components WHERE grp = ? AND name = ? AND version = ?",
		group, name, version,
	)
	if err != nil {
		return fmt.Errorf("deleting component: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: component %s/%s %s", services.ErrNotFound, group, name, version)
	}
	return nil
}

func (s *SQLiteCatalog) ReferencedHashes() (map[string]bool, error) {
	rows, err := s.db.Query("SELECT DISTINCT hash FROM components")
	if err != nil {
		return nil, fmt.Errorf("querying referenced hashes: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning hash: %w", err)
		}
		refs[h] = true
	}
	return refs, rows.Err()
}

func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
