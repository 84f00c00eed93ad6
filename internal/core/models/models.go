package models

import "time"

// Component is one hosted package version: a vendor/project pair, a
// version, and the checksums of its archive blob.
type Component struct {
	ID        int64     `json:"id"`
	Group     string    `json:"group"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Hash      string    `json:"hash"`
	SHA1      string    `json:"sha1"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PackageName returns the Composer vendor/project name of the component.
func (c Component) PackageName() string {
	return c.Group + "/" + c.Name
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type UploadResponse struct {
	Package  string `json:"package"`
	Version  string `json:"version"`
	Hash     string `json:"hash"`
	SHA1     string `json:"sha1"`
	Size     int64  `json:"size"`
	Uploaded string `json:"uploaded"`
}

type GCResult struct {
	DeletedBlobs int   `json:"deleted_blobs"`
	FreedBytes   int64 `json:"freed_bytes"`
}
