package hashing

import "testing"

func TestBlobDir(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"abcdef1234", "ab"},
		{"a", "a"},
		{"", ""},
	}

	for _, tt := range tests {
		got := BlobDir(tt.hash)
		if got != tt.want {
			t.Errorf("BlobDir(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}
