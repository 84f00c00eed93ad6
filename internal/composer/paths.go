package composer

import (
	"fmt"
	"strings"
)

// SplitName splits a vendor/project package name into its two segments.
// Anything other than exactly one separator is ErrMalformedName.
func SplitName(packageName string) (vendor, project string, err error) {
	parts := strings.Split(packageName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, packageName)
	}
	return parts[0], parts[1], nil
}

// ZipballPath returns the repository-relative path at which the archive for
// a vendor/project/version is served.
func ZipballPath(vendor, project, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s-%s.zip", vendor, project, version, vendor, project, version)
}

// ZipballName returns the file name component of a zipball path.
func ZipballName(vendor, project, version string) string {
	return fmt.Sprintf("%s-%s-%s.zip", vendor, project, version)
}
