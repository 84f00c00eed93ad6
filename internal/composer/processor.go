package composer

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/composer-registry/server/internal/core/models"
	"github.com/composer-registry/server/internal/core/services"
)

// packageJSONPath is the provider URL template advertised in packages.json.
const packageJSONPath = "/p/%package%.json"

// timeFormat renders timestamps with an explicit numeric offset; UTC times
// serialize as +00:00, which is what Composer clients expect in the time
// field.
const timeFormat = "2006-01-02T15:04:05-07:00"

// Repository exposes the stable base URL under which every generated
// artifact and provider URL lives.
type Repository interface {
	URL() string
}

// Processor transforms Composer index documents: it rewrites upstream
// provider documents so dists point back at this repository, synthesizes
// provider documents for hosted components, and merges member documents for
// group repositories.
type Processor struct {
	blobs     services.BlobStorage
	extractor ManifestExtractor
	logger    zerolog.Logger
}

// NewProcessor creates a Processor. The blob storage and extractor are only
// exercised by BuildProviderJSON; the purely document-shaped operations
// never touch them.
func NewProcessor(blobs services.BlobStorage, extractor ManifestExtractor, logger zerolog.Logger) *Processor {
	return &Processor{
		blobs:     blobs,
		extractor: extractor,
		logger:    logger,
	}
}

// GeneratePackagesFromList builds a packages.json document from an upstream
// list document of the form {"packageNames": [...]}.
func (p *Processor) GeneratePackagesFromList(repo Repository, payload []byte) (*Document, error) {
	doc, err := ParseDocument(payload)
	if err != nil {
		return nil, err
	}
	v, ok := doc.Get(keyPackageNames)
	if !ok {
		return nil, &TypeError{Key: keyPackageNames, Want: "array", Got: nil}
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &TypeError{Key: keyPackageNames, Want: "array", Got: v}
	}
	names := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, &TypeError{Key: keyPackageNames, Want: "string element", Got: e}
		}
		names = append(names, s)
	}
	return buildPackagesJSON(repo, names), nil
}

// GeneratePackagesFromComponents builds a packages.json document covering
// every component of a hosted repository.
func (p *Processor) GeneratePackagesFromComponents(repo Repository, components []models.Component) *Document {
	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, c.PackageName())
	}
	return buildPackagesJSON(repo, names)
}

// GeneratePackagesFromUpstream builds a packages.json document from
// whichever shape a proxied upstream serves: a list document
// ({"packageNames": [...]}) or a full packages document, whose provider
// names are reused.
func (p *Processor) GeneratePackagesFromUpstream(repo Repository, payload []byte) (*Document, error) {
	doc, err := ParseDocument(payload)
	if err != nil {
		return nil, err
	}
	if doc.Has(keyPackageNames) {
		return p.GeneratePackagesFromList(repo, payload)
	}
	return p.MergePackagesJSON(repo, [][]byte{payload})
}

// MergePackagesJSON merges member packages.json payloads into one document
// carrying the union of their provider names. The providers-url is always
// regenerated for the current repository, never copied from an input.
func (p *Processor) MergePackagesJSON(repo Repository, payloads [][]byte) (*Document, error) {
	var names []string
	for _, payload := range payloads {
		doc, err := ParseDocument(payload)
		if err != nil {
			return nil, err
		}
		providers, err := doc.Object(keyProviders)
		if err != nil {
			return nil, err
		}
		if providers == nil {
			continue
		}
		names = append(names, providers.Keys()...)
	}
	return buildPackagesJSON(repo, names), nil
}

// RewriteProviderJSON reshapes an upstream provider document: source
// entries are removed and zip dists are rebuilt to point at this
// repository. Non-zip dists pass through untouched. Missing structure is
// tolerated; a wrongly shaped field is a TypeError.
func (p *Processor) RewriteProviderJSON(repo Repository, payload []byte) (*Document, error) {
	doc, err := ParseDocument(payload)
	if err != nil {
		return nil, err
	}
	packages, err := doc.Object(keyPackages)
	if err != nil {
		return nil, err
	}
	if packages == nil {
		return doc, nil
	}
	for _, packageName := range packages.Keys() {
		versions, err := packages.Object(packageName)
		if err != nil {
			return nil, err
		}
		for _, version := range versions.Keys() {
			info, err := versions.Object(version)
			if err != nil {
				return nil, err
			}
			// Never expose upstream source locations to clients.
			info.Delete(keySource)

			dist, err := info.Object(keyDist)
			if err != nil {
				return nil, err
			}
			if dist == nil {
				continue
			}
			if t, _ := dist.Get(keyType); t != zipType {
				continue
			}
			reference, _ := dist.Get(keyReference)
			shasum, _ := dist.Get(keyShasum)
			newDist, err := buildDistInfo(repo, packageName, version, reference, shasum, zipType)
			if err != nil {
				return nil, err
			}
			info.Set(keyDist, newDist)
		}
	}
	return doc, nil
}

// BuildProviderJSON synthesizes a provider document for hosted components.
// Each component contributes one version record built from the manifest
// inside its archive; the component checksum serves as both dist reference
// and shasum. A component whose archive cannot be read or whose manifest
// cannot be extracted fails the whole build, so the served index is never
// silently missing versions that exist in the catalog.
func (p *Processor) BuildProviderJSON(ctx context.Context, repo Repository, components []models.Component) (*Document, error) {
	packages := NewDocument()
	for _, c := range components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		manifest, err := p.extractManifest(c)
		if err != nil {
			return nil, fmt.Errorf("component %s %s: %w", c.PackageName(), c.Version, err)
		}

		name := c.PackageName()
		timeStr := c.UpdatedAt.UTC().Format(timeFormat)
		info, err := buildPackageInfo(repo, name, c.Version, c.SHA1, c.SHA1, zipType, timeStr, manifest)
		if err != nil {
			return nil, err
		}

		versions, err := packages.Object(name)
		if err != nil {
			return nil, err
		}
		if versions == nil {
			versions = NewDocument()
			packages.Set(name, versions)
		}
		versions.Set(c.Version, info)
	}

	doc := NewDocument()
	doc.Set(keyPackages, packages)
	return doc, nil
}

func (p *Processor) extractManifest(c models.Component) (*Document, error) {
	rc, err := p.blobs.Open(c.Hash)
	if err != nil {
		return nil, fmt.Errorf("opening archive blob: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading archive blob: %w", err)
	}
	return p.extractor.ExtractFromZip(data)
}

// MergeProviderJSON merges member provider payloads into one document
// containing the minimal field subset needed to download artifacts.
// Versions lacking a dist are skipped; for a given package/version slot the
// first payload in input order wins, which is how member priority is
// realized. A version record without a time field falls back to now.
func (p *Processor) MergeProviderJSON(repo Repository, payloads [][]byte, now time.Time) (*Document, error) {
	currentTime := now.UTC().Format(timeFormat)

	packages := NewDocument()
	for _, payload := range payloads {
		doc, err := ParseDocument(payload)
		if err != nil {
			return nil, err
		}
		src, err := doc.Object(keyPackages)
		if err != nil {
			return nil, err
		}
		if src == nil {
			continue
		}
		for _, packageName := range src.Keys() {
			versions, err := src.Object(packageName)
			if err != nil {
				return nil, err
			}
			for _, version := range versions.Keys() {
				info, err := versions.Object(version)
				if err != nil {
					return nil, err
				}
				dist, err := info.Object(keyDist)
				if err != nil {
					return nil, err
				}
				if dist == nil {
					p.logger.Debug().
						Str("package", packageName).
						Str("version", version).
						Msg("skipping merge entry without dist")
					continue
				}

				merged, err := packages.Object(packageName)
				if err != nil {
					return nil, err
				}
				if merged == nil {
					merged = NewDocument()
					packages.Set(packageName, merged)
				}
				if merged.Has(version) {
					// An earlier, higher-priority payload already
					// claimed this slot.
					continue
				}

				timeStr, ok, err := info.String(keyTime)
				if err != nil {
					return nil, err
				}
				if !ok {
					timeStr = currentTime
				}

				reference, _ := dist.Get(keyReference)
				shasum, _ := dist.Get(keyShasum)
				distType, _ := dist.Get(keyType)
				rec, err := buildPackageInfo(repo, packageName, version, reference, shasum, distType, timeStr, info)
				if err != nil {
					return nil, err
				}
				merged.Set(version, rec)
			}
		}
	}

	doc := NewDocument()
	doc.Set(keyPackages, packages)
	return doc, nil
}

// DistURL looks up packages[vendor/project][version].dist.url in a provider
// document. Any absent level is ErrNotFound.
func DistURL(doc *Document, vendor, project, version string) (string, error) {
	name := vendor + "/" + project
	packages, err := doc.Object(keyPackages)
	if err != nil {
		return "", err
	}
	if packages == nil {
		return "", fmt.Errorf("%w: no packages in document", ErrNotFound)
	}
	pkg, err := packages.Object(name)
	if err != nil {
		return "", err
	}
	if pkg == nil {
		return "", fmt.Errorf("%w: package %s", ErrNotFound, name)
	}
	info, err := pkg.Object(version)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("%w: %s version %s", ErrNotFound, name, version)
	}
	dist, err := info.Object(keyDist)
	if err != nil {
		return "", err
	}
	if dist == nil {
		return "", fmt.Errorf("%w: %s %s has no dist", ErrNotFound, name, version)
	}
	url, ok, err := dist.String(keyURL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s %s has no dist url", ErrNotFound, name, version)
	}
	return url, nil
}

// buildPackagesJSON emits a packages.json document for a deduplicated,
// order-stable set of provider names. Every provider entry carries a null
// sha256 so clients always re-fetch the provider document.
func buildPackagesJSON(repo Repository, names []string) *Document {
	doc := NewDocument()
	doc.Set(keyProvidersURL, repo.URL()+packageJSONPath)

	providers := NewDocument()
	for _, name := range names {
		if providers.Has(name) {
			continue
		}
		entry := NewDocument()
		entry.Set(keySHA256, nil)
		providers.Set(name, entry)
	}
	doc.Set(keyProviders, providers)
	return doc
}

// buildPackageInfo assembles one version record: name, version, a freshly
// built dist, the release time, a deterministic uid, and any allow-listed
// fields carried over from src.
func buildPackageInfo(repo Repository, packageName, version string, reference, shasum, distType any, timeStr string, src *Document) (*Document, error) {
	dist, err := buildDistInfo(repo, packageName, version, reference, shasum, distType)
	if err != nil {
		return nil, err
	}

	info := NewDocument()
	info.Set(keyName, packageName)
	info.Set(keyVersion, version)
	info.Set(keyDist, dist)
	info.Set(keyTime, timeStr)
	info.Set(keyUID, computeUID(packageName, version, timeStr))

	if src != nil {
		for _, key := range passThroughKeys {
			if v, ok := src.Get(key); ok {
				info.Set(key, v)
			}
		}
	}
	return info, nil
}

// buildDistInfo builds the dist descriptor for one version, pointing at the
// repository's own zipball path.
func buildDistInfo(repo Repository, packageName, version string, reference, shasum, distType any) (*Document, error) {
	vendor, project, err := SplitName(packageName)
	if err != nil {
		return nil, err
	}
	dist := NewDocument()
	dist.Set(keyURL, repo.URL()+"/"+ZipballPath(vendor, project, version))
	dist.Set(keyType, distType)
	dist.Set(keyReference, reference)
	dist.Set(keyShasum, shasum)
	return dist, nil
}

// computeUID derives the version record uid from the package name, version
// and release time: the first 32 bits of the md5 digest of their
// concatenation, little-endian. Stable across runs; uniqueness is not
// enforced.
func computeUID(packageName, version, timeStr string) uint32 {
	sum := md5.Sum([]byte(packageName + version + timeStr))
	return binary.LittleEndian.Uint32(sum[:4])
}
