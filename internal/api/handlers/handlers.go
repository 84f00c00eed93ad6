package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/composer-registry/server/internal/composer"
	"github.com/composer-registry/server/internal/config"
	"github.com/composer-registry/server/internal/core/models"
	"github.com/composer-registry/server/internal/core/services"
	"github.com/composer-registry/server/internal/util/logging"
)

// Handler serves the Composer repository surface for one repository in one
// of the three delivery modes. Index endpoints are anonymous (Composer
// clients do not authenticate for reads); upload, delete and GC require a
// token.
type Handler struct {
	repo        config.RepositoryConfig
	proc        *composer.Processor
	extractor   composer.ManifestExtractor
	blobs       services.BlobStorage
	catalog     services.Catalog
	auth        services.Authenticator
	upstream    services.UpstreamClient
	logger      zerolog.Logger
	locksMu     sync.Mutex
	uploadLocks map[string]*componentLock
}

// New creates a Handler with the given dependencies.
func New(
	repo config.RepositoryConfig,
	proc *composer.Processor,
	extractor composer.ManifestExtractor,
	blobs services.BlobStorage,
	catalog services.Catalog,
	auth services.Authenticator,
	upstream services.UpstreamClient,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		repo:        repo,
		proc:        proc,
		extractor:   extractor,
		blobs:       blobs,
		catalog:     catalog,
		auth:        auth,
		upstream:    upstream,
		logger:      logger,
		uploadLocks: make(map[string]*componentLock),
	}
}

// Router returns the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestIDMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/packages.json", h.PackagesJSON)
	r.Get("/p/{vendor}/{project}.json", h.ProviderJSON)
	r.Get("/{vendor}/{project}/{version}/{zipball}", h.Zipball)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Put("/packages/{vendor}/{project}/{version}", h.UploadComponent)
		r.Delete("/packages/{vendor}/{project}/{version}", h.DeleteComponent)
		r.Post("/gc", h.GarbageCollect)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// requestIDMiddleware adds a unique request ID to each request.
func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := logging.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logging.LogRequest(h.logger, r.Context(), r.Method, r.URL.Path, rw.status, rw.written, time.Since(start))
	})
}

// authMiddleware validates the bearer token on write endpoints.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if !h.auth.ValidateToken(token) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PackagesJSON handles GET /packages.json
func (h *Handler) PackagesJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch h.repo.Mode {
	case config.ModeHosted:
		components, err := h.catalog.ListComponents()
		if err != nil {
			h.logger.Error().Err(err).Msg("listing components")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.writeDocument(w, h.proc.GeneratePackagesFromComponents(h.repo, components))

	case config.ModeProxy:
		payload, err := h.upstream.Fetch(ctx, h.repo.UpstreamURL+"/packages.json")
		if err != nil {
			h.upstreamError(w, err, "fetching upstream packages.json")
			return
		}
		doc, err := h.proc.GeneratePackagesFromUpstream(h.repo, payload)
		if err != nil {
			h.documentError(w, err, "generating packages.json from upstream")
			return
		}
		h.writeDocument(w, doc)

	case config.ModeGroup:
		payloads, err := h.fetchMemberDocuments(r, "/packages.json")
		if err != nil {
			h.upstreamError(w, err, "fetching member packages.json")
			return
		}
		doc, err := h.proc.MergePackagesJSON(h.repo, payloads)
		if err != nil {
			h.documentError(w, err, "merging member packages.json")
			return
		}
		h.writeDocument(w, doc)
	}
}

// ProviderJSON handles GET /p/{vendor}/{project}.json
func (h *Handler) ProviderJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendor := chi.URLParam(r, "vendor")
	project := chi.URLParam(r, "project")

	switch h.repo.Mode {
	case config.ModeHosted:
		components, err := h.catalog.ListComponentsByPackage(vendor, project)
		if err != nil {
			h.logger.Error().Err(err).Msg("listing package components")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if len(components) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("package %s/%s not found", vendor, project))
			return
		}
		doc, err := h.proc.BuildProviderJSON(ctx, h.repo, components)
		if err != nil {
			h.logger.Error().Err(err).Str("vendor", vendor).Str("project", project).Msg("building provider json")
			writeError(w, http.StatusInternalServerError, "could not build provider document")
			return
		}
		h.writeDocument(w, doc)

	case config.ModeProxy:
		payload, err := h.upstream.Fetch(ctx, h.providerURL(h.repo.UpstreamURL, vendor, project))
		if err != nil {
			h.upstreamError(w, err, "fetching upstream provider")
			return
		}
		doc, err := h.proc.RewriteProviderJSON(h.repo, payload)
		if err != nil {
			h.documentError(w, err, "rewriting upstream provider")
			return
		}
		h.writeDocument(w, doc)

	case config.ModeGroup:
		payloads, err := h.fetchMemberDocuments(r, h.providerPath(vendor, project))
		if err != nil {
			h.upstreamError(w, err, "fetching member providers")
			return
		}
		if len(payloads) == 0 {
			writeError(w, http.StatusNotFound, fmt.Sprintf("package %s/%s not found in any member", vendor, project))
			return
		}
		doc, err := h.proc.MergeProviderJSON(h.repo, payloads, time.Now())
		if err != nil {
			h.documentError(w, err, "merging member providers")
			return
		}
		h.writeDocument(w, doc)
	}
}

// Zipball handles GET /{vendor}/{project}/{version}/{zipball}
func (h *Handler) Zipball(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendor := chi.URLParam(r, "vendor")
	project := chi.URLParam(r, "project")
	version := chi.URLParam(r, "version")
	zipball := chi.URLParam(r, "zipball")

	if zipball != composer.ZipballName(vendor, project, version) {
		writeError(w, http.StatusNotFound, "no such archive")
		return
	}

	switch h.repo.Mode {
	case config.ModeHosted:
		h.serveHostedZipball(w, r, vendor, project, version)

	case config.ModeProxy:
		payload, err := h.upstream.Fetch(ctx, h.providerURL(h.repo.UpstreamURL, vendor, project))
		if err != nil {
			h.upstreamError(w, err, "fetching upstream provider")
			return
		}
		doc, err := composer.ParseDocument(payload)
		if err != nil {
			h.documentError(w, err, "parsing upstream provider")
			return
		}
		distURL, err := composer.DistURL(doc, vendor, project, version)
		if err != nil {
			if errors.Is(err, composer.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("%s/%s %s not available upstream", vendor, project, version))
				return
			}
			h.documentError(w, err, "resolving dist url")
			return
		}
		h.streamUpstream(w, r, distURL)

	case config.ModeGroup:
		// Walk members in priority order; the first one that knows the
		// version serves it.
		for _, member := range h.repo.Members {
			payload, err := h.upstream.Fetch(ctx, h.providerURL(member, vendor, project))
			if err != nil {
				if errors.Is(err, services.ErrNotFound) {
					continue
				}
				h.upstreamError(w, err, "fetching member provider")
				return
			}
			doc, err := composer.ParseDocument(payload)
			if err != nil {
				h.documentError(w, err, "parsing member provider")
				return
			}
			distURL, err := composer.DistURL(doc, vendor, project, version)
			if err != nil {
				if errors.Is(err, composer.ErrNotFound) {
					continue
				}
				h.documentError(w, err, "resolving dist url")
				return
			}
			h.streamUpstream(w, r, distURL)
			return
		}
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s/%s %s not found in any member", vendor, project, version))
	}
}

func (h *Handler) serveHostedZipball(w http.ResponseWriter, r *http.Request, vendor, project, version string) {
	component, err := h.catalog.GetComponent(vendor, project, version)
	if err != nil {
		h.logger.Error().Err(err).Msg("getting component")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if component == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("component %s/%s %s not found", vendor, project, version))
		return
	}

	reader, err := h.blobs.Open(component.Hash)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive blob missing on disk")
			return
		}
		h.logger.Error().Err(err).Str("hash", component.Hash).Msg("opening blob")
		writeError(w, http.StatusInternalServerError, "blob not found on disk")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", component.Size))
	w.Header().Set("X-Checksum-SHA1", component.SHA1)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", logging.RequestID(r.Context())).
			Str("package", vendor+"/"+project).
			Str("version", version).
			Msg("streaming archive response")
	}
}

func (h *Handler) streamUpstream(w http.ResponseWriter, r *http.Request, url string) {
	reader, err := h.upstream.OpenStream(r.Context(), url)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not available upstream")
			return
		}
		h.logger.Error().Err(err).Str("url", url).Msg("opening upstream artifact")
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Error().
			Err(err).
			Str("request_id", logging.RequestID(r.Context())).
			Str("url", url).
			Msg("streaming proxied artifact")
	}
}

// UploadComponent handles PUT /packages/{vendor}/{project}/{version}
func (h *Handler) UploadComponent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vendor := chi.URLParam(r, "vendor")
	project := chi.URLParam(r, "project")
	version := chi.URLParam(r, "version")

	if h.repo.Mode != config.ModeHosted {
		writeError(w, http.StatusMethodNotAllowed, "uploads are only supported by hosted repositories")
		return
	}

	unlock := h.lockComponentUpload(vendor, project, version)
	defer unlock()

	existing, err := h.catalog.GetComponent(vendor, project, version)
	if err != nil {
		h.logger.Error().Err(err).Msg("checking existing component")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("component %s/%s %s already exists", vendor, project, version))
		return
	}

	hash, sha1sum, size, err := h.blobs.Store(r.Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("storing blob")
		writeError(w, http.StatusInternalServerError, "failed to store archive")
		return
	}

	// The archive must carry a composer.json or provider synthesis would
	// fail later for every version of the package. An orphaned blob from a
	// rejected upload is reclaimed by GC.
	if err := h.validateArchive(hash); err != nil {
		h.logger.Warn().Err(err).Str("hash", hash).Msg("rejecting archive without usable manifest")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid archive: %v", err))
		return
	}

	component, err := h.catalog.CreateComponent(vendor, project, version, hash, sha1sum, size)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			writeError(w, http.StatusConflict, fmt.Sprintf("component %s/%s %s already exists", vendor, project, version))
			return
		}
		h.logger.Error().Err(err).Msg("creating component")
		writeError(w, http.StatusInternalServerError, "failed to create component")
		return
	}

	h.logger.Info().
		Str("request_id", logging.RequestID(r.Context())).
		Str("package", component.PackageName()).
		Str("version", version).
		Str("hash", hash).
		Int64("size", size).
		Dur("upload_latency", time.Since(start)).
		Msg("component upload completed")

	writeJSON(w, http.StatusCreated, models.UploadResponse{
		Package:  component.PackageName(),
		Version:  version,
		Hash:     component.Hash,
		SHA1:     component.SHA1,
		Size:     component.Size,
		Uploaded: component.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) validateArchive(hash string) error {
	reader, err := h.blobs.Open(hash)
	if err != nil {
		return fmt.Errorf("opening stored blob: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading stored blob: %w", err)
	}
	if _, err := h.extractor.ExtractFromZip(data); err != nil {
		return err
	}
	return nil
}

// DeleteComponent handles DELETE /packages/{vendor}/{project}/{version}
func (h *Handler) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	project := chi.URLParam(r, "project")
	version := chi.URLParam(r, "version")

	if err := h.catalog.DeleteComponent(vendor, project, version); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("deleting component")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GarbageCollect handles POST /gc
func (h *Handler) GarbageCollect(w http.ResponseWriter, r *http.Request) {
	referenced, err := h.catalog.ReferencedHashes()
	if err != nil {
		h.logger.Error().Err(err).Msg("getting referenced hashes")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	blobs, err := h.blobs.ListBlobs()
	if err != nil {
		h.logger.Error().Err(err).Msg("listing blobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var deleted int
	var freed int64
	for _, hash := range blobs {
		if referenced[hash] {
			continue
		}

		path := h.blobs.BlobPath(hash)
		info, err := os.Stat(path)
		if err == nil {
			freed += info.Size()
		}

		if err := h.blobs.Delete(hash); err != nil {
			h.logger.Error().Err(err).Str("hash", hash).Msg("deleting unreferenced blob")
			continue
		}
		deleted++
		h.logger.Info().Str("hash", hash).Msg("garbage collected blob")
	}

	writeJSON(w, http.StatusOK, models.GCResult{
		DeletedBlobs: deleted,
		FreedBytes:   freed,
	})
}

// fetchMemberDocuments retrieves one document path from every group member
// in priority order. Members that do not have the document are skipped; any
// other failure aborts, so a transient member outage cannot silently shrink
// the merged result.
func (h *Handler) fetchMemberDocuments(r *http.Request, path string) ([][]byte, error) {
	var payloads [][]byte
	for _, member := range h.repo.Members {
		payload, err := h.upstream.Fetch(r.Context(), strings.TrimRight(member, "/")+path)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func (h *Handler) providerPath(vendor, project string) string {
	return "/p/" + vendor + "/" + project + ".json"
}

func (h *Handler) providerURL(base, vendor, project string) string {
	return strings.TrimRight(base, "/") + h.providerPath(vendor, project)
}

func (h *Handler) writeDocument(w http.ResponseWriter, doc *composer.Document) {
	data, err := doc.Serialize()
	if err != nil {
		h.logger.Error().Err(err).Msg("serializing document")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// upstreamError maps upstream retrieval failures: a missing upstream
// document is this repository's 404, anything else is a bad gateway.
func (h *Handler) upstreamError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, services.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not available upstream")
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusBadGateway, "upstream unavailable")
}

// documentError maps transformation failures: a malformed upstream document
// is a bad gateway, since the client's request was fine.
func (h *Handler) documentError(w http.ResponseWriter, err error, msg string) {
	h.logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusBadGateway, "upstream served an unusable document")
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: msg,
	})
}

// responseWriter wraps http.ResponseWriter to capture status and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (h *Handler) lockComponentUpload(vendor, project, version string) func() {
	key := vendor + "/" + project + "@" + version
	h.locksMu.Lock()
	lock, ok := h.uploadLocks[key]
	if !ok {
		lock = &componentLock{}
		h.uploadLocks[key] = lock
	}
	lock.refs++
	h.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		h.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(h.uploadLocks, key)
		}
		h.locksMu.Unlock()
	}
}

type componentLock struct {
	mu   sync.Mutex
	refs int
}
