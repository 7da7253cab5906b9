// assets.go - Public read access to uploaded images under /uploads/.
//
// Paths are checked before any storage access. Responses are cached for
// a year as immutable, so stored keys must never be rewritten with new
// content; page uploads put a content hash in the key.
package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const (
	assetPrefix       = "/uploads/"
	assetCacheControl = "public, max-age=31536000, immutable"
)

var (
	// ErrAssetForbidden means the requested path leaves the upload root.
	ErrAssetForbidden = errors.New("asset path forbidden")
	// ErrAssetNotFound means nothing readable exists at the path.
	ErrAssetNotFound = errors.New("asset not found")
)

var assetContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// contentTypeForExt maps a file extension (any case) to its content type.
func contentTypeForExt(ext string) string {
	if ct, ok := assetContentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ResolveAssetPath joins segments onto root and returns the slash-separated
// key relative to root. The result must be a strict descendant of root.
func ResolveAssetPath(root string, segments []string) (string, error) {
	for _, seg := range segments {
		if strings.ContainsRune(seg, 0) || filepath.IsAbs(seg) || strings.ContainsRune(seg, '\\') {
			return "", ErrAssetForbidden
		}
	}

	base := filepath.Clean(root)
	full := filepath.Join(append([]string{base}, segments...)...)
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrAssetForbidden
	}
	return filepath.ToSlash(rel), nil
}

// FileResponse is a resolved asset with its response metadata.
type FileResponse struct {
	Data         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
}

// AssetServer serves assets from store, resolving paths against root.
type AssetServer struct {
	root  string
	store AssetStore
	log   *Logger
}

// NewAssetServer returns a server for the given store. root anchors path
// checks; for an FSStore it is the store's directory.
func NewAssetServer(root string, store AssetStore, logger *Logger) *AssetServer {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &AssetServer{root: root, store: store, log: logger}
}

// Serve reads the asset at segments.
func (as *AssetServer) Serve(ctx context.Context, segments []string) (*FileResponse, error) {
	key, err := ResolveAssetPath(as.root, segments)
	if err != nil {
		return nil, err
	}
	obj, err := as.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(obj.Data)
	return &FileResponse{
		Data:         obj.Data,
		ContentType:  contentTypeForExt(filepath.Ext(key)),
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		LastModified: obj.ModTime,
	}, nil
}

// Put stores an asset at key after the same path checks as Serve.
func (as *AssetServer) Put(ctx context.Context, key string, data []byte) error {
	clean, err := ResolveAssetPath(as.root, strings.Split(key, "/"))
	if err != nil {
		return err
	}
	return as.store.Put(ctx, clean, bytes.NewReader(data), int64(len(data)), contentTypeForExt(filepath.Ext(clean)))
}

// Delete removes the asset at key after the same path checks as Serve.
func (as *AssetServer) Delete(ctx context.Context, key string) error {
	clean, err := ResolveAssetPath(as.root, strings.Split(key, "/"))
	if err != nil {
		return err
	}
	return as.store.Delete(ctx, clean)
}

// ServeHTTP answers GET and HEAD for /uploads/<path>.
func (as *AssetServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.TrimPrefix(r.URL.Path, assetPrefix), "/")

	resp, err := as.Serve(r.Context(), segments)
	switch {
	case errors.Is(err, ErrAssetForbidden):
		assetResponses.WithLabelValues("forbidden").Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case errors.Is(err, ErrAssetNotFound):
		assetResponses.WithLabelValues("not_found").Inc()
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		assetResponses.WithLabelValues("error").Inc()
		as.log.Error("asset read failed", map[string]any{"rid": RequestIDFromContext(r.Context())}, err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Content-Type", resp.ContentType)
	h.Set("Cache-Control", assetCacheControl)
	h.Set("ETag", resp.ETag)
	assetResponses.WithLabelValues("ok").Inc()

	// ServeContent answers If-None-Match / If-Modified-Since with 304 and
	// writes Last-Modified.
	http.ServeContent(w, r, "", resp.LastModified, bytes.NewReader(resp.Data))
}
