package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgForeignKeyViolation is the SQLSTATE for a missing referenced row.
const pgForeignKeyViolation = "23503"

// pageUploadResp is the JSON response returned after a page upload.
type pageUploadResp struct {
	ID        int64  `json:"id"`
	ChapterID int64  `json:"chapter_id"`
	Number    int    `json:"number"`
	ImagePath string `json:"image_path"`
	URL       string `json:"url"`
}

// pageKey is the storage key of a chapter page. The key carries a
// prefix of the content's SHA-256, so a replaced page gets a new URL.
func pageKey(chapterID int64, number int, ext string, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("capitulos/%d/pagina_%d_%d_%s%s",
		chapterID, chapterID, number, hex.EncodeToString(sum[:6]), strings.ToLower(ext))
}

// handlePageUpload handles POST /api/admin/chapters/{chapterID}/pages.
//
// Form fields: number (page number, 1-based) and file (the image). A
// page number that already exists is replaced and its old object removed.
func (s *Server) handlePageUpload(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())

	chapterID, err := strconv.ParseInt(chi.URLParam(r, "chapterID"), 10, 64)
	if err != nil || chapterID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "bad chapter id")
		return
	}

	if r.ContentLength > s.cfg.MaxUploadBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "bad multipart")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	number, err := strconv.Atoi(r.FormValue("number"))
	if err != nil || number <= 0 {
		writeJSONError(w, http.StatusBadRequest, "bad page number")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := assetContentTypes[ext]; !ok {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported image type")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad multipart")
		return
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "file is not an image")
		return
	}

	// The current image of this page, if any; no row means no chapter.
	var current sql.NullString
	err = s.cfg.DB.QueryRowContext(r.Context(),
		`SELECT p.image_path FROM chapters c
		 LEFT JOIN pages p ON p.chapter_id = c.id AND p.number = $2
		 WHERE c.id = $1`,
		chapterID, number,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSONError(w, http.StatusNotFound, "chapter not found")
		return
	}
	if err != nil {
		s.log.Error("chapter lookup failed", map[string]any{"rid": rid, "chapter_id": chapterID}, err)
		writeJSONError(w, http.StatusInternalServerError, "db error")
		return
	}

	key := pageKey(chapterID, number, ext, data)
	alreadyStored := current.Valid && current.String == key
	if !alreadyStored {
		if err := s.cfg.Assets.Put(r.Context(), key, data); err != nil {
			s.log.Error("store page failed", map[string]any{"rid": rid, "key": key}, err)
			writeJSONError(w, http.StatusBadGateway, "upload failed")
			return
		}
	}

	var pageID int64
	err = s.cfg.DB.QueryRowContext(r.Context(),
		`INSERT INTO pages (chapter_id, number, image_path) VALUES ($1, $2, $3)
		 ON CONFLICT (chapter_id, number) DO UPDATE SET image_path = EXCLUDED.image_path
		 RETURNING id`,
		chapterID, number, key,
	).Scan(&pageID)
	if err != nil {
		// Nothing references the new object; do not leave it publicly served.
		if !alreadyStored {
			s.discardAsset(r.Context(), rid, key)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			writeJSONError(w, http.StatusNotFound, "chapter not found")
			return
		}
		s.log.Error("save page failed", map[string]any{"rid": rid, "key": key}, err)
		writeJSONError(w, http.StatusInternalServerError, "db error")
		return
	}
	if current.Valid && current.String != key {
		s.discardAsset(r.Context(), rid, current.String)
	}

	s.log.Info("page uploaded", map[string]any{
		"rid":        rid,
		"chapter_id": chapterID,
		"number":     number,
		"bytes":      len(data),
	})
	writeJSON(w, http.StatusCreated, pageUploadResp{
		ID:        pageID,
		ChapterID: chapterID,
		Number:    number,
		ImagePath: key,
		URL:       assetPrefix + key,
	})
}

// discardAsset removes key, even when the request has already ended.
func (s *Server) discardAsset(ctx context.Context, rid, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.cfg.Assets.Delete(ctx, key); err != nil {
		s.log.Error("remove page object failed", map[string]any{"rid": rid, "key": key}, err)
	}
}
