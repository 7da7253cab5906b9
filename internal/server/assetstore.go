// assetstore.go - Backends holding uploaded images.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// Object is a stored asset read into memory.
type Object struct {
	Data    []byte
	ModTime time.Time
}

// AssetStore reads and writes assets by slash-separated key relative to
// the upload root. Keys are validated by ResolveAssetPath before they
// reach a store.
type AssetStore interface {
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete removes key; a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// FSStore keeps assets under a directory on local disk.
type FSStore struct {
	Root string
}

// NewFSStore creates root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FSStore{Root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	rel, err := ResolveAssetPath(s.Root, strings.Split(key, "/"))
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(rel)), nil
}

// Get returns ErrAssetNotFound for missing, unreadable or directory paths.
func (s *FSStore) Get(ctx context.Context, key string) (*Object, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return nil, ErrAssetNotFound
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, ErrAssetNotFound
	}
	return &Object{Data: data, ModTime: info.ModTime()}, nil
}

// Put writes to a temporary file in the target directory and renames it
// into place, so readers never see a partial image.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, ".upload-"+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Delete removes the file at key.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// MinioStore keeps assets in a bucket under Prefix.
type MinioStore struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

func (s *MinioStore) objectKey(key string) string {
	return path.Join(s.Prefix, key)
}

// Get returns ErrAssetNotFound when the object does not exist.
func (s *MinioStore) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err)
	}
	defer func() { _ = obj.Close() }()

	info, err := obj.Stat()
	if err != nil {
		return nil, mapMinioError(err)
	}
	var buf bytes.Buffer
	buf.Grow(int(info.Size))
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, mapMinioError(err)
	}
	return &Object{Data: buf.Bytes(), ModTime: info.LastModified}, nil
}

// Put streams r into the bucket; size may be -1 when unknown.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.Client.PutObject(ctx, s.Bucket, s.objectKey(key), r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: assetCacheControl,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes the object at key. S3 treats a missing key as success.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.Client.RemoveObject(ctx, s.Bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func mapMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrAssetNotFound
	}
	return err
}
