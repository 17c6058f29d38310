package storage

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	objectsDir  = "objects"
	metadataDir = ".meta"
)

// FilesystemBackend implements Backend on the local filesystem. Bodies live
// under root/objects and JSON sidecars under root/.meta, so no object key
// can collide with a sidecar.
type FilesystemBackend struct {
	rootPath string
}

// NewFilesystemBackend creates a new filesystem storage backend
func NewFilesystemBackend(config Config) (*FilesystemBackend, error) {
	for _, dir := range []string{objectsDir, metadataDir} {
		if err := os.MkdirAll(filepath.Join(config.Root, dir), 0755); err != nil {
			return nil, NewErrorWithCause("CreateRootDir", "Failed to create root directory", err)
		}
	}
	return &FilesystemBackend{rootPath: config.Root}, nil
}

// RootPath returns the directory the backend writes to
func (fs *FilesystemBackend) RootPath() string {
	return fs.rootPath
}

// Put stores an object. The body is written to a temp file and renamed into
// place, so readers never observe a partial object.
func (fs *FilesystemBackend) Put(ctx context.Context, path string, data io.Reader, opts PutOptions) (*ObjectInfo, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	fullPath := fs.objectPath(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, NewErrorWithCause("CreateDirectory", "Failed to create directory", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return nil, NewErrorWithCause("CreateTempFile", "Failed to create temporary file", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	md5Hasher := md5.New()
	shaHasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tempFile, md5Hasher, shaHasher), data)
	if err != nil {
		return nil, NewErrorWithCause("WriteData", "Failed to write data", err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, NewErrorWithCause("WriteData", "Failed to flush data", err)
	}

	info := &ObjectInfo{
		Path:         path,
		Size:         size,
		LastModified: time.Now().UTC().Truncate(time.Second),
		ETag:         hex.EncodeToString(md5Hasher.Sum(nil)),
		SHA256:       hex.EncodeToString(shaHasher.Sum(nil)),
		ContentType:  opts.ContentType,
		Metadata:     opts.Metadata,
	}
	if info.ContentType == "" {
		info.ContentType = "application/octet-stream"
	}

	if opts.ExpectedSHA256 != "" && !strings.EqualFold(opts.ExpectedSHA256, info.SHA256) {
		logrus.WithFields(logrus.Fields{
			"path":     path,
			"declared": opts.ExpectedSHA256,
			"actual":   info.SHA256,
		}).Debug("Discarding write with mismatched payload hash")
		return nil, ErrChecksumMismatch
	}

	if err := fs.saveMetadata(path, info); err != nil {
		return nil, err
	}

	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		return nil, NewErrorWithCause("AtomicMove", "Failed to move file to final location", err)
	}

	return info, nil
}

// Get retrieves an object and its metadata
func (fs *FilesystemBackend) Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	info, err := fs.Head(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fs.objectPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, NewErrorWithCause("OpenFile", "Failed to open file", err)
	}
	return file, info, nil
}

// Head returns object metadata without opening the body
func (fs *FilesystemBackend) Head(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.metadataPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, NewErrorWithCause("ReadMetadata", "Failed to read metadata file", err)
	}

	var info ObjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, NewErrorWithCause("ParseMetadata", "Failed to parse metadata", err)
	}
	return &info, nil
}

// Delete removes an object and its sidecar
func (fs *FilesystemBackend) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}

	if err := os.Remove(fs.objectPath(path)); err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return NewErrorWithCause("DeleteFile", "Failed to delete file", err)
	}

	if err := os.Remove(fs.metadataPath(path)); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("path", path).Warn("Failed to remove metadata sidecar")
	}
	return nil
}

// List walks the sidecar tree and returns objects under prefix
func (fs *FilesystemBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	metaRoot := filepath.Join(fs.rootPath, metadataDir)
	var objects []ObjectInfo

	err := filepath.WalkDir(metaRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}

		rel, err := filepath.Rel(metaRoot, p)
		if err != nil {
			return nil
		}
		objPath := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if !strings.HasPrefix(objPath, prefix) {
			return nil
		}

		info, err := fs.Head(ctx, objPath)
		if err != nil {
			logrus.WithError(err).WithField("path", objPath).Debug("Skipping unreadable sidecar")
			return nil
		}
		objects = append(objects, *info)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, NewErrorWithCause("WalkDirectory", "Failed to walk directory", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

// Close closes the filesystem backend
func (fs *FilesystemBackend) Close() error {
	return nil
}

// validatePath validates that the path is safe for filesystem operations
func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, '\\') {
			return ErrInvalidPath
		}
		if strings.HasPrefix(seg, ".tmp_") {
			return ErrInvalidPath
		}
	}
	return nil
}

func (fs *FilesystemBackend) objectPath(path string) string {
	return filepath.Join(fs.rootPath, objectsDir, filepath.FromSlash(path))
}

func (fs *FilesystemBackend) metadataPath(path string) string {
	return filepath.Join(fs.rootPath, metadataDir, filepath.FromSlash(path)+".json")
}

func (fs *FilesystemBackend) saveMetadata(path string, info *ObjectInfo) error {
	metadataPath := fs.metadataPath(path)
	if err := os.MkdirAll(filepath.Dir(metadataPath), 0755); err != nil {
		return NewErrorWithCause("CreateMetadataDirectory", "Failed to create metadata directory", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return NewErrorWithCause("MarshalMetadata", "Failed to marshal metadata", err)
	}

	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		return NewErrorWithCause("WriteMetadata", "Failed to write metadata file", err)
	}
	return nil
}
