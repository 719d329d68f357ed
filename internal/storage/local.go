package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// LocalObjectStore implements ObjectStore on the local file system.
// Object metadata is kept in a sidecar JSON file next to each object.
// It is the default backend for development and the test double for
// the cloud backends.
type LocalObjectStore struct {
	basePath    string
	permissions os.FileMode
}

// LocalConfig holds local backend configuration
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// Validate checks the local backend configuration
func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return backup.NewConfigurationError("local object store requires a base path", nil)
	}
	return nil
}

// NewLocalObjectStore creates a new LocalObjectStore instance
func NewLocalObjectStore(config *LocalConfig) (*LocalObjectStore, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("local object store configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0o755
	}

	store := &LocalObjectStore{
		basePath:    config.BasePath,
		permissions: permissions,
	}

	if err := os.MkdirAll(config.BasePath, permissions); err != nil {
		return nil, backup.NewStorageError("failed to create base directory", err)
	}

	return store, nil
}

// PutObject writes the object and its metadata sidecar atomically via
// a rename from a temp file.
func (l *LocalObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	objectPath, err := l.objectPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), l.permissions); err != nil {
		return backup.NewStorageError("failed to create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objectPath), ".upload-*")
	if err != nil {
		return backup.NewStorageError("failed to create temp object file", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return backup.NewStorageError("failed to write object data", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return backup.NewStorageError("failed to close object file", err)
	}

	if err := os.Rename(tmpPath, objectPath); err != nil {
		os.Remove(tmpPath)
		return backup.NewStorageError("failed to finalize object file", err)
	}

	if err := l.writeMetadata(objectPath, metadata); err != nil {
		return err
	}

	return nil
}

// GetObject opens the object for reading along with its metadata.
func (l *LocalObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	objectPath, err := l.objectPath(key)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(objectPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, nil, backup.NewStorageError("failed to open object", err)
	}

	metadata, err := l.readMetadata(objectPath)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return file, metadata, nil
}

// HeadObject returns the object's metadata without reading its body.
func (l *LocalObjectStore) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	objectPath, err := l.objectPath(key)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(objectPath); err != nil {
		if os.IsNotExist(err) {
			return nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, backup.NewStorageError("failed to stat object", err)
	}

	return l.readMetadata(objectPath)
}

// DeleteObject removes the object and its metadata sidecar. Missing
// keys are not an error.
func (l *LocalObjectStore) DeleteObject(ctx context.Context, key string) error {
	objectPath, err := l.objectPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(objectPath); err != nil && !os.IsNotExist(err) {
		return backup.NewStorageError("failed to delete object", err)
	}
	if err := os.Remove(metadataPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return backup.NewStorageError("failed to delete object metadata", err)
	}

	return nil
}

// HealthCheck verifies the base directory exists and is writable.
func (l *LocalObjectStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(l.basePath)
	if err != nil {
		return backup.NewStorageError("local object store base path is not accessible", err)
	}
	if !info.IsDir() {
		return backup.NewStorageError("local object store base path is not a directory", nil)
	}

	probe, err := os.CreateTemp(l.basePath, ".healthcheck-*")
	if err != nil {
		return backup.NewStorageError("local object store base path is not writable", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return nil
}

// Provider returns the backend name
func (l *LocalObjectStore) Provider() string {
	return "local"
}

// objectPath resolves a key to a path under the base directory,
// rejecting keys that would escape it.
func (l *LocalObjectStore) objectPath(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", backup.NewStorageError("invalid object key: "+key, nil)
	}
	return filepath.Join(l.basePath, cleaned), nil
}

func metadataPath(objectPath string) string {
	return objectPath + ".meta.json"
}

func (l *LocalObjectStore) writeMetadata(objectPath string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return backup.NewStorageError("failed to serialize object metadata", err)
	}

	if err := os.WriteFile(metadataPath(objectPath), data, 0o644); err != nil {
		return backup.NewStorageError("failed to write object metadata", err)
	}

	return nil
}

func (l *LocalObjectStore) readMetadata(objectPath string) (map[string]string, error) {
	data, err := os.ReadFile(metadataPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, backup.NewStorageError("failed to read object metadata", err)
	}

	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, backup.NewStorageError("failed to parse object metadata", err)
	}

	return metadata, nil
}
