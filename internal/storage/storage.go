// Package storage archives exported funnel documents, either in a local
// directory or in an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/funnel-studio/internal/config"
)

// ErrNotFound is returned when an archived object does not exist.
var ErrNotFound = errors.New("archived object not found")

// Archive stores export documents under slash-separated keys.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New creates the archive selected by cfg.Type.
func New(ctx context.Context, cfg config.ExportConfig) (Archive, error) {
	switch cfg.Type {
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("export type s3 requires s3_bucket")
		}
		return NewS3ArchiveFromConfig(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, cfg.GetAWSProfile())
	case "local", "":
		return NewLocalArchive(cfg.LocalPath)
	}
	return nil, fmt.Errorf("unknown export type %q", cfg.Type)
}

// LocalArchive keeps documents as files below a root directory.
type LocalArchive struct {
	root string
}

// NewLocalArchive creates root if needed.
func NewLocalArchive(root string) (*LocalArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{root: root}, nil
}

func (a *LocalArchive) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return filepath.Join(a.root, clean), nil
}

// Put writes data atomically under key.
func (a *LocalArchive) Put(_ context.Context, key string, data []byte) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Get reads the document stored under key.
func (a *LocalArchive) Get(_ context.Context, key string) ([]byte, error) {
	p, err := a.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// List returns the sorted keys that start with prefix.
func (a *LocalArchive) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(a.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
