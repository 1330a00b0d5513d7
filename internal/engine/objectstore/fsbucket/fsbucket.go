// Package fsbucket implements objectstore.Bucket on the local filesystem,
// for local-dev and single-node deployments.
package fsbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
)

// Bucket stores one file per key under root, plus a "<key>.meta.json"
// sidecar holding the custom metadata map (filesystems have no native
// object metadata).
type Bucket struct {
	root string
}

// New returns a Bucket rooted at dir, creating it if necessary.
func New(dir string) (*Bucket, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsbucket: create root %q: %w", dir, err)
	}
	return &Bucket{root: dir}, nil
}

func (b *Bucket) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	full := filepath.Join(b.root, clean)
	if full != b.root && !pathIsInside(full, b.root) {
		return "", fmt.Errorf("fsbucket: key %q escapes root", key)
	}
	return full, nil
}

func pathIsInside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (b *Bucket) Put(_ context.Context, key string, data []byte, opts objectstore.PutOptions) error {
	full, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fsbucket: create parent dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("fsbucket: write %q: %w", key, err)
	}

	meta := map[string]string{}
	for k, v := range opts.CustomMetadata {
		meta[k] = v
	}
	if opts.ContentType != "" {
		meta["__contentType"] = opts.ContentType
	}
	if opts.CacheControl != "" {
		meta["__cacheControl"] = opts.CacheControl
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("fsbucket: marshal metadata: %w", err)
	}
	if err := os.WriteFile(full+".meta.json", encoded, 0o644); err != nil {
		return fmt.Errorf("fsbucket: write metadata %q: %w", key, err)
	}
	return nil
}

func (b *Bucket) Get(_ context.Context, key string) (*objectstore.GetResult, error) {
	full, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("fsbucket: read %q: %w", key, err)
	}

	meta := map[string]string{}
	if raw, err := os.ReadFile(full + ".meta.json"); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	delete(meta, "__contentType")
	delete(meta, "__cacheControl")

	return &objectstore.GetResult{Data: data, CustomMetadata: meta}, nil
}

func (b *Bucket) Delete(_ context.Context, key string) error {
	full, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return objectstore.ErrNotFound
		}
		return fmt.Errorf("fsbucket: delete %q: %w", key, err)
	}
	_ = os.Remove(full + ".meta.json")
	return nil
}
