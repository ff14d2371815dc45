package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const localRefPrefix = "file://"

// LocalArtifactStore keeps artifacts under a directory on local disk.
type LocalArtifactStore struct {
	root string
}

// NewLocalArtifactStore creates the root directory if it doesn't exist.
func NewLocalArtifactStore(root string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &LocalArtifactStore{root: root}, nil
}

func (s *LocalArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := s.path(key)
	if err != nil {
		return "", err
	}
	// ✅ Ensure the directory for the destination file exists
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return "", err
	}

	// Write to a temp file first so a failed write never leaves a partial artifact.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return localRefPrefix + key, nil
}

func (s *LocalArtifactStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, ref)
	}
	return data, err
}

func (s *LocalArtifactStore) Delete(ctx context.Context, ref string) error {
	p, err := s.refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalArtifactStore) refPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, localRefPrefix) {
		return "", fmt.Errorf("not a local artifact reference: %s", ref)
	}
	return s.path(strings.TrimPrefix(ref, localRefPrefix))
}

func (s *LocalArtifactStore) path(key string) (string, error) {
	root := filepath.Clean(s.root)
	p := filepath.Join(root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal artifact key: %s", key)
	}
	return p, nil
}
