package utils

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore keeps uploaded result files. Put returns an opaque reference that
// Fetch and Delete accept later.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// ArtifactKey builds a collision-free object key, e.g. "artifacts/<user>/<uuid>-my-run.zip".
func ArtifactKey(userID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".bin"
	}
	base := slug.Make(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	name := uuid.NewString()
	if base != "" {
		name += "-" + base
	}
	return "artifacts/" + slug.Make(userID) + "/" + name + ext
}
