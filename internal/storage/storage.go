// Package storage holds signed artifacts (the signature image or typed
// signature captured at completion). Production uses an S3-compatible
// bucket; a local directory store serves development setups without one.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore persists opaque artifact bytes under a key. Delete of a
// missing key is not an error.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by stores that can hand out time-limited
// download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SignatureKey returns the object key for the signature artifact of one
// signed document.
func SignatureKey(requestID, documentID, contentType string) string {
	return path.Join("signatures", requestID, documentID+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/plain", typedContentType:
		return ".txt"
	}
	return ".bin"
}

// validKey rejects empty, absolute and parent-relative keys.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return fmt.Errorf("invalid artifact key %q", key)
		}
	}
	return nil
}
