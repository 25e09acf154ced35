// Package storage uploads finished videos to object storage.
package storage

import (
	"context"
	"path"
)

// Provider stores artifacts under a key.
type Provider interface {
	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, key, localPath string) error

	// CheckBucket makes sure the target bucket exists.
	CheckBucket(ctx context.Context) error
}

// VideoKey is the object key of a session's video.
func VideoKey(session string) string {
	return path.Join(session, "video.mp4")
}
