package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is the object store trimmed activity rows are archived to. Archive
// objects are write-once.
type Storage interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	PutStream(ctx context.Context, key string, content io.Reader, contentType string) error
}
