package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Mover relocates objects inside a Cloud Storage bucket. Cloud Storage has no
// native rename, so a move is a server-side copy followed by a delete of the
// source object.
type Mover struct {
	client *gcs.Client
}

// NewMover constructs a Mover backed by the provided Cloud Storage client.
func NewMover(client *gcs.Client) (*Mover, error) {
	if client == nil {
		return nil, errors.New("storage mover: client is required")
	}
	return &Mover{client: client}, nil
}

// MoveObject copies the source object to the destination path and deletes the
// source. A failed delete after a successful copy is reported so callers can
// decide whether the leftover staging object matters.
func (m *Mover) MoveObject(ctx context.Context, bucket, sourceObject, destObject string) error {
	if m == nil || m.client == nil {
		return errors.New("storage mover: client is not initialised")
	}

	bucketName := strings.TrimSpace(bucket)
	srcObject := strings.TrimSpace(sourceObject)
	dstObject := strings.TrimSpace(destObject)

	if bucketName == "" || srcObject == "" || dstObject == "" {
		return errors.New("storage mover: bucket, source, and destination must be provided")
	}
	if srcObject == dstObject {
		return nil
	}

	src := m.client.Bucket(bucketName).Object(srcObject)
	dst := m.client.Bucket(bucketName).Object(dstObject)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("storage mover: copy %s to %s: %w", srcObject, dstObject, err)
	}
	if err := src.Delete(ctx); err != nil {
		return fmt.Errorf("storage mover: delete source %s after copy: %w", srcObject, err)
	}
	return nil
}

// Close releases the underlying client.
func (m *Mover) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
