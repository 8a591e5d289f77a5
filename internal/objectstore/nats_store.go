// Package objectstore stores synthesized audio artifacts in NATS JetStream.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const wavContentType = "audio/wav"

// ErrEmptyKey indicates an object key was empty.
var ErrEmptyKey = errors.New("object key cannot be empty")

// AudioStore implements core.ObjectStore on a JetStream object store bucket.
type AudioStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket when it does not exist yet, or binds to it when it
// does, and returns the store.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*AudioStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized audio artifacts (%s).", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to object store bucket '%s': %w", bucketName, err)
		}
	}

	return &AudioStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object by key.
func (s *AudioStore) Download(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object under key. WAV keys are annotated with their content
// type so downstream consumers need not sniff the payload.
func (s *AudioStore) Upload(_ context.Context, key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	meta := &nats.ObjectMeta{
		Name: key,
	}

	if strings.HasSuffix(key, ".wav") {
		meta.Metadata = map[string]string{
			"content-type": wavContentType,
		}
	}

	_, err := s.store.Put(meta, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
