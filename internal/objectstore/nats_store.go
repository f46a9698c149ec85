// Package objectstore provides a NATS JetStream implementation of the
// ObjectStore interface. The service keeps two buckets: one spooling inbound
// chapter text, one holding finished audio payloads for pickup.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsObjectStore implements core.ObjectStore on a single JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Narrator %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object by key. The close error is surfaced even
// when the read itself succeeded.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, getErr := n.store.Get(key)
	if getErr != nil {
		return nil, fmt.Errorf("failed to fetch '%s' from bucket '%s': %w", key, n.bucket, getErr)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	switch {
	case readErr != nil:
		return nil, fmt.Errorf("failed to read payload of '%s': %w", key, readErr)
	case closeErr != nil:
		return data, fmt.Errorf("failed to release '%s': %w", key, closeErr)
	default:
		return data, nil
	}
}

// Upload stores an object under the given key.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte) error {
	meta := &nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}

	_, putErr := n.store.Put(meta, bytes.NewReader(data))
	if putErr != nil {
		return fmt.Errorf("failed to store '%s' in bucket '%s': %w", key, n.bucket, putErr)
	}

	return nil
}
