// Package objstore defines the object store protocol the plugin consumes
// and its two implementations: the S3 backend and an in-memory store used
// by tests.
package objstore

import (
	"context"
	"fmt"
)

// Store is the data-transfer medium between the dispatcher and the remote
// handler. Exists reports "not found" as (false, nil); only genuine backend
// failures (network, permission) surface as errors.
type Store interface {
	Put(ctx context.Context, bucket, key string, body []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Delete(ctx context.Context, bucket, key string) error
}

// TransferError is a store operation failure for a reason other than
// "not found". It aborts the current lifecycle phase.
type TransferError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("objstore %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
