// Package audit defines the durable audit sink: a batch of named byte
// blobs keyed by owner and session, written once per job execution.
package audit

import "context"

// Blob is one named artifact in a session batch.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
	// SHA256 is the hex content hash, set for raw file blobs.
	SHA256 string
}

// Sink persists a session batch. Implementations must treat the batch as
// one logical write: partial results are acceptable only on error return.
type Sink interface {
	PutBatch(ctx context.Context, ownerID, sessionID string, blobs []Blob) error
}
