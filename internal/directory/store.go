// Package directory provides storage backends for the event/room/thread
// directory.
package directory

import "context"

// UpdateFunc transforms the current value of a record during an atomic
// read-modify-write. found reports whether the key existed; returning an
// error aborts the update without writing.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a mapping from string keys to opaque serialized records. Absent
// keys are reported through the found flag, never as an error. All methods
// are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (record []byte, found bool, err error)
	Put(ctx context.Context, key string, record []byte) error
	ContainsKey(ctx context.Context, key string) (bool, error)

	// Update applies fn to the record under key atomically with respect to
	// concurrent updates of the same key. The event room-append is the only
	// caller that mutates an existing record.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	Ping(ctx context.Context) error
	Close() error
}
