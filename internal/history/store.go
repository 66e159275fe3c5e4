package history

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no recording exists for the requested ID.
var ErrNotFound = errors.New("history: recording not found")

// Store persists completed recordings. Implementations must be safe for
// concurrent use and must enforce the [Capacity] bound on Append.
type Store interface {
	// Append stores rec as the newest entry. When the store already holds
	// [Capacity] entries the oldest insertion is evicted. Implementations
	// fill in SearchText when it is empty.
	Append(ctx context.Context, rec Recording) error

	// List returns all recordings, newest insertion first.
	List(ctx context.Context) ([]Recording, error)

	// Get returns the recording with the given ID.
	Get(ctx context.Context, id string) (Recording, error)

	// UpdateTitle renames the recording and refreshes its search text.
	UpdateTitle(ctx context.Context, id, title string) (Recording, error)

	// Delete removes one recording. The relative order of the remaining
	// entries is preserved.
	Delete(ctx context.Context, id string) error

	// Clear removes all recordings.
	Clear(ctx context.Context) error

	// Search returns recordings whose search text contains query
	// (case-insensitive), newest first. An empty query matches everything.
	Search(ctx context.Context, query string) ([]Recording, error)
}
