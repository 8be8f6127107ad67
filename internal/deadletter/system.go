package deadletter

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/pkg/storage"
)

// System defines the public contract for dead-letter operations.
type System interface {
	Handler(replayer Replayer) *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Record], error)

	Find(ctx context.Context, id uuid.UUID) (*Record, error)
	Create(ctx context.Context, cmd CreateCommand) (*Record, error)
	// Snapshot returns the payload snapshot captured when the record was created.
	Snapshot(ctx context.Context, rec *Record) ([]byte, error)
	// Payload returns the snapshot blob's metadata and a reader over its
	// content, for streaming inspection. The caller closes the reader.
	Payload(ctx context.Context, rec *Record) (*storage.BlobInfo, io.ReadCloser, error)
	MarkReplayed(ctx context.Context, id uuid.UUID) (*Record, error)
}
