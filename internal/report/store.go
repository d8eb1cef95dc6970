package report

import "context"

// Store persists the aggregate document and its append-only snapshots.
type Store interface {
	// Get returns nil, nil when the document has never been persisted.
	Get(ctx context.Context, documentID string) (*Document, error)
	Put(ctx context.Context, documentID string, doc Document) error
	// PutSnapshot fails with ErrSnapshotExists when the version is already stored.
	PutSnapshot(ctx context.Context, documentID string, snap Snapshot) error
	// ListSnapshots returns metadata ordered by ascending version.
	ListSnapshots(ctx context.Context, documentID string) ([]SnapshotMeta, error)
	// GetSnapshot fails with ErrSnapshotNotFound for an unknown version.
	GetSnapshot(ctx context.Context, documentID string, version int) (*Snapshot, error)
}
