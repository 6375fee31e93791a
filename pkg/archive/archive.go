// Package archive anchors receipt-ledger checkpoints to durable,
// content-addressed blob storage. Grounded on the reference repo's
// pkg/artifacts (S3Store/GCSStore), generalized from arbitrary
// artifact bytes to serialized checkpoint bundles (the Merkle leaf
// set a checkpoint's root was computed over).
package archive

import "context"

// Archive persists opaque, content-addressed blobs and returns a
// stable reference ("sha256:<hex>") a Checkpoint.ArchiveRef can carry.
type Archive interface {
	// Store persists data and returns its content reference. Storing
	// the same bytes twice is idempotent and returns the same ref.
	Store(ctx context.Context, data []byte) (string, error)

	// Get retrieves data previously stored under ref.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Exists reports whether ref has been stored.
	Exists(ctx context.Context, ref string) (bool, error)
}

// NopArchive discards writes and reports nothing as stored. It is the
// default when no durable archive backend is configured: checkpoints
// still compute and sign a Merkle root, they simply have no anchored
// bundle to fetch later.
type NopArchive struct{}

func (NopArchive) Store(_ context.Context, _ []byte) (string, error) { return "", nil }
func (NopArchive) Get(_ context.Context, ref string) ([]byte, error) {
	return nil, errNotArchived(ref)
}
func (NopArchive) Exists(_ context.Context, _ string) (bool, error) { return false, nil }

type notArchivedError string

func (e notArchivedError) Error() string { return "archive: " + string(e) + " was never stored (no backend configured)" }

func errNotArchived(ref string) error { return notArchivedError(ref) }
