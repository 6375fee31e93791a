// Package store is the durable persistence layer for negotiations,
// receipts, trust events, and appeals. It mirrors the reference
// ledger package's shape (a narrow interface plus a SQL-backed and an
// in-memory implementation) generalized from a single Obligation
// table to the Trust Primitive's four aggregates.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by CAS-style writes when the expected prior
// state doesn't match what's currently persisted (spec §4.4's
// concurrency invariant: concurrent writers must not silently clobber
// each other).
var ErrConflict = errors.New("store: conflict")

// ErrDuplicateKey is returned when a unique id constraint (one
// negotiation, message, or appeal per id) is violated.
var ErrDuplicateKey = errors.New("store: duplicate key")

// Store is the durable interface every negotiation, receipt,
// trust-event, and appeal operation is built on.
type Store interface {
	// Negotiations

	CreateNegotiation(ctx context.Context, n contracts.Negotiation) error
	GetNegotiation(ctx context.Context, id uuid.UUID) (contracts.Negotiation, error)
	// UpdateNegotiation performs a compare-and-swap keyed on
	// expectedVersion (the negotiation's TermsVersion at read time),
	// enforcing the monotonic-version invariant at the storage layer.
	UpdateNegotiation(ctx context.Context, n contracts.Negotiation, expectedVersion int) error
	ListExpirable(ctx context.Context, before canonicalize.Timestamp) ([]contracts.Negotiation, error)

	// Protocol messages (append-only log, spec §6 "negotiation_messages")

	AppendMessage(ctx context.Context, m contracts.NegotiationMessage) error
	ListMessages(ctx context.Context, negotiationID uuid.UUID) ([]contracts.NegotiationMessage, error)

	// Receipts (per-principal hash chain)

	AppendReceipt(ctx context.Context, r contracts.Receipt) error
	TailReceipt(ctx context.Context, principalID uuid.UUID) (contracts.Receipt, error)
	ListReceipts(ctx context.Context, principalID uuid.UUID, sinceSeq int64) ([]contracts.Receipt, error)
	ListReceiptsInWindow(ctx context.Context, from, to canonicalize.Timestamp) ([]contracts.Receipt, error)

	// Trust events (per-actor hash chain)

	AppendTrustEvent(ctx context.Context, e contracts.TrustEvent) error
	TailTrustEvent(ctx context.Context, actorID uuid.UUID) (contracts.TrustEvent, error)
	SumTrustDeltaSince(ctx context.Context, actorID uuid.UUID, since canonicalize.Timestamp) (float64, error)

	// Appeals

	CreateAppeal(ctx context.Context, a contracts.Appeal) error
	GetAppeal(ctx context.Context, id uuid.UUID) (contracts.Appeal, error)
	UpdateAppeal(ctx context.Context, a contracts.Appeal) error
	ListAppealsByStatus(ctx context.Context, status contracts.AppealStatus) ([]contracts.Appeal, error)

	// Checkpoints

	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LatestCheckpoint(ctx context.Context) (Checkpoint, error)
}

// Checkpoint is a Merkle root committed over a window of receipts
// (spec §9 Open Question #3), optionally anchored off-host via
// pkg/archive.
type Checkpoint struct {
	CheckpointID uuid.UUID              `json:"checkpoint_id"`
	WindowFrom   canonicalize.Timestamp `json:"window_from"`
	WindowTo     canonicalize.Timestamp `json:"window_to"`
	MerkleRoot   string                 `json:"merkle_root"`
	LeafCount    int                    `json:"leaf_count"`
	SystemSig    string                 `json:"system_signature,omitempty"`
	CreatedAt    canonicalize.Timestamp `json:"created_at"`
	ArchiveRef   string                 `json:"archive_ref,omitempty"`
}
