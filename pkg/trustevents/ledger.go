// Package trustevents implements the trust-event ledger referenced by
// spec §3/§4.5: a separate, per-actor hash chain of trust-affecting
// outcomes (INTERACTION/RESONANCE/ALIGNMENT/DIVERGENCE/CONFLICT/
// DISCLOSURE), consumed by external reputation logic. Grounded on the
// reference repo's pkg/ledger (the same append/verify shape as
// pkg/receipts, applied to a distinct chain and entity).
package trustevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trusterr"
)

// MonthlyCumulativeCap bounds how much trust_delta may accrue on an
// actor's chain in a trailing 30-day window (spec §4.5 rate limit). The
// trust range is [-1, 1], so 20% of it is 0.4 in absolute terms;
// expressed here as a magnitude bound on the signed sum. The sum covers
// every event on the actor's chain whatever its subject; it is not kept
// separately per (actor, subject) relationship.
const MonthlyCumulativeCap = 0.4

const monthlyWindow = 30 * 24 * time.Hour

// Ledger is the trust-event chain, keyed per actor.
type Ledger struct {
	store store.Store
	clock func() time.Time
}

// New constructs a Ledger.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// ErrRateLimited is returned when appending a trust event would push
// the actor's trailing 30-day cumulative delta, summed across all
// subjects, past MonthlyCumulativeCap (spec §4.5 invariant; enforced at
// the trust-event ledger level).
var ErrRateLimited = errors.New("trustevents: monthly cumulative delta rate limit exceeded")

// Append writes one trust event onto actorID's chain, enforcing the
// monthly cumulative rate limit before committing.
func (l *Ledger) Append(ctx context.Context, actorID, subjectID uuid.UUID, eventType contracts.TrustEventType, delta canonicalize.Decimal3, ctxData map[string]interface{}) (contracts.TrustEvent, error) {
	if d := delta.Float64(); d > contracts.MaxTrustDeltaMagnitude || d < -contracts.MaxTrustDeltaMagnitude {
		return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("trustevents: delta %.3f exceeds |%.1f| magnitude bound", d, contracts.MaxTrustDeltaMagnitude))
	}

	since := canonicalize.NewTimestamp(l.clock().Add(-monthlyWindow))
	priorSum, err := l.store.SumTrustDeltaSince(ctx, actorID, since)
	if err != nil {
		return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("trustevents: sum window: %v", err))
	}
	projected := priorSum + delta.Float64()
	if projected > MonthlyCumulativeCap || projected < -MonthlyCumulativeCap {
		return contracts.TrustEvent{}, ErrRateLimited
	}

	tail, err := l.store.TailTrustEvent(ctx, actorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("trustevents: read tail: %v", err))
	}
	prevHash := tail.ContentHash
	if prevHash == "" {
		prevHash = genesisHash
	}

	e := contracts.TrustEvent{
		TrustEventID: uuid.New(),
		ActorID:      actorID,
		SubjectID:    subjectID,
		EventType:    eventType,
		TrustDelta:   delta,
		Context:      ctxData,
		PreviousHash: prevHash,
		CreatedAt:    canonicalize.NewTimestamp(l.clock()),
	}
	bodyBytes, err := e.ContentHashBytes()
	if err != nil {
		return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("trustevents: canonicalize: %v", err))
	}
	e.ContentHash = canonicalize.HashBytes(bodyBytes)

	if err := l.store.AppendTrustEvent(ctx, e); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrConcurrency, "trustevents: append raced")
		}
		return contracts.TrustEvent{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("trustevents: append: %v", err))
	}
	return e, nil
}

// SubjectForDispute selects the CONFLICT event's subject when a
// negotiation has more than two participants: "first other participant
// in canonical (lexicographic-by-ID) order" (spec §9 Open Question #2,
// resolved explicitly here; see DESIGN.md).
func SubjectForDispute(disputer uuid.UUID, participants []uuid.UUID) (uuid.UUID, bool) {
	var best uuid.UUID
	found := false
	for _, p := range participants {
		if p == disputer {
			continue
		}
		if !found || p.String() < best.String() {
			best = p
			found = true
		}
	}
	return best, found
}

// genesisHash is the previous_hash value of an actor's first trust event.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
