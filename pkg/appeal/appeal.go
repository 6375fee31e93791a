// Package appeal implements the Trust Primitive appeal subsystem (C5):
// creation, resolver assignment, review board, resolution, withdrawal,
// and SLA escalation for the due-process record attached to a CONFLICT
// trust event. Grounded on the reference repo's pkg/escalation (Manager
// with mutex + clock + intent lifecycle), generalized from approval
// intents to negotiation dispute appeals.
package appeal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trusterr"
	"github.com/trustprimitive/core/pkg/trustevents"
)

// Outcome is the resolver's verdict on a resolved appeal.
type Outcome string

const (
	OutcomeAppellantFavor Outcome = "APPELLANT_FAVOR" // dispute was justified
	OutcomeSubjectFavor   Outcome = "SUBJECT_FAVOR"   // dispute was not justified
	OutcomeNoFault        Outcome = "NO_FAULT"        // neither side at fault
)

// resolutionDelta maps an outcome to the bounded trust_delta applied by
// its resolution event (spec §4.5: "applies a bounded trust_delta in
// response (magnitude <= 0.2, sign depending on outcome)"). Chosen
// magnitudes are half the maximum bound, leaving room for the original
// CONFLICT delta and the resolution delta to together never exceed the
// single-event bound on either side.
var resolutionDelta = map[Outcome]float64{
	OutcomeAppellantFavor: 0.1,
	OutcomeSubjectFavor:   -0.1,
	OutcomeNoFault:        0.0,
}

var resolutionEventType = map[Outcome]contracts.TrustEventType{
	OutcomeAppellantFavor: contracts.EventAlignment,
	OutcomeSubjectFavor:   contracts.EventDivergence,
	OutcomeNoFault:        contracts.EventInteraction,
}

// Service is the C5 appeal subsystem.
type Service struct {
	store    store.Store
	receipts *receipts.Ledger
	trust    *trustevents.Ledger
	clock    func() time.Time
}

// New constructs a Service.
func New(s store.Store, r *receipts.Ledger, t *trustevents.Ledger) *Service {
	return &Service{store: s, receipts: r, trust: t, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (svc *Service) WithClock(clock func() time.Time) *Service {
	svc.clock = clock
	return svc
}

// Create opens a PENDING appeal referencing a just-created CONFLICT
// trust event (spec §4.5 "Creation path"). Called exclusively from the
// negotiation engine's Dispute transition. No receipt is written here:
// the caller's DISPUTE_BINDING receipt already links negotiation_id,
// appeal_id, and trust_event_id.
func (svc *Service) Create(ctx context.Context, trustEventID, appellantID uuid.UUID, reason string, evidence map[string]interface{}) (contracts.Appeal, error) {
	now := canonicalize.NewTimestamp(svc.clock())
	a := contracts.Appeal{
		AppealID:       uuid.New(),
		TrustEventID:   trustEventID,
		AppellantID:    appellantID,
		Status:         contracts.AppealPending,
		AppealReason:   reason,
		Evidence:       evidence,
		SubmittedAt:    now,
		ReviewDeadline: canonicalize.NewTimestamp(now.Add(contracts.ReviewDeadlineWindow)),
	}
	if err := svc.store.CreateAppeal(ctx, a); err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: create: %v", err))
	}
	return a, nil
}

// AssignResolver transitions PENDING -> REVIEWING, assigning a resolver
// distinct from the appellant and the CONFLICT's subject (spec §4.5).
func (svc *Service) AssignResolver(ctx context.Context, appealID, subjectID, resolverID uuid.UUID) (contracts.Appeal, error) {
	a, err := svc.store.GetAppeal(ctx, appealID)
	if err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: get %s: %v", appealID, err))
	}
	if a.Status != contracts.AppealPending {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("appeal %s is %s, not PENDING", appealID, a.Status))
	}
	if resolverID == a.AppellantID || resolverID == subjectID {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "resolver must be distinct from appellant and subject")
	}

	a.ResolverID = &resolverID
	a.Status = contracts.AppealReviewing
	if err := svc.store.UpdateAppeal(ctx, a); err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: update %s: %v", appealID, err))
	}
	if _, err := svc.receipts.Append(ctx, resolverID, contracts.ActionAppealAssigned, map[string]interface{}{
		"appeal_id": appealID.String(), "appellant_id": a.AppellantID.String(),
	}); err != nil {
		return contracts.Appeal{}, err
	}
	return a, nil
}

// AddReviewBoard attaches 3-7 review board members, excluding the
// appellant, subject, and resolver (spec §4.5).
func (svc *Service) AddReviewBoard(ctx context.Context, appealID, subjectID uuid.UUID, members []uuid.UUID) (contracts.Appeal, error) {
	a, err := svc.store.GetAppeal(ctx, appealID)
	if err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: get %s: %v", appealID, err))
	}
	if len(members) < contracts.ReviewBoardMin || len(members) > contracts.ReviewBoardMax {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("review board size %d outside [%d,%d]", len(members), contracts.ReviewBoardMin, contracts.ReviewBoardMax))
	}
	for _, m := range members {
		if m == a.AppellantID || m == subjectID || (a.ResolverID != nil && m == *a.ResolverID) {
			return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "review board member overlaps appellant/subject/resolver")
		}
	}

	a.ReviewBoardIDs = members
	if err := svc.store.UpdateAppeal(ctx, a); err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: update %s: %v", appealID, err))
	}

	principal := a.AppellantID
	if a.ResolverID != nil {
		principal = *a.ResolverID
	}
	if _, err := svc.receipts.Append(ctx, principal, contracts.ActionAppealBoardSet, map[string]interface{}{
		"appeal_id": appealID.String(), "board_size": len(members),
	}); err != nil {
		return contracts.Appeal{}, err
	}
	return a, nil
}

// Resolve transitions REVIEWING -> RESOLVED, records the bounded
// trust-delta effect as a new chained resolution event on the
// relationship between appellantID and subjectID (spec §4.5: "updates
// the trust-event chain with a resolution event that references the
// appeal"). Trust events are append-only (spec §3), so resolution is
// modeled as a fresh chained event referencing the appeal rather than
// a mutation of the original CONFLICT event — see DESIGN.md.
func (svc *Service) Resolve(ctx context.Context, appealID, appellantID, subjectID uuid.UUID, outcome Outcome, summary string) (contracts.Appeal, error) {
	a, err := svc.store.GetAppeal(ctx, appealID)
	if err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: get %s: %v", appealID, err))
	}
	if a.Status != contracts.AppealReviewing {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("appeal %s is %s, not REVIEWING", appealID, a.Status))
	}

	delta, ok := resolutionDelta[outcome]
	if !ok {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("appeal: unknown outcome %q", outcome))
	}
	if !boundedDeltaCEL(delta) {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, "appeal: resolution delta exceeds bound")
	}

	if delta != 0 {
		if _, err := svc.trust.Append(ctx, appellantID, subjectID, resolutionEventType[outcome], canonicalize.NewDecimal3(delta), map[string]interface{}{
			"appeal_id": appealID.String(), "outcome": string(outcome), "summary": summary,
		}); err != nil {
			return contracts.Appeal{}, err
		}
	}

	now := canonicalize.NewTimestamp(svc.clock())
	a.Status = contracts.AppealResolved
	a.Resolution = summary
	a.ResolvedAt = &now
	if err := svc.store.UpdateAppeal(ctx, a); err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: update %s: %v", appealID, err))
	}

	principal := appellantID
	if a.ResolverID != nil {
		principal = *a.ResolverID
	}
	if _, err := svc.receipts.Append(ctx, principal, contracts.ActionAppealResolved, map[string]interface{}{
		"appeal_id": appealID.String(), "outcome": string(outcome),
	}); err != nil {
		return contracts.Appeal{}, err
	}
	return a, nil
}

// Withdraw is permitted by the appellant before REVIEWING (spec §4.5).
func (svc *Service) Withdraw(ctx context.Context, appealID, callerID uuid.UUID) (contracts.Appeal, error) {
	a, err := svc.store.GetAppeal(ctx, appealID)
	if err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: get %s: %v", appealID, err))
	}
	if callerID != a.AppellantID {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "only the appellant may withdraw an appeal")
	}
	if a.Status != contracts.AppealPending {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("appeal %s is %s, cannot withdraw after REVIEWING", appealID, a.Status))
	}

	a.Status = contracts.AppealWithdrawn
	if err := svc.store.UpdateAppeal(ctx, a); err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: update %s: %v", appealID, err))
	}
	if _, err := svc.receipts.Append(ctx, a.AppellantID, contracts.ActionAppealWithdrawn, map[string]interface{}{"appeal_id": appealID.String()}); err != nil {
		return contracts.Appeal{}, err
	}
	return a, nil
}

// Escalate is invoked by the scheduler on SLA breach (spec §4.5/§4.6).
// It is idempotent: escalating an already-ESCALATED or otherwise
// terminal appeal is a no-op, matching the scheduler's "every job is
// idempotent" contract.
func (svc *Service) Escalate(ctx context.Context, appealID uuid.UUID) (contracts.Appeal, error) {
	a, err := svc.store.GetAppeal(ctx, appealID)
	if err != nil {
		return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: get %s: %v", appealID, err))
	}
	now := svc.clock()
	if a.Status != contracts.AppealEscalated && (a.PendingSLABreached(now) || a.ReviewSLABreached(now)) {
		a.Status = contracts.AppealEscalated
		if err := svc.store.UpdateAppeal(ctx, a); err != nil {
			return contracts.Appeal{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("appeal: update %s: %v", appealID, err))
		}
		if _, err := svc.receipts.Append(ctx, a.AppellantID, contracts.ActionAppealEscalated, map[string]interface{}{"appeal_id": appealID.String()}); err != nil {
			return contracts.Appeal{}, err
		}
	}
	return a, nil
}

func boundedDelta(delta float64) bool {
	if delta < 0 {
		delta = -delta
	}
	return delta <= contracts.MaxTrustDeltaMagnitude
}
