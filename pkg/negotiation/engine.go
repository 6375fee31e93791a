// Package negotiation implements the Trust Primitive negotiation engine
// (C4): the state machine, its protocol transitions, consensus
// detection, and binding-hash derivation. Grounded in shape on the
// reference repo's pkg/governance (engine.go's precondition-checked
// transitions, lifecycle.go's state machine) and pkg/escalation
// (Manager pattern: mutex-guarded map, injected clock, typed errors),
// generalized from HELM's act-classification lifecycle to the Trust
// Primitive's offer/accept/finalize/withdraw/dispute protocol.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/appeal"
	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
	"github.com/trustprimitive/core/pkg/observability"
	"github.com/trustprimitive/core/pkg/receipts"
	"github.com/trustprimitive/core/pkg/store"
	"github.com/trustprimitive/core/pkg/trustcrypto"
	"github.com/trustprimitive/core/pkg/trusterr"
	"github.com/trustprimitive/core/pkg/trustevents"
)

// Engine is the C4 negotiation state machine. It owns no storage of
// its own: every transition reads, validates, mutates, and writes back
// through store.Store, with receipts appended via receipts.Ledger.
//
// Concurrency (spec §5): the Store's CAS on TermsVersion catches races
// at the storage layer, but since most of this engine's transitions
// don't change TermsVersion, Engine additionally serializes all
// transitions for a given negotiation with an in-process per-id mutex
// — the "tightly scoped transactional lock for one transition" spec §5
// describes, approximated here for a single-process host rather than a
// full cross-process serializable transaction. See DESIGN.md.
type Engine struct {
	store    store.Store
	receipts *receipts.Ledger
	trust    *trustevents.Ledger
	appeals  *appeal.Service
	clock    func() time.Time
	log      *slog.Logger
	obs      *observability.Provider

	// AuditRejectedSignatures enables writing a SIGNATURE_REJECTED
	// receipt on InvalidSignature (spec §7: "off by default to avoid
	// amplification").
	AuditRejectedSignatures bool

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New constructs an Engine.
func New(s store.Store, r *receipts.Ledger, t *trustevents.Ledger, a *appeal.Service) *Engine {
	return &Engine{
		store:    s,
		receipts: r,
		trust:    t,
		appeals:  a,
		clock:    time.Now,
		log:      slog.Default(),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger overrides the logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.log = logger
	return e
}

// WithObservability wires a Provider so every transition is wrapped in
// a span plus RED metrics.
func (e *Engine) WithObservability(obs *observability.Provider) *Engine {
	e.obs = obs
	return e
}

func (e *Engine) track(ctx context.Context, op string) (context.Context, func(error)) {
	if e.obs == nil {
		return ctx, func(error) {}
	}
	return e.obs.TrackTransition(ctx, op)
}

func (e *Engine) lockFor(id uuid.UUID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// minConsensusCount returns floor(n/2)+1, the majority threshold (spec
// §3/§4.4 "required_consensus_count ∈ [⌊|participants|/2⌋+1, |participants|]").
func minConsensusCount(participants int) int {
	return participants/2 + 1
}

// CreateOption customizes a negotiation at creation time.
type CreateOption func(*contracts.Negotiation)

// WithTermsSchema attaches a JSON Schema (draft 2020-12) that every
// offered terms object, the initial terms included, must validate
// against.
func WithTermsSchema(schema string) CreateOption {
	return func(n *contracts.Negotiation) { n.TermsSchema = schema }
}

// WithTermsPolicy attaches a CEL expression (bound variable "terms")
// that every offered terms object must satisfy.
func WithTermsPolicy(expr string) CreateOption {
	return func(n *contracts.Negotiation) { n.TermsPolicy = expr }
}

// Create implements create() (spec §4.4).
func (e *Engine) Create(ctx context.Context, creatorID uuid.UUID, participants []uuid.UUID, initialTerms interface{}, requiredConsensusCount int, deadline time.Time, opts ...CreateOption) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "create")
	n, err := e.doCreate(ctx, creatorID, participants, initialTerms, requiredConsensusCount, deadline, opts...)
	done(err)
	return n, err
}

func (e *Engine) doCreate(ctx context.Context, creatorID uuid.UUID, participants []uuid.UUID, initialTerms interface{}, requiredConsensusCount int, deadline time.Time, opts ...CreateOption) (contracts.Negotiation, error) {
	participants = ensureIncludes(participants, creatorID)
	if len(participants) < 2 {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrConsensusBounds, "negotiation requires at least 2 participants")
	}

	min := minConsensusCount(len(participants))
	if requiredConsensusCount == 0 {
		requiredConsensusCount = len(participants)
	}
	if requiredConsensusCount < min || requiredConsensusCount > len(participants) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrConsensusBounds, fmt.Sprintf("required_consensus_count %d outside [%d,%d]", requiredConsensusCount, min, len(participants)))
	}

	now := e.clock()
	if !deadline.After(now) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrDeadlinePassed, "negotiation deadline must be in the future")
	}

	n := contracts.Negotiation{
		NegotiationID:          uuid.New(),
		CreatorID:              creatorID,
		Participants:           participants,
		Joined:                 []uuid.UUID{creatorID},
		Status:                 contracts.StatusInitiated,
		CurrentTerms:           initialTerms,
		TermsVersion:           1,
		RequiredConsensusCount: requiredConsensusCount,
		Acceptances:            map[uuid.UUID]contracts.Acceptance{},
		Finalizations:          map[uuid.UUID]contracts.Finalization{},
		FrozenKeys:             map[uuid.UUID]string{},
		NegotiationDeadline:    canonicalize.NewTimestamp(deadline),
		CreatedAt:              canonicalize.NewTimestamp(now),
	}
	for _, opt := range opts {
		opt(&n)
	}
	if err := validateTerms(n, initialTerms); err != nil {
		return contracts.Negotiation{}, err
	}

	if err := e.store.CreateNegotiation(ctx, n); err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: create: %v", err))
	}

	termsHash, err := canonicalize.HashHex(initialTerms)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: hash initial terms: %v", err))
	}
	if err := e.recordMessage(ctx, n.NegotiationID, creatorID, contracts.MessageOffer, map[string]interface{}{
		"terms_version": 1,
		"terms_hash":    termsHash,
	}, "", false); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, creatorID, contracts.ActionCreateNegotiation, map[string]interface{}{
		"negotiation_id":           n.NegotiationID.String(),
		"participants":             uuidStrings(participants),
		"required_consensus_count": requiredConsensusCount,
		"terms_hash":               termsHash,
	}); err != nil {
		return contracts.Negotiation{}, err
	}

	e.log.Info("negotiation created", "negotiation_id", n.NegotiationID, "creator_id", creatorID, "participants", len(participants))
	return n, nil
}

// Join implements join() (spec §4.4). This implementation resolves §9
// Open Question #1 by transitioning to NEGOTIATING on the first join,
// recording that choice in every JOIN_NEGOTIATION receipt.
func (e *Engine) Join(ctx context.Context, negotiationID, principalID uuid.UUID) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "join")
	n, err := e.doJoin(ctx, negotiationID, principalID)
	done(err)
	return n, err
}

func (e *Engine) doJoin(ctx context.Context, negotiationID, principalID uuid.UUID) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusInitiated && n.Status != contracts.StatusNegotiating {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("join not allowed from %s", n.Status))
	}
	if !n.IsParticipant(principalID) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal is not a listed participant")
	}
	if e.clock().After(n.NegotiationDeadline.Time) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrDeadlinePassed, "negotiation deadline has passed")
	}
	if n.HasJoined(principalID) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrAlreadyJoined, "principal has already joined")
	}

	expectedVersion := n.TermsVersion
	n.Joined = append(n.Joined, principalID)
	if n.Status == contracts.StatusInitiated {
		n.Status = contracts.StatusNegotiating
	}

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: join update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageJoin, nil, "", false); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionJoinNegotiation, map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"join_policy":    "first_join",
		"joined_count":   len(n.Joined),
		"total_count":    len(n.Participants),
	}); err != nil {
		return contracts.Negotiation{}, err
	}
	return n, nil
}

// Offer implements offer() (spec §4.4).
func (e *Engine) Offer(ctx context.Context, negotiationID, principalID uuid.UUID, newTerms interface{}) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "offer")
	n, err := e.doOffer(ctx, negotiationID, principalID, newTerms)
	done(err)
	return n, err
}

func (e *Engine) doOffer(ctx context.Context, negotiationID, principalID uuid.UUID, newTerms interface{}) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusNegotiating {
		return contracts.Negotiation{}, invalidStateOrImmutable(n.Status, "offer")
	}
	if !n.IsParticipant(principalID) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal is not a listed participant")
	}
	if e.clock().After(n.NegotiationDeadline.Time) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrDeadlinePassed, "negotiation deadline has passed")
	}

	if err := validateTerms(n, newTerms); err != nil {
		return contracts.Negotiation{}, err
	}

	termsHash, err := canonicalize.HashHex(newTerms)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: hash terms: %v", err))
	}

	expectedVersion := n.TermsVersion
	n.CurrentTerms = newTerms
	n.TermsVersion++
	n.Acceptances = map[uuid.UUID]contracts.Acceptance{}

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: offer update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageOffer, map[string]interface{}{
		"terms_version": n.TermsVersion,
		"terms_hash":    termsHash,
	}, "", false); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionSendOffer, map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"terms_version":  n.TermsVersion,
		"terms_hash":     termsHash,
	}); err != nil {
		return contracts.Negotiation{}, err
	}
	return n, nil
}

// Accept implements accept() (spec §4.4/§6 "Acceptance form").
func (e *Engine) Accept(ctx context.Context, negotiationID, principalID uuid.UUID, principalPublicKey []byte, signature []byte) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "accept")
	n, err := e.doAccept(ctx, negotiationID, principalID, principalPublicKey, signature)
	done(err)
	return n, err
}

func (e *Engine) doAccept(ctx context.Context, negotiationID, principalID uuid.UUID, principalPublicKey []byte, signature []byte) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusNegotiating {
		return contracts.Negotiation{}, invalidStateOrImmutable(n.Status, "accept")
	}
	if !n.IsParticipant(principalID) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal is not a listed participant")
	}
	if e.clock().After(n.NegotiationDeadline.Time) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrDeadlinePassed, "negotiation deadline has passed")
	}
	if len(principalPublicKey) == 0 {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrKeyNotRegistered, "principal has no registered public key")
	}
	if err := freezeKey(&n, principalID, principalPublicKey); err != nil {
		return contracts.Negotiation{}, err
	}

	termsHash, err := canonicalize.HashHex(n.CurrentTerms)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: hash current terms: %v", err))
	}
	form := contracts.AcceptanceForm{NegotiationID: negotiationID.String(), TermsVersion: n.TermsVersion, TermsHash: termsHash}
	formBytes, err := form.Bytes()
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: canonicalize acceptance form: %v", err))
	}

	if !trustcrypto.VerifyBytes(principalPublicKey, signature, formBytes) {
		if e.AuditRejectedSignatures {
			_, _ = e.receipts.Append(ctx, principalID, contracts.ActionSignatureRejected, map[string]interface{}{
				"negotiation_id": negotiationID.String(), "form": "acceptance",
			})
		}
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrInvalidSignature, "acceptance signature failed verification")
	}

	expectedVersion := n.TermsVersion
	now := canonicalize.NewTimestamp(e.clock())
	n.Acceptances[principalID] = contracts.Acceptance{
		PrincipalID:  principalID,
		TermsVersion: n.TermsVersion,
		TermsHash:    termsHash,
		Signature:    hexEncode(signature),
		Timestamp:    now,
	}

	reached, consensusHash, invalidated, err := tryReachConsensus(n)
	if err != nil {
		return contracts.Negotiation{}, err
	}
	metadata := map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"terms_version":  n.TermsVersion,
		"terms_hash":     termsHash,
	}
	if reached {
		for _, loser := range invalidated {
			delete(n.Acceptances, loser.PrincipalID)
		}
		n.Status = contracts.StatusConsensusReached
		n.ConsensusHash = consensusHash
		metadata["consensus_reached"] = true
		metadata["consensus_hash"] = consensusHash
	}

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: accept update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageAccept, map[string]interface{}{
		"terms_version": n.TermsVersion,
		"terms_hash":    termsHash,
	}, hexEncode(signature), true); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionAcceptTerms, metadata); err != nil {
		return contracts.Negotiation{}, err
	}
	if len(invalidated) > 0 {
		losers := make([]string, len(invalidated))
		for i, loser := range invalidated {
			losers[i] = loser.PrincipalID.String()
		}
		if _, err := e.receipts.Append(ctx, principalID, contracts.ActionConsensusInvalidated, map[string]interface{}{
			"negotiation_id":  negotiationID.String(),
			"terms_version":   n.TermsVersion,
			"winning_hash":    consensusHash,
			"invalidated_for": losers,
		}); err != nil {
			return contracts.Negotiation{}, err
		}
		e.log.Warn("consensus conflict resolved", "negotiation_id", negotiationID, "invalidated", len(invalidated))
	}
	return n, nil
}

// tryReachConsensus checks whether the current set of acceptances at
// n.TermsVersion satisfies consensus (spec §4.4 invariant 3): size >=
// required_consensus_count and all sharing one terms_hash. When more
// than one terms_hash simultaneously qualifies (spec §4.4 "Consensus
// conflict resolution" — only possible under implementation bugs or
// clock skew), the candidate whose last contributing acceptance is
// earliest wins, with lexicographic terms_hash as the tiebreak; the
// losing candidates' acceptances are returned for invalidation.
func tryReachConsensus(n contracts.Negotiation) (bool, string, []contracts.Acceptance, error) {
	byHash := map[string][]contracts.Acceptance{}
	for _, acc := range n.Acceptances {
		if acc.TermsVersion != n.TermsVersion {
			continue
		}
		byHash[acc.TermsHash] = append(byHash[acc.TermsHash], acc)
	}

	type candidate struct {
		hash   string
		accs   []contracts.Acceptance
		lastAt time.Time
	}
	var qualifying []candidate
	for hash, accs := range byHash {
		if len(accs) < n.RequiredConsensusCount {
			continue
		}
		var lastAt time.Time
		for _, a := range accs {
			if a.Timestamp.Time.After(lastAt) {
				lastAt = a.Timestamp.Time
			}
		}
		qualifying = append(qualifying, candidate{hash: hash, accs: accs, lastAt: lastAt})
	}
	if len(qualifying) == 0 {
		return false, "", nil, nil
	}

	sort.Slice(qualifying, func(i, j int) bool {
		if !qualifying[i].lastAt.Equal(qualifying[j].lastAt) {
			return qualifying[i].lastAt.Before(qualifying[j].lastAt)
		}
		return qualifying[i].hash < qualifying[j].hash
	})
	winner := qualifying[0]

	var invalidated []contracts.Acceptance
	for _, c := range qualifying[1:] {
		invalidated = append(invalidated, c.accs...)
	}

	sigs := make([]string, len(winner.accs))
	for i, a := range winner.accs {
		sigs[i] = a.Signature
	}
	consensusHash, err := deriveConsensusHash(n.NegotiationID, n.TermsVersion, winner.hash, sigs)
	if err != nil {
		return false, "", nil, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: derive consensus hash: %v", err))
	}
	return true, consensusHash, invalidated, nil
}

// freezeKey snapshots principalID's public key on first signed use and
// rejects any later transition presenting a different key.
func freezeKey(n *contracts.Negotiation, principalID uuid.UUID, publicKey []byte) error {
	presented := hexEncode(publicKey)
	if frozen, ok := n.FrozenKeys[principalID]; ok {
		if frozen != presented {
			return trusterr.Wrap(trusterr.ErrKeyFrozen, "public key differs from the one frozen for this negotiation")
		}
		return nil
	}
	if n.FrozenKeys == nil {
		n.FrozenKeys = map[uuid.UUID]string{}
	}
	n.FrozenKeys[principalID] = presented
	return nil
}

// Finalize implements finalize() (spec §4.4/§6 "Finalization form").
func (e *Engine) Finalize(ctx context.Context, negotiationID, principalID uuid.UUID, principalPublicKey []byte, signature []byte) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "finalize")
	n, err := e.doFinalize(ctx, negotiationID, principalID, principalPublicKey, signature)
	done(err)
	return n, err
}

func (e *Engine) doFinalize(ctx context.Context, negotiationID, principalID uuid.UUID, principalPublicKey []byte, signature []byte) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusConsensusReached {
		return contracts.Negotiation{}, invalidStateOrImmutable(n.Status, "finalize")
	}
	if _, contributed := n.Acceptances[principalID]; !contributed {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal did not contribute to consensus")
	}
	if err := freezeKey(&n, principalID, principalPublicKey); err != nil {
		return contracts.Negotiation{}, err
	}

	form := contracts.FinalizationForm{NegotiationID: negotiationID.String(), ConsensusHash: n.ConsensusHash}
	formBytes, err := form.Bytes()
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: canonicalize finalization form: %v", err))
	}
	if !trustcrypto.VerifyBytes(principalPublicKey, signature, formBytes) {
		if e.AuditRejectedSignatures {
			_, _ = e.receipts.Append(ctx, principalID, contracts.ActionSignatureRejected, map[string]interface{}{
				"negotiation_id": negotiationID.String(), "form": "finalization",
			})
		}
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrInvalidSignature, "finalization signature failed verification")
	}

	expectedVersion := n.TermsVersion
	now := canonicalize.NewTimestamp(e.clock())
	n.Finalizations[principalID] = contracts.Finalization{PrincipalID: principalID, Signature: hexEncode(signature), Timestamp: now}

	becameBinding := false
	var bindingHash string
	if allFinalized(n) {
		var err error
		bindingHash, err = deriveBindingHash(n.ConsensusHash, finalizationSignatures(n))
		if err != nil {
			return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrCanonicalization, fmt.Sprintf("negotiation: derive binding hash: %v", err))
		}
		n.Status = contracts.StatusBinding
		n.BindingHash = bindingHash
		n.BoundAt = &now
		becameBinding = true
	}

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: finalize update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageFinalize, map[string]interface{}{
		"consensus_hash": n.ConsensusHash,
	}, hexEncode(signature), true); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionFinalizeCommitment, map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"consensus_hash": n.ConsensusHash,
	}); err != nil {
		return contracts.Negotiation{}, err
	}
	if becameBinding {
		if _, err := e.receipts.Append(ctx, principalID, contracts.ActionBindingReached, map[string]interface{}{
			"negotiation_id": negotiationID.String(),
			"binding_hash":   bindingHash,
		}); err != nil {
			return contracts.Negotiation{}, err
		}
		e.log.Info("negotiation bound", "negotiation_id", negotiationID, "binding_hash", bindingHash)
	}
	return n, nil
}

func allFinalized(n contracts.Negotiation) bool {
	for p := range n.Acceptances {
		if _, ok := n.Finalizations[p]; !ok {
			return false
		}
	}
	return len(n.Acceptances) > 0
}

func finalizationSignatures(n contracts.Negotiation) []string {
	sigs := make([]string, 0, len(n.Finalizations))
	for _, f := range n.Finalizations {
		sigs = append(sigs, f.Signature)
	}
	return sigs
}

// Withdraw implements withdraw() (spec §4.4).
func (e *Engine) Withdraw(ctx context.Context, negotiationID, principalID uuid.UUID) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "withdraw")
	n, err := e.doWithdraw(ctx, negotiationID, principalID)
	done(err)
	return n, err
}

func (e *Engine) doWithdraw(ctx context.Context, negotiationID, principalID uuid.UUID) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusInitiated && n.Status != contracts.StatusNegotiating {
		return contracts.Negotiation{}, invalidStateOrImmutable(n.Status, "withdraw")
	}
	if !n.IsParticipant(principalID) {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal is not a listed participant")
	}

	expectedVersion := n.TermsVersion
	now := canonicalize.NewTimestamp(e.clock())
	n.Status = contracts.StatusWithdrawn
	n.WithdrawnAt = &now

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: withdraw update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageWithdraw, nil, "", false); err != nil {
		return contracts.Negotiation{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionWithdraw, map[string]interface{}{"negotiation_id": negotiationID.String()}); err != nil {
		return contracts.Negotiation{}, err
	}
	return n, nil
}

// DisputeResult bundles the BINDING→DISPUTED transition's side effects.
type DisputeResult struct {
	Negotiation contracts.Negotiation
	Appeal      contracts.Appeal
	TrustEvent  contracts.TrustEvent
}

// Dispute implements dispute() (spec §4.4/§4.5): the only transition
// permitted on a BINDING negotiation.
func (e *Engine) Dispute(ctx context.Context, negotiationID, principalID uuid.UUID, reason string) (DisputeResult, error) {
	ctx, done := e.track(ctx, "dispute")
	res, err := e.doDispute(ctx, negotiationID, principalID, reason)
	done(err)
	return res, err
}

func (e *Engine) doDispute(ctx context.Context, negotiationID, principalID uuid.UUID, reason string) (DisputeResult, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return DisputeResult{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusBinding {
		return DisputeResult{}, trusterr.Wrap(trusterr.ErrInvalidState, "dispute is only permitted on a BINDING negotiation")
	}
	if !n.IsParticipant(principalID) {
		return DisputeResult{}, trusterr.Wrap(trusterr.ErrPermissionDenied, "principal is not a listed participant")
	}

	subjectID, ok := trustevents.SubjectForDispute(principalID, n.Participants)
	if !ok {
		return DisputeResult{}, trusterr.Wrap(trusterr.ErrInvalidState, "negotiation has no other participant to dispute against")
	}

	evidence := map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"binding_hash":   n.BindingHash,
		"terms":          n.CurrentTerms,
	}
	event, err := e.trust.Append(ctx, principalID, subjectID, contracts.EventConflict, canonicalize.NewDecimal3(contracts.DefaultDisputeTrustDelta), evidence)
	if err != nil {
		return DisputeResult{}, err
	}
	ap, err := e.appeals.Create(ctx, event.TrustEventID, principalID, reason, evidence)
	if err != nil {
		return DisputeResult{}, err
	}

	expectedVersion := n.TermsVersion
	now := canonicalize.NewTimestamp(e.clock())
	n.Status = contracts.StatusDisputed
	n.DisputedAt = &now

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return DisputeResult{}, storageOrConflict(err, "negotiation: dispute update")
	}
	if err := e.recordMessage(ctx, negotiationID, principalID, contracts.MessageDispute, map[string]interface{}{
		"reason": reason,
	}, "", false); err != nil {
		return DisputeResult{}, err
	}
	if _, err := e.receipts.Append(ctx, principalID, contracts.ActionDisputeBinding, map[string]interface{}{
		"negotiation_id": negotiationID.String(),
		"appeal_id":      ap.AppealID.String(),
		"trust_event_id": event.TrustEventID.String(),
	}); err != nil {
		return DisputeResult{}, err
	}

	e.log.Info("negotiation disputed", "negotiation_id", negotiationID, "appeal_id", ap.AppealID)
	return DisputeResult{Negotiation: n, Appeal: ap, TrustEvent: event}, nil
}

// Expire implements expire() (spec §4.4), invoked by the scheduler. It
// is idempotent: a negotiation already terminal, or not yet past its
// deadline, is left unchanged with no error and no receipt (spec §8
// "expire is idempotent on already-terminal negotiations").
func (e *Engine) Expire(ctx context.Context, negotiationID uuid.UUID) (contracts.Negotiation, error) {
	ctx, done := e.track(ctx, "expire")
	n, err := e.doExpire(ctx, negotiationID)
	done(err)
	return n, err
}

func (e *Engine) doExpire(ctx context.Context, negotiationID uuid.UUID) (contracts.Negotiation, error) {
	lock := e.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return contracts.Negotiation{}, trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: get %s: %v", negotiationID, err))
	}
	if n.Status != contracts.StatusInitiated && n.Status != contracts.StatusNegotiating && n.Status != contracts.StatusConsensusReached {
		return n, nil
	}
	if !e.clock().After(n.NegotiationDeadline.Time) {
		return n, nil
	}

	expectedVersion := n.TermsVersion
	now := canonicalize.NewTimestamp(e.clock())
	n.Status = contracts.StatusExpired
	n.ExpiredAt = &now

	if err := e.store.UpdateNegotiation(ctx, n, expectedVersion); err != nil {
		return contracts.Negotiation{}, storageOrConflict(err, "negotiation: expire update")
	}
	if _, err := e.receipts.Append(ctx, n.CreatorID, contracts.ActionNegotiationExpired, map[string]interface{}{"negotiation_id": negotiationID.String()}); err != nil {
		return contracts.Negotiation{}, err
	}
	e.log.Info("negotiation expired", "negotiation_id", negotiationID)
	return n, nil
}

// recordMessage appends the transition's protocol message to the
// append-only negotiation_messages log (spec §3). SignatureVerified is
// set true only for messages whose signature already passed
// verification in this transition; it is never inferred later.
func (e *Engine) recordMessage(ctx context.Context, negotiationID, principalID uuid.UUID, mtype contracts.MessageType, payload map[string]interface{}, signature string, verified bool) error {
	m := contracts.NegotiationMessage{
		MessageID:         uuid.New(),
		NegotiationID:     negotiationID,
		PrincipalID:       principalID,
		Type:              mtype,
		Payload:           payload,
		Signature:         signature,
		SignatureVerified: verified,
		CreatedAt:         canonicalize.NewTimestamp(e.clock()),
	}
	if err := e.store.AppendMessage(ctx, m); err != nil {
		return trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("negotiation: record %s message: %v", mtype, err))
	}
	return nil
}

func ensureIncludes(participants []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, p := range participants {
		if p == id {
			return participants
		}
	}
	return append([]uuid.UUID{id}, participants...)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

// invalidStateOrImmutable distinguishes the BindingImmutable case (spec
// §7) from the general InvalidState case: a mutation attempted on a
// BINDING negotiation gets the more specific error.
func invalidStateOrImmutable(status contracts.Status, op string) error {
	if status == contracts.StatusBinding {
		return trusterr.Wrap(trusterr.ErrBindingImmutable, fmt.Sprintf("negotiation is BINDING; %s is not permitted", op))
	}
	return trusterr.Wrap(trusterr.ErrInvalidState, fmt.Sprintf("%s not allowed from %s", op, status))
}

func storageOrConflict(err error, context string) error {
	if errors.Is(err, store.ErrConflict) {
		return trusterr.Wrap(trusterr.ErrConcurrency, context+": concurrent modification")
	}
	return trusterr.Wrap(trusterr.ErrStorage, fmt.Sprintf("%s: %v", context, err))
}
