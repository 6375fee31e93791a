package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
)

// MemoryStore is an in-process Store, used for single-node deployments
// and as the reference implementation exercised by the conformance
// suite in store_test.go.
type MemoryStore struct {
	mu sync.RWMutex

	negotiations map[uuid.UUID]contracts.Negotiation
	versions     map[uuid.UUID]int
	messages     map[uuid.UUID][]contracts.NegotiationMessage

	receiptChains map[uuid.UUID][]contracts.Receipt // per-principal, append order
	trustChains   map[uuid.UUID][]contracts.TrustEvent

	appeals map[uuid.UUID]contracts.Appeal

	checkpoints []Checkpoint
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		negotiations:  make(map[uuid.UUID]contracts.Negotiation),
		versions:      make(map[uuid.UUID]int),
		messages:      make(map[uuid.UUID][]contracts.NegotiationMessage),
		receiptChains: make(map[uuid.UUID][]contracts.Receipt),
		trustChains:   make(map[uuid.UUID][]contracts.TrustEvent),
		appeals:       make(map[uuid.UUID]contracts.Appeal),
	}
}

func (m *MemoryStore) CreateNegotiation(_ context.Context, n contracts.Negotiation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.negotiations[n.NegotiationID]; ok {
		return ErrDuplicateKey
	}
	m.negotiations[n.NegotiationID] = n
	m.versions[n.NegotiationID] = n.TermsVersion
	return nil
}

func (m *MemoryStore) GetNegotiation(_ context.Context, id uuid.UUID) (contracts.Negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.negotiations[id]
	if !ok {
		return contracts.Negotiation{}, ErrNotFound
	}
	return n, nil
}

func (m *MemoryStore) UpdateNegotiation(_ context.Context, n contracts.Negotiation, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.versions[n.NegotiationID]
	if !ok {
		return ErrNotFound
	}
	if cur != expectedVersion {
		return ErrConflict
	}
	m.negotiations[n.NegotiationID] = n
	m.versions[n.NegotiationID] = n.TermsVersion
	return nil
}

func (m *MemoryStore) ListExpirable(_ context.Context, before canonicalize.Timestamp) ([]contracts.Negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.Negotiation
	for _, n := range m.negotiations {
		if n.IsTerminal() || n.Status == contracts.StatusBinding {
			continue
		}
		if n.NegotiationDeadline.Time.Before(before.Time) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NegotiationID.String() < out[j].NegotiationID.String() })
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg contracts.NegotiationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.NegotiationID] = append(m.messages[msg.NegotiationID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, negotiationID uuid.UUID) ([]contracts.NegotiationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.messages[negotiationID]
	out := make([]contracts.NegotiationMessage, len(chain))
	copy(out, chain)
	return out, nil
}

func (m *MemoryStore) AppendReceipt(_ context.Context, r contracts.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.receiptChains[r.PrincipalID]
	var expectedPrev string
	if len(chain) > 0 {
		expectedPrev = chain[len(chain)-1].ContentHash
	} else {
		expectedPrev = genesisHash
	}
	if r.PreviousHash != expectedPrev {
		return ErrConflict
	}
	m.receiptChains[r.PrincipalID] = append(chain, r)
	return nil
}

func (m *MemoryStore) TailReceipt(_ context.Context, principalID uuid.UUID) (contracts.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.receiptChains[principalID]
	if len(chain) == 0 {
		return contracts.Receipt{ContentHash: genesisHash}, nil
	}
	return chain[len(chain)-1], nil
}

func (m *MemoryStore) ListReceipts(_ context.Context, principalID uuid.UUID, sinceSeq int64) ([]contracts.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.receiptChains[principalID]
	if sinceSeq < 0 || sinceSeq >= int64(len(chain)) {
		return nil, nil
	}
	out := make([]contracts.Receipt, len(chain)-int(sinceSeq))
	copy(out, chain[sinceSeq:])
	return out, nil
}

func (m *MemoryStore) ListReceiptsInWindow(_ context.Context, from, to canonicalize.Timestamp) ([]contracts.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.Receipt
	for _, chain := range m.receiptChains {
		for _, r := range chain {
			if !r.CreatedAt.Time.Before(from.Time) && r.CreatedAt.Time.Before(to.Time) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptID.String() < out[j].ReceiptID.String() })
	return out, nil
}

func (m *MemoryStore) AppendTrustEvent(_ context.Context, e contracts.TrustEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.trustChains[e.ActorID]
	var expectedPrev string
	if len(chain) > 0 {
		expectedPrev = chain[len(chain)-1].ContentHash
	} else {
		expectedPrev = genesisHash
	}
	if e.PreviousHash != expectedPrev {
		return ErrConflict
	}
	m.trustChains[e.ActorID] = append(chain, e)
	return nil
}

func (m *MemoryStore) TailTrustEvent(_ context.Context, actorID uuid.UUID) (contracts.TrustEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.trustChains[actorID]
	if len(chain) == 0 {
		return contracts.TrustEvent{ContentHash: genesisHash}, nil
	}
	return chain[len(chain)-1], nil
}

func (m *MemoryStore) SumTrustDeltaSince(_ context.Context, actorID uuid.UUID, since canonicalize.Timestamp) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, e := range m.trustChains[actorID] {
		if !e.CreatedAt.Time.Before(since.Time) {
			sum += e.TrustDelta.Float64()
		}
	}
	return sum, nil
}

func (m *MemoryStore) CreateAppeal(_ context.Context, a contracts.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appeals[a.AppealID]; ok {
		return ErrDuplicateKey
	}
	m.appeals[a.AppealID] = a
	return nil
}

func (m *MemoryStore) GetAppeal(_ context.Context, id uuid.UUID) (contracts.Appeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appeals[id]
	if !ok {
		return contracts.Appeal{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) UpdateAppeal(_ context.Context, a contracts.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appeals[a.AppealID]; !ok {
		return ErrNotFound
	}
	m.appeals[a.AppealID] = a
	return nil
}

func (m *MemoryStore) ListAppealsByStatus(_ context.Context, status contracts.AppealStatus) ([]contracts.Appeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []contracts.Appeal
	for _, a := range m.appeals {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppealID.String() < out[j].AppealID.String() })
	return out, nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = append(m.checkpoints, cp)
	return nil
}

func (m *MemoryStore) LatestCheckpoint(_ context.Context) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checkpoints) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return m.checkpoints[len(m.checkpoints)-1], nil
}

// genesisHash is the previous_hash value for the first receipt or
// trust event in a chain (spec §6 "genesis").
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var _ Store = (*MemoryStore)(nil)
