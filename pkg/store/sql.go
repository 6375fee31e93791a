package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
	"github.com/trustprimitive/core/pkg/contracts"
)

// Dialect selects the placeholder style and schema variant SQLStore
// targets. The reference repo hand-picks a driver per build mode
// (lib/pq in cmd/helm/main.go, modernc.org/sqlite in cmd/helm/lite_mode.go)
// rather than abstracting over both from one store type; this store
// generalizes that into a single implementation parameterized by dialect,
// since the Trust Primitive needs both available behind one interface.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQLStore implements Store using database/sql, against either
// Postgres (lib/pq) or SQLite (modernc.org/sqlite).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an already-opened *sql.DB. The caller is
// responsible for importing the matching driver blank
// (`_ "github.com/lib/pq"` or `_ "modernc.org/sqlite"`) and for
// calling sql.Open with the matching driver name.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates all tables if they don't already exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites a query written with $1, $2, ... placeholders into
// the active dialect's style.
func (s *SQLStore) rebind(query string) string {
	if s.dialect == DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			b.WriteString("?")
			i = j - 1
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS negotiations (
			negotiation_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			terms_version INTEGER NOT NULL,
			negotiation_deadline TEXT NOT NULL,
			body JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS negotiation_messages (
			message_id TEXT PRIMARY KEY,
			negotiation_id TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			body JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			receipt_id TEXT PRIMARY KEY,
			principal_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			body JSON NOT NULL,
			UNIQUE(principal_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS trust_events (
			trust_event_id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			trust_delta REAL NOT NULL,
			created_at TEXT NOT NULL,
			body JSON NOT NULL,
			UNIQUE(actor_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS appeals (
			appeal_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			body JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			body JSON NOT NULL
		)`,
	}
}

func (s *SQLStore) CreateNegotiation(ctx context.Context, n contracts.Negotiation) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO negotiations (negotiation_id, status, terms_version, negotiation_deadline, body)
		VALUES ($1, $2, $3, $4, $5)`)
	_, err = s.db.ExecContext(ctx, query,
		n.NegotiationID.String(), string(n.Status), n.TermsVersion, n.NegotiationDeadline.String(), string(body))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *SQLStore) GetNegotiation(ctx context.Context, id uuid.UUID) (contracts.Negotiation, error) {
	query := s.rebind(`SELECT body FROM negotiations WHERE negotiation_id = $1`)
	var body string
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Negotiation{}, ErrNotFound
		}
		return contracts.Negotiation{}, err
	}
	var n contracts.Negotiation
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return contracts.Negotiation{}, err
	}
	return n, nil
}

func (s *SQLStore) UpdateNegotiation(ctx context.Context, n contracts.Negotiation, expectedVersion int) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	query := s.rebind(`UPDATE negotiations SET status = $1, terms_version = $2, negotiation_deadline = $3, body = $4
		WHERE negotiation_id = $5 AND terms_version = $6`)
	res, err := s.db.ExecContext(ctx, query,
		string(n.Status), n.TermsVersion, n.NegotiationDeadline.String(), string(body), n.NegotiationID.String(), expectedVersion)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish "doesn't exist" from "version mismatch" for callers.
		if _, getErr := s.GetNegotiation(ctx, n.NegotiationID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLStore) ListExpirable(ctx context.Context, before canonicalize.Timestamp) ([]contracts.Negotiation, error) {
	query := s.rebind(`SELECT body FROM negotiations
		WHERE status NOT IN ($1, $2, $3, $4) AND negotiation_deadline < $5
		ORDER BY negotiation_id`)
	rows, err := s.db.QueryContext(ctx, query,
		string(contracts.StatusBinding), string(contracts.StatusDisputed),
		string(contracts.StatusWithdrawn), string(contracts.StatusExpired), before.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Negotiation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var n contracts.Negotiation
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendMessage(ctx context.Context, m contracts.NegotiationMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	insert := s.rebind(`INSERT INTO negotiation_messages (message_id, negotiation_id, principal_id, type, created_at, body)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	_, err = s.db.ExecContext(ctx, insert,
		m.MessageID.String(), m.NegotiationID.String(), m.PrincipalID.String(),
		string(m.Type), m.CreatedAt.String(), string(body))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *SQLStore) ListMessages(ctx context.Context, negotiationID uuid.UUID) ([]contracts.NegotiationMessage, error) {
	query := s.rebind(`SELECT body FROM negotiation_messages WHERE negotiation_id = $1 ORDER BY created_at ASC, message_id ASC`)
	rows, err := s.db.QueryContext(ctx, query, negotiationID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []contracts.NegotiationMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var m contracts.NegotiationMessage
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendReceipt(ctx context.Context, r contracts.Receipt) error {
	var lastSeq sql.NullInt64
	q := s.rebind(`SELECT MAX(seq) FROM receipts WHERE principal_id = $1`)
	if err := s.db.QueryRowContext(ctx, q, r.PrincipalID.String()).Scan(&lastSeq); err != nil {
		return err
	}
	var lastHash string
	nextSeq := int64(0)
	if lastSeq.Valid {
		nextSeq = lastSeq.Int64 + 1
		q2 := s.rebind(`SELECT content_hash FROM receipts WHERE principal_id = $1 AND seq = $2`)
		if err := s.db.QueryRowContext(ctx, q2, r.PrincipalID.String(), lastSeq.Int64).Scan(&lastHash); err != nil {
			return err
		}
	} else {
		lastHash = genesisHash
	}
	if r.PreviousHash != lastHash {
		return ErrConflict
	}

	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	insert := s.rebind(`INSERT INTO receipts (receipt_id, principal_id, seq, action, content_hash, previous_hash, created_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	_, err = s.db.ExecContext(ctx, insert,
		r.ReceiptID.String(), r.PrincipalID.String(), nextSeq, string(r.Action),
		r.ContentHash, r.PreviousHash, r.CreatedAt.String(), string(body))
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLStore) TailReceipt(ctx context.Context, principalID uuid.UUID) (contracts.Receipt, error) {
	query := s.rebind(`SELECT body FROM receipts WHERE principal_id = $1 ORDER BY seq DESC LIMIT 1`)
	var body string
	err := s.db.QueryRowContext(ctx, query, principalID.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Receipt{ContentHash: genesisHash}, nil
	}
	if err != nil {
		return contracts.Receipt{}, err
	}
	var r contracts.Receipt
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return contracts.Receipt{}, err
	}
	return r, nil
}

func (s *SQLStore) ListReceipts(ctx context.Context, principalID uuid.UUID, sinceSeq int64) ([]contracts.Receipt, error) {
	query := s.rebind(`SELECT body FROM receipts WHERE principal_id = $1 AND seq >= $2 ORDER BY seq ASC`)
	rows, err := s.db.QueryContext(ctx, query, principalID.String(), sinceSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanReceiptBodies(rows)
}

func (s *SQLStore) ListReceiptsInWindow(ctx context.Context, from, to canonicalize.Timestamp) ([]contracts.Receipt, error) {
	query := s.rebind(`SELECT body FROM receipts WHERE created_at >= $1 AND created_at < $2 ORDER BY receipt_id ASC`)
	rows, err := s.db.QueryContext(ctx, query, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanReceiptBodies(rows)
}

func scanReceiptBodies(rows *sql.Rows) ([]contracts.Receipt, error) {
	var out []contracts.Receipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r contracts.Receipt
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendTrustEvent(ctx context.Context, e contracts.TrustEvent) error {
	var lastSeq sql.NullInt64
	q := s.rebind(`SELECT MAX(seq) FROM trust_events WHERE actor_id = $1`)
	if err := s.db.QueryRowContext(ctx, q, e.ActorID.String()).Scan(&lastSeq); err != nil {
		return err
	}
	var lastHash string
	nextSeq := int64(0)
	if lastSeq.Valid {
		nextSeq = lastSeq.Int64 + 1
		q2 := s.rebind(`SELECT content_hash FROM trust_events WHERE actor_id = $1 AND seq = $2`)
		if err := s.db.QueryRowContext(ctx, q2, e.ActorID.String(), lastSeq.Int64).Scan(&lastHash); err != nil {
			return err
		}
	} else {
		lastHash = genesisHash
	}
	if e.PreviousHash != lastHash {
		return ErrConflict
	}

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	insert := s.rebind(`INSERT INTO trust_events (trust_event_id, actor_id, seq, content_hash, previous_hash, trust_delta, created_at, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	_, err = s.db.ExecContext(ctx, insert,
		e.TrustEventID.String(), e.ActorID.String(), nextSeq, e.ContentHash, e.PreviousHash,
		e.TrustDelta.Float64(), e.CreatedAt.String(), string(body))
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLStore) TailTrustEvent(ctx context.Context, actorID uuid.UUID) (contracts.TrustEvent, error) {
	query := s.rebind(`SELECT body FROM trust_events WHERE actor_id = $1 ORDER BY seq DESC LIMIT 1`)
	var body string
	err := s.db.QueryRowContext(ctx, query, actorID.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.TrustEvent{ContentHash: genesisHash}, nil
	}
	if err != nil {
		return contracts.TrustEvent{}, err
	}
	var e contracts.TrustEvent
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return contracts.TrustEvent{}, err
	}
	return e, nil
}

func (s *SQLStore) SumTrustDeltaSince(ctx context.Context, actorID uuid.UUID, since canonicalize.Timestamp) (float64, error) {
	query := s.rebind(`SELECT COALESCE(SUM(trust_delta), 0) FROM trust_events WHERE actor_id = $1 AND created_at >= $2`)
	var sum float64
	err := s.db.QueryRowContext(ctx, query, actorID.String(), since.String()).Scan(&sum)
	return sum, err
}

func (s *SQLStore) CreateAppeal(ctx context.Context, a contracts.Appeal) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO appeals (appeal_id, status, body) VALUES ($1, $2, $3)`)
	_, err = s.db.ExecContext(ctx, query, a.AppealID.String(), string(a.Status), string(body))
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *SQLStore) GetAppeal(ctx context.Context, id uuid.UUID) (contracts.Appeal, error) {
	query := s.rebind(`SELECT body FROM appeals WHERE appeal_id = $1`)
	var body string
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Appeal{}, ErrNotFound
	}
	if err != nil {
		return contracts.Appeal{}, err
	}
	var a contracts.Appeal
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return contracts.Appeal{}, err
	}
	return a, nil
}

func (s *SQLStore) UpdateAppeal(ctx context.Context, a contracts.Appeal) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	query := s.rebind(`UPDATE appeals SET status = $1, body = $2 WHERE appeal_id = $3`)
	res, err := s.db.ExecContext(ctx, query, string(a.Status), string(body), a.AppealID.String())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListAppealsByStatus(ctx context.Context, status contracts.AppealStatus) ([]contracts.Appeal, error) {
	query := s.rebind(`SELECT body FROM appeals WHERE status = $1 ORDER BY appeal_id ASC`)
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Appeal
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var a contracts.Appeal
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO checkpoints (checkpoint_id, created_at, body) VALUES ($1, $2, $3)`)
	_, err = s.db.ExecContext(ctx, query, cp.CheckpointID.String(), cp.CreatedAt.String(), string(body))
	return err
}

func (s *SQLStore) LatestCheckpoint(ctx context.Context) (Checkpoint, error) {
	query := s.rebind(`SELECT body FROM checkpoints ORDER BY created_at DESC LIMIT 1`)
	var body string
	err := s.db.QueryRowContext(ctx, query).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// isUniqueViolation is a best-effort classifier across lib/pq and
// modernc.org/sqlite error text, since the two drivers don't share an
// error type for this.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key")
}

var _ Store = (*SQLStore)(nil)
