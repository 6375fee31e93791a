package contracts

import (
	"time"

	"github.com/google/uuid"

	"github.com/trustprimitive/core/pkg/canonicalize"
)

// AppealStatus is the SLA-bounded lifecycle state of an Appeal (spec §3/§4.5).
type AppealStatus string

const (
	AppealPending   AppealStatus = "PENDING"
	AppealReviewing AppealStatus = "REVIEWING"
	AppealResolved  AppealStatus = "RESOLVED"
	AppealWithdrawn AppealStatus = "WITHDRAWN"
	AppealEscalated AppealStatus = "ESCALATED"
)

// ReviewDeadlineWindow and ReviewSLAWindow are the fixed SLA windows
// from spec §4.5/§4.6: review_deadline = submitted_at + 7 days; a
// REVIEWING appeal breaches SLA at submitted_at + 14 days.
const (
	ReviewDeadlineWindow = 7 * 24 * time.Hour
	ReviewSLAWindow      = 14 * 24 * time.Hour
)

// ReviewBoardMin and ReviewBoardMax bound review board size (spec §4.5: 3-7 members).
const (
	ReviewBoardMin = 3
	ReviewBoardMax = 7
)

// Appeal is the due-process record attached to a CONFLICT trust event (spec §3).
type Appeal struct {
	AppealID     uuid.UUID `json:"appeal_id"`
	TrustEventID uuid.UUID `json:"trust_event_id"`
	AppellantID  uuid.UUID `json:"appellant_id"`

	Status AppealStatus `json:"status"`

	AppealReason string                 `json:"appeal_reason"`
	Evidence     map[string]interface{} `json:"evidence,omitempty"`

	ResolverID     *uuid.UUID  `json:"resolver_id,omitempty"`
	ReviewBoardIDs []uuid.UUID `json:"review_board_ids,omitempty"`

	SubmittedAt    canonicalize.Timestamp  `json:"submitted_at"`
	ReviewDeadline canonicalize.Timestamp  `json:"review_deadline"`
	ResolvedAt     *canonicalize.Timestamp `json:"resolved_at,omitempty"`
	Resolution     string                  `json:"resolution,omitempty"`
}

// ReviewSLABreached reports whether a REVIEWING appeal has exceeded 14
// days from submission. The window is anchored to submitted_at, not to
// when REVIEWING began, matching the SLA's phrasing ("REVIEWING past
// 14 days from submission").
func (a *Appeal) ReviewSLABreached(now time.Time) bool {
	return a.Status == AppealReviewing && now.After(a.SubmittedAt.Add(ReviewSLAWindow))
}

// PendingSLABreached reports whether a still-PENDING appeal is past its review deadline.
func (a *Appeal) PendingSLABreached(now time.Time) bool {
	return a.Status == AppealPending && now.After(a.ReviewDeadline.Time)
}
