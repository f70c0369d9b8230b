package model

import (
	"time"

	"github.com/google/uuid"
)

// Recovery reasons.
const (
	RecoveryReasonForceAbort  = "force_abort"
	RecoveryReasonForceSubmit = "force_submit"
	RecoveryReasonExpired     = "expired"
)

// RecoverySnapshot is the persisted state of a session that ended outside
// the normal submit path.
type RecoverySnapshot struct {
	ID            uuid.UUID `json:"id"`
	InteractionID string    `json:"interaction_id"`
	StudentID     string    `json:"student_id"`
	Version       string    `json:"version"`
	Reason        string    `json:"reason"`
	State         string    `json:"state"`
	Record        string    `json:"record"`
	CreatedAt     time.Time `json:"created_at"`
}
