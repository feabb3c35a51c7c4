package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApprovalDecision represents an approver's vote on a request.
// The unique index enforces one vote per (request, approver).
type ApprovalDecision struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_decision_request_approver" json:"requestId"`
	ApproverID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_decision_request_approver;index" json:"approverId"`
	Decision   string    `gorm:"type:varchar(20);not null" json:"decision"` // approved, rejected
	Comment    string    `gorm:"type:text" json:"comment,omitempty"`
	DecidedAt  time.Time `gorm:"not null" json:"decidedAt"`
}

// TableName returns the table name for ApprovalDecision
func (ApprovalDecision) TableName() string {
	return "approval_decisions"
}

// BeforeCreate assigns an ID when the caller did not
func (d *ApprovalDecision) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Decision constants
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// IsValidDecision reports whether d is a known vote value
func IsValidDecision(d string) bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ApprovalHistory is one append-only audit entry for a request
type ApprovalHistory struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_history_request_sequence" json:"requestId"`
	Sequence  int            `gorm:"not null;uniqueIndex:idx_history_request_sequence" json:"sequence"`
	Action    string         `gorm:"type:varchar(20);not null;index" json:"action"`
	ActorID   *uuid.UUID     `gorm:"type:uuid" json:"actorId,omitempty"`
	Note      string         `gorm:"type:text" json:"note,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"createdAt"`
}

// TableName returns the table name for ApprovalHistory
func (ApprovalHistory) TableName() string {
	return "approval_history"
}

// BeforeCreate assigns an ID when the caller did not
func (h *ApprovalHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// History action constants
const (
	HistoryRequested = "requested"
	HistoryDecided   = "decided"
	HistoryApproved  = "approved"
	HistoryRejected  = "rejected"
	HistoryExpired   = "expired"
)
