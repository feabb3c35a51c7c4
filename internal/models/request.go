package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShareApprovalRequest is one run of the approval workflow for a document share
type ShareApprovalRequest struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Status   string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Version  int       `gorm:"not null;default:1" json:"version"` // Optimistic locking
	Priority int       `gorm:"not null;default:0;index" json:"priority"`

	// Share details (immutable after creation)
	ShareID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"shareId"`
	DocumentID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"documentId"`
	BucketID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"bucketId"`
	StorageProviderID string     `gorm:"type:varchar(100)" json:"storageProviderId,omitempty"`
	CategoryID        *uuid.UUID `gorm:"type:uuid" json:"categoryId,omitempty"`
	FileName          string     `gorm:"type:varchar(500)" json:"fileName,omitempty"`
	FileSize          int64      `json:"fileSize"`
	FileType          string     `gorm:"type:varchar(50)" json:"fileType,omitempty"`
	ShareURL          string     `gorm:"type:varchar(1000)" json:"shareUrl,omitempty"`
	RequesterID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"requesterId"`
	RequesterName     string     `gorm:"type:varchar(255)" json:"requesterName,omitempty"`
	CredentialID      *uuid.UUID `gorm:"type:uuid" json:"credentialId,omitempty"`

	// Policy snapshot
	PolicyID          uuid.UUID `gorm:"type:uuid;not null;index" json:"policyId"`
	PolicyName        string    `gorm:"type:varchar(100)" json:"policyName"`
	AllowSelfApproval bool      `gorm:"default:false" json:"allowSelfApproval"`

	// Vote tracking
	RequiredApprovals int `gorm:"not null" json:"requiredApprovals"`
	CurrentApprovals  int `gorm:"not null;default:0" json:"currentApprovals"`

	// Timing
	ExpiresAt   time.Time      `gorm:"not null;index" json:"expiresAt"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Approvers []RequestApprover `gorm:"foreignKey:RequestID" json:"approvers,omitempty"`
}

// TableName returns the table name for ShareApprovalRequest
func (ShareApprovalRequest) TableName() string {
	return "share_approval_requests"
}

// BeforeCreate assigns an ID when the caller did not
func (r *ShareApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RequestApprover is one entry of a request's explicit approver list
type RequestApprover struct {
	RequestID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"requestId"`
	ApproverID uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"approverId"`
}

// TableName returns the table name for RequestApprover
func (RequestApprover) TableName() string {
	return "share_approval_request_approvers"
}

// Request status constants
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// IsValidStatus reports whether s is a known request status
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a terminal state
func (r *ShareApprovalRequest) IsTerminal() bool {
	return r.Status != StatusPending
}

// IsOverdue reports whether the deadline has passed at now
func (r *ShareApprovalRequest) IsOverdue(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasExplicitApprovers reports whether only listed identities may vote
func (r *ShareApprovalRequest) HasExplicitApprovers() bool {
	return len(r.Approvers) > 0
}

// IsListedApprover reports whether id is on the explicit approver list
func (r *ShareApprovalRequest) IsListedApprover(id uuid.UUID) bool {
	for _, a := range r.Approvers {
		if a.ApproverID == id {
			return true
		}
	}
	return false
}

// ApproverIDs returns the explicit approver list
func (r *ShareApprovalRequest) ApproverIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Approvers))
	for _, a := range r.Approvers {
		ids = append(ids, a.ApproverID)
	}
	return ids
}
