package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// FallbackPolicyName is the name of the catch-all policy seeded at startup
const FallbackPolicyName = "default_share_approval"

// FallbackPolicyPriority sorts the fallback after every other policy
const FallbackPolicyPriority = math.MaxInt32

// ApprovalPolicy decides whether a document share needs approval and how many votes it needs.
// Empty filter sets are wildcards.
type ApprovalPolicy struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Priority    int       `gorm:"not null;index" json:"priority"`
	IsActive    bool      `gorm:"not null;index" json:"isActive"`
	IsFallback  bool      `gorm:"default:false" json:"isFallback"`

	RequireApproval   bool `gorm:"not null" json:"requireApproval"`
	TimeoutHours      *int `json:"timeoutHours,omitempty"`
	RequiredApprovals *int `json:"requiredApprovals,omitempty"`
	AllowSelfApproval bool `gorm:"default:false" json:"allowSelfApproval"`

	// Filters
	CategoryIDs          pq.StringArray `gorm:"type:text[]" json:"categoryIds"`
	IncludeSubcategories bool           `gorm:"default:false" json:"includeSubcategories"`
	StorageProviderIDs   pq.StringArray `gorm:"type:text[]" json:"storageProviderIds"`
	RequesterIDs         pq.StringArray `gorm:"type:text[]" json:"requesterIds"`
	CredentialIDs        pq.StringArray `gorm:"type:text[]" json:"credentialIds"`
	FileTypes            pq.StringArray `gorm:"type:text[]" json:"fileTypes"`
	MaxFileSizeBytes     *int64         `json:"maxFileSizeBytes,omitempty"`

	Version   int            `gorm:"not null;default:1" json:"version"`
	CreatedBy *uuid.UUID     `gorm:"type:uuid" json:"createdBy,omitempty"`
	UpdatedBy *uuid.UUID     `gorm:"type:uuid" json:"updatedBy,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for ApprovalPolicy
func (ApprovalPolicy) TableName() string {
	return "approval_policies"
}

// BeforeCreate assigns an ID when the caller did not
func (p *ApprovalPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasFilters reports whether any filter set is non-empty
func (p *ApprovalPolicy) HasFilters() bool {
	return len(p.CategoryIDs) > 0 ||
		len(p.StorageProviderIDs) > 0 ||
		len(p.RequesterIDs) > 0 ||
		len(p.CredentialIDs) > 0 ||
		len(p.FileTypes) > 0 ||
		p.MaxFileSizeBytes != nil
}

// NewFallbackPolicy returns the catch-all policy definition
func NewFallbackPolicy() *ApprovalPolicy {
	one := 1
	return &ApprovalPolicy{
		Name:              FallbackPolicyName,
		Description:       "Catch-all policy applied when no other active policy matches",
		Priority:          FallbackPolicyPriority,
		IsActive:          true,
		IsFallback:        true,
		RequireApproval:   true,
		RequiredApprovals: &one,
	}
}

// NormalizeFileType lower-cases an extension and strips a leading dot
func NormalizeFileType(fileType string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), ".")
}
