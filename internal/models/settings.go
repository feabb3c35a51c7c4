package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Defaults used when no settings row exists yet
const (
	DefaultExpirationDays          = 7
	DefaultRequiredApprovals       = 1
	DefaultLargeFileThresholdBytes = int64(100 * 1024 * 1024)
)

// ApprovalSettings is one version of the global approval configuration.
// Exactly one row is current; older rows are kept for audit and never updated
// after they are retired.
type ApprovalSettings struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Version   int       `gorm:"not null;uniqueIndex" json:"version"`
	IsCurrent bool      `gorm:"not null;default:false;index" json:"isCurrent"`

	ForceApprovalForAll    bool       `gorm:"default:false" json:"forceApprovalForAll"`
	ForceApprovalEnabledBy *uuid.UUID `gorm:"type:uuid" json:"forceApprovalEnabledBy,omitempty"`
	ForceApprovalEnabledAt *time.Time `json:"forceApprovalEnabledAt,omitempty"`
	ForceApprovalReason    string     `gorm:"type:text" json:"forceApprovalReason,omitempty"`

	ForceApprovalForLargeFiles bool  `gorm:"default:false" json:"forceApprovalForLargeFiles"`
	LargeFileThresholdBytes    int64 `gorm:"not null" json:"largeFileThresholdBytes"`

	DefaultExpirationDays    int  `gorm:"not null" json:"defaultExpirationDays"`
	DefaultRequiredApprovals int  `gorm:"not null" json:"defaultRequiredApprovals"`
	NotificationsEnabled     bool `gorm:"not null" json:"notificationsEnabled"`

	UpdatedBy *uuid.UUID `gorm:"type:uuid" json:"updatedBy,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`
}

// TableName returns the table name for ApprovalSettings
func (ApprovalSettings) TableName() string {
	return "approval_settings"
}

// BeforeCreate assigns an ID when the caller did not
func (s *ApprovalSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DefaultApprovalSettings returns the first settings version
func DefaultApprovalSettings() ApprovalSettings {
	return ApprovalSettings{
		Version:                  1,
		IsCurrent:                true,
		LargeFileThresholdBytes:  DefaultLargeFileThresholdBytes,
		DefaultExpirationDays:    DefaultExpirationDays,
		DefaultRequiredApprovals: DefaultRequiredApprovals,
		NotificationsEnabled:     true,
	}
}
