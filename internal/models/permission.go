package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PermissionLevel is the ordered permission scale used for bucket grants.
// The numeric value defines the order: a higher value implies every lower one.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionRead
	PermissionReadWrite
	PermissionAdmin
)

var permissionLevelNames = map[PermissionLevel]string{
	PermissionNone:      "none",
	PermissionRead:      "read",
	PermissionReadWrite: "read_write",
	PermissionAdmin:     "admin",
}

// String returns the wire name of the level
func (l PermissionLevel) String() string {
	if name, ok := permissionLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("PermissionLevel(%d)", int(l))
}

// Valid reports whether l is one of the defined levels
func (l PermissionLevel) Valid() bool {
	_, ok := permissionLevelNames[l]
	return ok
}

// AtLeast reports whether l grants everything required grants
func (l PermissionLevel) AtLeast(required PermissionLevel) bool {
	return l >= required
}

// MaxLevel returns the higher of two levels
func MaxLevel(a, b PermissionLevel) PermissionLevel {
	if a > b {
		return a
	}
	return b
}

// MinLevel returns the lower of two levels
func MinLevel(a, b PermissionLevel) PermissionLevel {
	if a < b {
		return a
	}
	return b
}

// ParsePermissionLevel parses a wire name ("read", "read_write", "admin", "none")
func ParsePermissionLevel(s string) (PermissionLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "readwrite", "read-write":
		normalized = "read_write"
	case "administer":
		normalized = "admin"
	}
	for level, name := range permissionLevelNames {
		if name == normalized {
			return level, nil
		}
	}
	return PermissionNone, fmt.Errorf("unknown permission level %q", s)
}

// MarshalText encodes the level as its wire name
func (l PermissionLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid permission level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a wire name
func (l *PermissionLevel) UnmarshalText(text []byte) error {
	level, err := ParsePermissionLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Subject types for bucket grants
const (
	SubjectTypeUser  = "user"
	SubjectTypeGroup = "group"
)

// Bucket is the storage bucket a grant refers to. Only the fields the
// permission engine needs are kept here; bucket management lives elsewhere.
type Bucket struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string    `gorm:"type:varchar(255);not null" json:"name"`
	StorageProviderID string    `gorm:"type:varchar(100);not null;index" json:"storageProviderId"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Bucket
func (Bucket) TableName() string {
	return "buckets"
}

// BeforeCreate assigns an ID when the caller did not
func (b *Bucket) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BucketPermission grants a user or a group a level on a bucket.
// A nil BucketID is a global grant that applies to every bucket.
type BucketPermission struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BucketID    *uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_bucket_permission_subject" json:"bucketId,omitempty"`
	SubjectType string          `gorm:"type:varchar(20);not null;uniqueIndex:idx_bucket_permission_subject" json:"subjectType"`
	SubjectID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_bucket_permission_subject;index" json:"subjectId"`
	Level       PermissionLevel `gorm:"not null" json:"level"`
	GrantedBy   *uuid.UUID      `gorm:"type:uuid" json:"grantedBy,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for BucketPermission
func (BucketPermission) TableName() string {
	return "bucket_permissions"
}

// BeforeCreate assigns an ID when the caller did not
func (p *BucketPermission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsGlobal reports whether the grant applies to every bucket
func (p *BucketPermission) IsGlobal() bool {
	return p.BucketID == nil
}

// Credential is a machine credential (API key) with its own permission ceiling
type Credential struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string          `gorm:"type:varchar(255);not null" json:"name"`
	MaxLevel         PermissionLevel `gorm:"not null" json:"maxLevel"`
	AllowedProviders pq.StringArray  `gorm:"type:text[]" json:"allowedProviders"`
	IsActive         bool            `gorm:"not null" json:"isActive"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for Credential
func (Credential) TableName() string {
	return "credentials"
}

// BeforeCreate assigns an ID when the caller did not
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AllowsProvider reports whether the credential may reach the given storage provider.
// An empty allow-list allows every provider.
func (c *Credential) AllowsProvider(providerID string) bool {
	if len(c.AllowedProviders) == 0 {
		return true
	}
	for _, p := range c.AllowedProviders {
		if p == providerID {
			return true
		}
	}
	return false
}

// CredentialBucketPermission grants a machine credential a level on a bucket
type CredentialBucketPermission struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CredentialID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_credential_bucket" json:"credentialId"`
	BucketID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_credential_bucket" json:"bucketId"`
	Level        PermissionLevel `gorm:"not null" json:"level"`
	GrantedBy    *uuid.UUID      `gorm:"type:uuid" json:"grantedBy,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for CredentialBucketPermission
func (CredentialBucketPermission) TableName() string {
	return "credential_bucket_permissions"
}

// BeforeCreate assigns an ID when the caller did not
func (p *CredentialBucketPermission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// GroupMember links a user to a group (role)
type GroupMember struct {
	GroupID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"groupId"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for GroupMember
func (GroupMember) TableName() string {
	return "group_members"
}

// Denial reasons reported by permission checks
const (
	DenyReasonNoGrant            = "no_grant"
	DenyReasonInsufficientLevel  = "insufficient_level"
	DenyReasonProviderNotAllowed = "provider_not_allowed"
	DenyReasonCredentialInactive = "credential_inactive"
)

// PermissionCheckResult is the structured answer to "may this subject do X on this bucket"
type PermissionCheckResult struct {
	Allowed  bool            `json:"allowed"`
	Reason   string          `json:"reason,omitempty"`
	Required PermissionLevel `json:"required"`
	Have     PermissionLevel `json:"have"`
}
