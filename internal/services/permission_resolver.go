package services

import (
	"share-approval-service/internal/models"
)

// CredentialGrants is everything needed to resolve a machine credential on a bucket
type CredentialGrants struct {
	Credential *models.Credential
	Bucket     *models.Bucket
	// Grant is nil when the credential has no grant on the bucket
	Grant *models.CredentialBucketPermission
}

// ResolveUserLevel returns the effective level of a human identity given every
// grant that applies to it on one bucket (direct, group and global).
// The result is the maximum of the grant levels.
func ResolveUserLevel(grants []models.BucketPermission) models.PermissionLevel {
	level := models.PermissionNone
	for _, g := range grants {
		level = models.MaxLevel(level, g.Level)
	}
	return level
}

// CheckUserLevel compares a resolved user level against required
func CheckUserLevel(have, required models.PermissionLevel) models.PermissionCheckResult {
	return compareLevels(have, required, "")
}

// ResolveCredentialLevel returns the credential's effective level on the bucket
// and, when access is blocked outright, the reason.
func ResolveCredentialLevel(grants CredentialGrants) (models.PermissionLevel, string) {
	if grants.Credential == nil || !grants.Credential.IsActive {
		return models.PermissionNone, models.DenyReasonCredentialInactive
	}
	if grants.Bucket != nil && !grants.Credential.AllowsProvider(grants.Bucket.StorageProviderID) {
		return models.PermissionNone, models.DenyReasonProviderNotAllowed
	}
	if grants.Grant == nil {
		return models.PermissionNone, models.DenyReasonNoGrant
	}
	level := models.MinLevel(grants.Grant.Level, grants.Credential.MaxLevel)
	if level == models.PermissionNone {
		return level, models.DenyReasonInsufficientLevel
	}
	return level, ""
}

// CheckCredentialLevel resolves and compares in one step
func CheckCredentialLevel(grants CredentialGrants, required models.PermissionLevel) models.PermissionCheckResult {
	have, blocked := ResolveCredentialLevel(grants)
	return compareLevels(have, required, blocked)
}

func compareLevels(have, required models.PermissionLevel, blocked string) models.PermissionCheckResult {
	result := models.PermissionCheckResult{Required: required, Have: have}

	switch {
	case blocked != "":
		result.Reason = blocked
	case have.AtLeast(required):
		result.Allowed = true
	case have == models.PermissionNone:
		result.Reason = models.DenyReasonNoGrant
	default:
		result.Reason = models.DenyReasonInsufficientLevel
	}

	return result
}
