package services

import (
	"sort"

	"github.com/google/uuid"

	"share-approval-service/internal/models"
)

// Match reasons
const (
	MatchReasonForcedAll       = "forced_all"
	MatchReasonForcedLargeFile = "forced_large_file"
	MatchReasonPolicy          = "policy"
	MatchReasonFallback        = "fallback"
)

// ShareAttributes describes a candidate document share
type ShareAttributes struct {
	CategoryID *uuid.UUID `json:"categoryId,omitempty"`
	// CategoryAncestors is the parent chain of CategoryID, nearest first
	CategoryAncestors []uuid.UUID `json:"-"`
	StorageProviderID string      `json:"storageProviderId"`
	RequesterID       uuid.UUID   `json:"requesterId"`
	CredentialID      *uuid.UUID  `json:"credentialId,omitempty"`
	FileSize          int64       `json:"fileSize"`
	FileType          string      `json:"fileType"`
}

// MatchResult is the outcome of policy selection
type MatchResult struct {
	RequiresApproval bool                   `json:"requiresApproval"`
	Policy           *models.ApprovalPolicy `json:"policy"`
	Reason           string                 `json:"reason"`
}

// MatchPolicy selects the single policy that governs a share. It never mutates
// its inputs and returns the same policy for the same inputs.
//
// Global overrides win first. Otherwise active policies are tried by
// (priority, name) and the first whose every non-empty filter accepts the
// share is selected; when none does, the fallback policy applies.
func MatchPolicy(settings models.ApprovalSettings, policies []models.ApprovalPolicy, attrs ShareAttributes) MatchResult {
	fallback := findFallback(policies)

	if settings.ForceApprovalForAll {
		return MatchResult{RequiresApproval: true, Policy: fallback, Reason: MatchReasonForcedAll}
	}
	if settings.ForceApprovalForLargeFiles && attrs.FileSize >= settings.LargeFileThresholdBytes {
		return MatchResult{RequiresApproval: true, Policy: fallback, Reason: MatchReasonForcedLargeFile}
	}

	ordered := make([]models.ApprovalPolicy, 0, len(policies))
	for _, p := range policies {
		if p.IsActive && !p.IsFallback {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	for i := range ordered {
		if policyMatches(&ordered[i], attrs) {
			selected := ordered[i]
			return MatchResult{RequiresApproval: selected.RequireApproval, Policy: &selected, Reason: MatchReasonPolicy}
		}
	}

	return MatchResult{RequiresApproval: true, Policy: fallback, Reason: MatchReasonFallback}
}

// findFallback returns a copy of the fallback policy among policies, or a synthetic one
func findFallback(policies []models.ApprovalPolicy) *models.ApprovalPolicy {
	for _, p := range policies {
		if p.IsFallback {
			fallback := p
			// The fallback always requires one approval, whatever was stored
			one := 1
			fallback.RequireApproval = true
			fallback.RequiredApprovals = &one
			return &fallback
		}
	}
	return models.NewFallbackPolicy()
}

func policyMatches(p *models.ApprovalPolicy, attrs ShareAttributes) bool {
	if len(p.CategoryIDs) > 0 && !categoryMatches(p, attrs) {
		return false
	}
	if len(p.StorageProviderIDs) > 0 && !containsString(p.StorageProviderIDs, attrs.StorageProviderID) {
		return false
	}
	if len(p.RequesterIDs) > 0 && !containsString(p.RequesterIDs, attrs.RequesterID.String()) {
		return false
	}
	if len(p.CredentialIDs) > 0 {
		if attrs.CredentialID == nil || !containsString(p.CredentialIDs, attrs.CredentialID.String()) {
			return false
		}
	}
	if len(p.FileTypes) > 0 && !containsString(p.FileTypes, models.NormalizeFileType(attrs.FileType)) {
		return false
	}
	if p.MaxFileSizeBytes != nil && attrs.FileSize > *p.MaxFileSizeBytes {
		return false
	}
	return true
}

func categoryMatches(p *models.ApprovalPolicy, attrs ShareAttributes) bool {
	if attrs.CategoryID == nil {
		return false
	}
	if containsString(p.CategoryIDs, attrs.CategoryID.String()) {
		return true
	}
	if !p.IncludeSubcategories {
		return false
	}
	for _, ancestor := range attrs.CategoryAncestors {
		if containsString(p.CategoryIDs, ancestor.String()) {
			return true
		}
	}
	return false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
