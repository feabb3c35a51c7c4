package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

// PolicyFilters is the filter block shared by create and update inputs
type PolicyFilters struct {
	CategoryIDs          []string `json:"categoryIds,omitempty"`
	IncludeSubcategories bool     `json:"includeSubcategories"`
	StorageProviderIDs   []string `json:"storageProviderIds,omitempty"`
	RequesterIDs         []string `json:"requesterIds,omitempty"`
	CredentialIDs        []string `json:"credentialIds,omitempty"`
	FileTypes            []string `json:"fileTypes,omitempty"`
	MaxFileSizeBytes     *int64   `json:"maxFileSizeBytes,omitempty"`
}

// CreatePolicyInput represents input for creating a policy
type CreatePolicyInput struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	Priority          int    `json:"priority"`
	IsActive          *bool  `json:"isActive,omitempty"`
	RequireApproval   *bool  `json:"requireApproval,omitempty"`
	TimeoutHours      *int   `json:"timeoutHours,omitempty"`
	RequiredApprovals *int   `json:"requiredApprovals,omitempty"`
	AllowSelfApproval bool   `json:"allowSelfApproval"`
	PolicyFilters
}

// UpdatePolicyInput represents input for updating a policy; nil fields are kept
type UpdatePolicyInput struct {
	Version           int            `json:"version" binding:"required"`
	Name              *string        `json:"name,omitempty"`
	Description       *string        `json:"description,omitempty"`
	Priority          *int           `json:"priority,omitempty"`
	IsActive          *bool          `json:"isActive,omitempty"`
	RequireApproval   *bool          `json:"requireApproval,omitempty"`
	TimeoutHours      *int           `json:"timeoutHours,omitempty"`
	RequiredApprovals *int           `json:"requiredApprovals,omitempty"`
	AllowSelfApproval *bool          `json:"allowSelfApproval,omitempty"`
	Filters           *PolicyFilters `json:"filters,omitempty"`
}

// PolicyService manages approval policies
type PolicyService struct {
	repo       repository.PolicyRepositoryInterface
	categories *CategoryService
	logger     *logrus.Entry
}

// NewPolicyService creates a new PolicyService
func NewPolicyService(repo repository.PolicyRepositoryInterface, categories *CategoryService, logger *logrus.Logger) *PolicyService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyService{
		repo:       repo,
		categories: categories,
		logger:     logger.WithField("component", "policies"),
	}
}

// CreatePolicy validates and stores a new policy
func (s *PolicyService) CreatePolicy(ctx context.Context, input CreatePolicyInput, actorID *uuid.UUID) (*models.ApprovalPolicy, error) {
	policy := &models.ApprovalPolicy{
		Name:              strings.TrimSpace(input.Name),
		Description:       input.Description,
		Priority:          input.Priority,
		IsActive:          true,
		RequireApproval:   true,
		TimeoutHours:      input.TimeoutHours,
		RequiredApprovals: input.RequiredApprovals,
		AllowSelfApproval: input.AllowSelfApproval,
		Version:           1,
		CreatedBy:         actorID,
		UpdatedBy:         actorID,
	}
	if input.IsActive != nil {
		policy.IsActive = *input.IsActive
	}
	if input.RequireApproval != nil {
		policy.RequireApproval = *input.RequireApproval
	}

	if err := s.applyFilters(ctx, policy, input.PolicyFilters); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, policy); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicatePolicyName
		}
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"policyID": policy.ID,
		"name":     policy.Name,
		"priority": policy.Priority,
	}).Info("Approval policy created")

	return policy, nil
}

// UpdatePolicy applies a partial update guarded by the policy version
func (s *PolicyService) UpdatePolicy(ctx context.Context, id uuid.UUID, input UpdatePolicyInput, actorID *uuid.UUID) (*models.ApprovalPolicy, error) {
	policy, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy.Version != input.Version {
		return nil, ErrVersionConflict
	}

	if policy.IsFallback {
		if err := checkFallbackUpdate(input); err != nil {
			return nil, err
		}
	}

	if input.Name != nil {
		policy.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		policy.Description = *input.Description
	}
	if input.Priority != nil {
		policy.Priority = *input.Priority
	}
	if input.IsActive != nil {
		policy.IsActive = *input.IsActive
	}
	if input.RequireApproval != nil {
		policy.RequireApproval = *input.RequireApproval
	}
	if input.TimeoutHours != nil {
		policy.TimeoutHours = input.TimeoutHours
	}
	if input.RequiredApprovals != nil {
		policy.RequiredApprovals = input.RequiredApprovals
	}
	if input.AllowSelfApproval != nil {
		policy.AllowSelfApproval = *input.AllowSelfApproval
	}
	if input.Filters != nil {
		if err := s.applyFilters(ctx, policy, *input.Filters); err != nil {
			return nil, err
		}
	}
	policy.UpdatedBy = actorID

	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateWithVersion(ctx, policy, input.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			return nil, ErrVersionConflict
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrDuplicatePolicyName
		}
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"policyID": policy.ID,
		"version":  policy.Version,
	}).Info("Approval policy updated")

	return policy, nil
}

// DeletePolicy soft-deletes a policy; the fallback policy cannot be deleted
func (s *PolicyService) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	policy, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if policy.IsFallback {
		return ErrFallbackPolicyImmutable
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPolicyNotFound
		}
		return err
	}

	s.logger.WithField("policyID", id).Info("Approval policy deleted")
	return nil
}

// GetPolicy retrieves a policy by ID
func (s *PolicyService) GetPolicy(ctx context.Context, id uuid.UUID) (*models.ApprovalPolicy, error) {
	policy, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

// ListPolicies lists policies in evaluation order
func (s *PolicyService) ListPolicies(ctx context.Context, filter repository.PolicyFilter, limit, offset int) ([]models.ApprovalPolicy, int64, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// ActivePolicies returns every active policy, fallback included
func (s *PolicyService) ActivePolicies(ctx context.Context) ([]models.ApprovalPolicy, error) {
	return s.repo.ListActive(ctx)
}

// checkFallbackUpdate rejects changes that would stop the fallback from matching
// everything and requiring approval
func checkFallbackUpdate(input UpdatePolicyInput) error {
	switch {
	case input.IsActive != nil && !*input.IsActive,
		input.RequireApproval != nil && !*input.RequireApproval,
		input.RequiredApprovals != nil && *input.RequiredApprovals != 1,
		input.Priority != nil && *input.Priority != models.FallbackPolicyPriority,
		input.Name != nil && strings.TrimSpace(*input.Name) != models.FallbackPolicyName:
		return ErrFallbackPolicyImmutable
	}
	if f := input.Filters; f != nil {
		if len(f.CategoryIDs) > 0 || len(f.StorageProviderIDs) > 0 || len(f.RequesterIDs) > 0 ||
			len(f.CredentialIDs) > 0 || len(f.FileTypes) > 0 || f.MaxFileSizeBytes != nil {
			return ErrFallbackPolicyImmutable
		}
	}
	return nil
}

// applyFilters normalizes and checks a filter block, then copies it onto policy
func (s *PolicyService) applyFilters(ctx context.Context, policy *models.ApprovalPolicy, filters PolicyFilters) error {
	categoryIDs, err := parseUUIDList("categoryIds", filters.CategoryIDs)
	if err != nil {
		return err
	}
	if s.categories != nil {
		if err := s.categories.ValidateIDs(ctx, categoryIDs); err != nil {
			if errors.Is(err, ErrCategoryNotFound) {
				return validationError("categoryIds", "references an unknown category")
			}
			return err
		}
	}
	requesterIDs, err := parseUUIDList("requesterIds", filters.RequesterIDs)
	if err != nil {
		return err
	}
	credentialIDs, err := parseUUIDList("credentialIds", filters.CredentialIDs)
	if err != nil {
		return err
	}

	var providers []string
	for _, p := range filters.StorageProviderIDs {
		p = strings.TrimSpace(p)
		if p == "" {
			return validationError("storageProviderIds", "must not contain empty values")
		}
		providers = appendUnique(providers, p)
	}

	var fileTypes []string
	for _, ft := range filters.FileTypes {
		normalized := models.NormalizeFileType(ft)
		if normalized == "" {
			return validationError("fileTypes", "must not contain empty values")
		}
		fileTypes = appendUnique(fileTypes, normalized)
	}

	policy.CategoryIDs = uuidStrings(categoryIDs)
	policy.IncludeSubcategories = filters.IncludeSubcategories
	policy.StorageProviderIDs = pq.StringArray(providers)
	policy.RequesterIDs = uuidStrings(requesterIDs)
	policy.CredentialIDs = uuidStrings(credentialIDs)
	policy.FileTypes = pq.StringArray(fileTypes)
	policy.MaxFileSizeBytes = filters.MaxFileSizeBytes
	return nil
}

func validatePolicy(policy *models.ApprovalPolicy) error {
	if policy.Name == "" {
		return validationError("name", "is required")
	}
	if len(policy.Name) > 100 {
		return validationError("name", "must be at most 100 characters")
	}
	if !policy.IsFallback && (policy.Priority < 0 || policy.Priority >= models.FallbackPolicyPriority) {
		return validationError("priority", "must be between 0 and the fallback priority")
	}
	if policy.TimeoutHours != nil && *policy.TimeoutHours < 1 {
		return validationError("timeoutHours", "must be at least 1")
	}
	if policy.RequiredApprovals != nil && *policy.RequiredApprovals < 1 {
		return validationError("requiredApprovals", "must be at least 1")
	}
	if policy.MaxFileSizeBytes != nil && *policy.MaxFileSizeBytes < 0 {
		return validationError("maxFileSizeBytes", "must not be negative")
	}
	return nil
}

func parseUUIDList(field string, values []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(values))
	for _, v := range values {
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, validationError(field, fmt.Sprintf("contains an invalid id %q", v))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	if len(ids) == 0 {
		return nil
	}
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
