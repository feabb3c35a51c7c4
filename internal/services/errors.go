package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrRequestNotFound    = errors.New("approval request not found")
	ErrPolicyNotFound     = errors.New("approval policy not found")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCategoryNotFound   = errors.New("category not found")
	ErrGrantNotFound      = errors.New("permission grant not found")

	ErrRequestNotPending       = errors.New("request is no longer pending")
	ErrRequestExpired          = errors.New("request has expired")
	ErrAlreadyDecided          = errors.New("approver has already decided on this request")
	ErrVersionConflict         = errors.New("version conflict - record was modified by another request")
	ErrDuplicatePolicyName     = errors.New("an approval policy with this name already exists")
	ErrFallbackPolicyImmutable = errors.New("the fallback policy cannot be deleted, deactivated or filtered")
	ErrCategoryCycle           = errors.New("category move would create a cycle")

	ErrNotEligibleApprover    = errors.New("user is not an eligible approver for this request")
	ErrSelfApprovalNotAllowed = errors.New("self-approval is not allowed")
	ErrPermissionDenied       = errors.New("permission denied")
)

func validationError(field, message string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, message)
}
