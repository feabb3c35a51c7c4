package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

const maxCommentLength = 2000

// DecisionRecorder stores approver votes. It must run inside the caller's
// transaction so the duplicate check and the insert are one unit; the unique
// index on (request_id, approver_id) backs the check against concurrent voters.
type DecisionRecorder struct{}

// NewDecisionRecorder creates a new DecisionRecorder
func NewDecisionRecorder() *DecisionRecorder {
	return &DecisionRecorder{}
}

// Record inserts the approver's decision, or fails with ErrAlreadyDecided
func (r *DecisionRecorder) Record(ctx context.Context, tx repository.ApprovalRepositoryInterface, requestID, approverID uuid.UUID, decision, comment string, decidedAt time.Time) (*models.ApprovalDecision, error) {
	if !models.IsValidDecision(decision) {
		return nil, validationError("decision", "must be approved or rejected")
	}
	if len(comment) > maxCommentLength {
		return nil, validationError("comment", "is too long")
	}

	_, err := tx.FindDecision(ctx, requestID, approverID)
	switch {
	case err == nil:
		return nil, ErrAlreadyDecided
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	record := &models.ApprovalDecision{
		RequestID:  requestID,
		ApproverID: approverID,
		Decision:   decision,
		Comment:    comment,
		DecidedAt:  decidedAt,
	}
	if err := tx.CreateDecision(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}
	return record, nil
}
