package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"share-approval-service/internal/metrics"
	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
)

const (
	// maxTransitionAttempts bounds re-reads after an optimistic-lock conflict
	maxTransitionAttempts = 5

	// ApprovalAuthorityLevel is the bucket level that makes a user an approver
	// for requests without an explicit approver list
	ApprovalAuthorityLevel = models.PermissionAdmin

	defaultSweepBatchSize = 100
)

var errNotOverdue = errors.New("request deadline has not passed")

// Notifier receives workflow events after they are committed
type Notifier interface {
	RequestOpened(ctx context.Context, request *models.ShareApprovalRequest)
	RequestDecided(ctx context.Context, request *models.ShareApprovalRequest, decision *models.ApprovalDecision)
	RequestExpired(ctx context.Context, request *models.ShareApprovalRequest)
}

// ApprovalAuthority answers bucket permission checks for approvers
type ApprovalAuthority interface {
	CheckUser(ctx context.Context, userID, bucketID uuid.UUID, required models.PermissionLevel) (models.PermissionCheckResult, error)
}

// OpenShareInput describes the share a request is opened for
type OpenShareInput struct {
	ShareID           uuid.UUID   `json:"shareId" binding:"required"`
	DocumentID        uuid.UUID   `json:"documentId" binding:"required"`
	BucketID          uuid.UUID   `json:"bucketId" binding:"required"`
	StorageProviderID string      `json:"storageProviderId"`
	CategoryID        *uuid.UUID  `json:"categoryId,omitempty"`
	FileName          string      `json:"fileName"`
	FileSize          int64       `json:"fileSize"`
	FileType          string      `json:"fileType"`
	ShareURL          string      `json:"shareUrl"`
	RequesterID       uuid.UUID   `json:"requesterId"`
	RequesterName     string      `json:"requesterName"`
	CredentialID      *uuid.UUID  `json:"credentialId,omitempty"`
	ApproverIDs       []uuid.UUID `json:"approverIds,omitempty"`
}

// Attributes returns the matcher view of the share
func (in OpenShareInput) Attributes() ShareAttributes {
	return ShareAttributes{
		CategoryID:        in.CategoryID,
		StorageProviderID: in.StorageProviderID,
		RequesterID:       in.RequesterID,
		CredentialID:      in.CredentialID,
		FileSize:          in.FileSize,
		FileType:          in.FileType,
	}
}

// SweepResult summarizes one ProcessExpired run
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ApprovalEngine owns the share approval state machine:
// pending -> approved | rejected | expired, each terminal.
type ApprovalEngine struct {
	repo      repository.ApprovalRepositoryInterface
	recorder  *DecisionRecorder
	authority ApprovalAuthority
	settings  SettingsProvider
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *logrus.Entry
	now       func() time.Time
}

// NewApprovalEngine creates a new ApprovalEngine. notifier and m may be nil.
func NewApprovalEngine(repo repository.ApprovalRepositoryInterface, authority ApprovalAuthority, settings SettingsProvider, notifier Notifier, m *metrics.Metrics, logger *logrus.Logger) *ApprovalEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalEngine{
		repo:      repo,
		recorder:  NewDecisionRecorder(),
		authority: authority,
		settings:  settings,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.WithField("component", "approval-engine"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the engine's time source
func (e *ApprovalEngine) SetClock(now func() time.Time) {
	e.now = now
}

// Open creates a pending request for a share governed by policy, using the
// settings snapshot for any value the policy leaves unset.
func (e *ApprovalEngine) Open(ctx context.Context, share OpenShareInput, policy *models.ApprovalPolicy, settings models.ApprovalSettings) (*models.ShareApprovalRequest, error) {
	if policy == nil {
		return nil, validationError("policy", "is required")
	}
	if err := validateShare(share); err != nil {
		return nil, err
	}

	required := settings.DefaultRequiredApprovals
	if policy.RequiredApprovals != nil {
		required = *policy.RequiredApprovals
	}
	if required < 1 {
		required = 1
	}

	var ttl time.Duration
	if policy.TimeoutHours != nil && *policy.TimeoutHours > 0 {
		ttl = time.Duration(*policy.TimeoutHours) * time.Hour
	} else {
		days := settings.DefaultExpirationDays
		if days < 1 {
			days = models.DefaultExpirationDays
		}
		ttl = time.Duration(days) * 24 * time.Hour
	}

	approverIDs := uniqueIDs(share.ApproverIDs)
	if len(approverIDs) > 0 {
		eligible := 0
		for _, id := range approverIDs {
			if id != share.RequesterID || policy.AllowSelfApproval {
				eligible++
			}
		}
		if eligible < required {
			return nil, validationError("approverIds", "has fewer eligible approvers than required approvals")
		}
	}

	now := e.now()
	request := &models.ShareApprovalRequest{
		ID:                uuid.New(),
		Status:            models.StatusPending,
		Version:           1,
		Priority:          policy.Priority,
		ShareID:           share.ShareID,
		DocumentID:        share.DocumentID,
		BucketID:          share.BucketID,
		StorageProviderID: share.StorageProviderID,
		CategoryID:        share.CategoryID,
		FileName:          share.FileName,
		FileSize:          share.FileSize,
		FileType:          models.NormalizeFileType(share.FileType),
		ShareURL:          share.ShareURL,
		RequesterID:       share.RequesterID,
		RequesterName:     share.RequesterName,
		CredentialID:      share.CredentialID,
		PolicyID:          policy.ID,
		PolicyName:        policy.Name,
		AllowSelfApproval: policy.AllowSelfApproval,
		RequiredApprovals: required,
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
	}
	for _, id := range approverIDs {
		request.Approvers = append(request.Approvers, models.RequestApprover{RequestID: request.ID, ApproverID: id})
	}

	err := e.repo.WithTransaction(ctx, func(txRepo repository.ApprovalRepositoryInterface) error {
		if err := txRepo.CreateRequest(ctx, request); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		requesterID := request.RequesterID
		return txRepo.AppendHistory(ctx, &models.ApprovalHistory{
			RequestID: request.ID,
			Action:    models.HistoryRequested,
			ActorID:   &requesterID,
			Metadata: historyMetadata(map[string]interface{}{
				"policyId":          policy.ID.String(),
				"policyName":        policy.Name,
				"requiredApprovals": required,
				"expiresAt":         request.ExpiresAt.Format(time.RFC3339),
			}),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.RecordTransition(models.StatusPending)
	e.logger.WithFields(logrus.Fields{
		"requestID":         request.ID,
		"shareID":           request.ShareID,
		"policy":            request.PolicyName,
		"requiredApprovals": request.RequiredApprovals,
		"expiresAt":         request.ExpiresAt,
	}).Info("Share approval request opened")

	if settings.NotificationsEnabled && e.notifier != nil {
		e.notifier.RequestOpened(ctx, request)
	}

	return request, nil
}

// Decide records one approver's vote and applies its consequence. A rejection
// closes the request immediately; approvals close it once the required count is
// reached. A request found past its deadline is expired and ErrRequestExpired
// is returned.
func (e *ApprovalEngine) Decide(ctx context.Context, requestID, approverID uuid.UUID, decision, comment string) (*models.ShareApprovalRequest, error) {
	if !models.IsValidDecision(decision) {
		return nil, validationError("decision", "must be approved or rejected")
	}

	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if request.IsTerminal() || request.IsOverdue(e.now()) {
		return e.voteOnClosed(ctx, request, approverID)
	}
	if err := e.checkEligibility(ctx, request, approverID); err != nil {
		return nil, err
	}

	outcome, err := e.transition(ctx, requestID, func(ctx context.Context, txRepo repository.ApprovalRepositoryInterface, req *models.ShareApprovalRequest, now time.Time, out *transitionOutcome) ([]models.ApprovalHistory, error) {
		if req.IsOverdue(now) {
			out.expired = true
			return expireRequest(req, now, "deadline passed before decision"), nil
		}

		record, err := e.recorder.Record(ctx, txRepo, req.ID, approverID, decision, comment, now)
		if err != nil {
			return nil, err
		}
		out.decision = record

		actor := approverID
		entries := []models.ApprovalHistory{{
			Action:   models.HistoryDecided,
			ActorID:  &actor,
			Note:     comment,
			Metadata: historyMetadata(map[string]interface{}{"decision": decision}),
		}}

		if decision == models.DecisionRejected {
			req.Status = models.StatusRejected
			req.ProcessedAt = &now
			return append(entries, models.ApprovalHistory{
				Action:  models.HistoryRejected,
				ActorID: &actor,
				Note:    comment,
			}), nil
		}

		req.CurrentApprovals++
		if req.CurrentApprovals >= req.RequiredApprovals {
			req.Status = models.StatusApproved
			req.ProcessedAt = &now
			entries = append(entries, models.ApprovalHistory{
				Action:  models.HistoryApproved,
				ActorID: &actor,
				Metadata: historyMetadata(map[string]interface{}{
					"approvals": req.CurrentApprovals,
					"required":  req.RequiredApprovals,
				}),
			})
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTransition(ctx, outcome)

	if outcome.expired {
		return outcome.request, ErrRequestExpired
	}
	return outcome.request, nil
}

// ProcessExpired expires up to batchSize overdue pending requests. Each request
// is its own transaction; a failure is logged and the batch continues.
func (e *ApprovalEngine) ProcessExpired(ctx context.Context, batchSize int) (SweepResult, error) {
	var result SweepResult
	if batchSize < 1 {
		batchSize = defaultSweepBatchSize
	}

	ids, err := e.repo.FindOverdueRequestIDs(ctx, e.now(), batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to find overdue requests: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		_, err := e.expireOverdue(ctx, id, "deadline passed")

		switch {
		case err == nil:
			result.Expired++
		case errors.Is(err, ErrRequestNotPending), errors.Is(err, ErrRequestNotFound), errors.Is(err, errNotOverdue):
			result.Skipped++
		default:
			result.Failed++
			e.logger.WithError(err).WithField("requestID", id).Error("Failed to expire request")
		}
	}

	return result, nil
}

// expireOverdue closes one overdue pending request
func (e *ApprovalEngine) expireOverdue(ctx context.Context, requestID uuid.UUID, note string) (*transitionOutcome, error) {
	outcome, err := e.transition(ctx, requestID, func(_ context.Context, _ repository.ApprovalRepositoryInterface, req *models.ShareApprovalRequest, now time.Time, out *transitionOutcome) ([]models.ApprovalHistory, error) {
		if !req.IsOverdue(now) {
			return nil, errNotOverdue
		}
		out.expired = true
		return expireRequest(req, now, note), nil
	})
	if err != nil {
		return nil, err
	}
	e.afterTransition(ctx, outcome)
	return outcome, nil
}

// voteOnClosed answers a vote on a request that is terminal or past its
// deadline. An overdue request is expired first, whoever voted. Callers
// unrelated to the request still get ErrRequestNotFound.
func (e *ApprovalEngine) voteOnClosed(ctx context.Context, request *models.ShareApprovalRequest, approverID uuid.UUID) (*models.ShareApprovalRequest, error) {
	closedErr := ErrRequestNotPending
	if !request.IsTerminal() {
		outcome, err := e.expireOverdue(ctx, request.ID, "deadline passed before decision")
		switch {
		case err == nil:
			request = outcome.request
			closedErr = ErrRequestExpired
		case errors.Is(err, ErrRequestNotPending):
		default:
			return nil, err
		}
	}

	visible, err := e.canView(ctx, request, approverID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrRequestNotFound
	}
	if errors.Is(closedErr, ErrRequestExpired) {
		return request, closedErr
	}
	return nil, closedErr
}

// GetRequest returns a request to a viewer related to it: the requester, a
// listed approver or an approval authority on the bucket. Anyone else gets
// ErrRequestNotFound.
func (e *ApprovalEngine) GetRequest(ctx context.Context, requestID, viewerID uuid.UUID) (*models.ShareApprovalRequest, error) {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	ok, err := e.canView(ctx, request, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	return request, nil
}

// GetHistory returns the audit trail of a request in order
func (e *ApprovalEngine) GetHistory(ctx context.Context, requestID, viewerID uuid.UUID) ([]models.ApprovalHistory, error) {
	if _, err := e.GetRequest(ctx, requestID, viewerID); err != nil {
		return nil, err
	}
	return e.repo.GetRequestHistory(ctx, requestID)
}

// GetDecisions returns the votes cast on a request
func (e *ApprovalEngine) GetDecisions(ctx context.Context, requestID, viewerID uuid.UUID) ([]models.ApprovalDecision, error) {
	if _, err := e.GetRequest(ctx, requestID, viewerID); err != nil {
		return nil, err
	}
	return e.repo.ListDecisions(ctx, requestID)
}

// ListPending lists pending requests, optionally only those an approver may vote on
func (e *ApprovalEngine) ListPending(ctx context.Context, filter repository.PendingFilter, limit, offset int) ([]models.ShareApprovalRequest, int64, error) {
	return e.repo.ListPendingRequests(ctx, filter, limit, offset)
}

// ListMyRequests lists requests submitted by requesterID
func (e *ApprovalEngine) ListMyRequests(ctx context.Context, requesterID uuid.UUID, status string, limit, offset int) ([]models.ShareApprovalRequest, int64, error) {
	return e.repo.ListRequestsByRequester(ctx, requesterID, status, limit, offset)
}

// Stats returns aggregate counts; "today" starts at UTC midnight
func (e *ApprovalEngine) Stats(ctx context.Context) (*repository.RequestStats, error) {
	since := e.now().UTC().Truncate(24 * time.Hour)
	return e.repo.GetStats(ctx, since)
}

// transitionOutcome carries what a committed transition did
type transitionOutcome struct {
	request  *models.ShareApprovalRequest
	decision *models.ApprovalDecision
	expired  bool
}

// transitionFunc mutates a pending request in place and returns the history
// entries that record the change
type transitionFunc func(ctx context.Context, txRepo repository.ApprovalRepositoryInterface, request *models.ShareApprovalRequest, now time.Time, out *transitionOutcome) ([]models.ApprovalHistory, error)

// transition is the only path that changes a request's status or counters.
// It reads the request inside a transaction, applies mutate, writes it back
// guarded by the version it read and appends history in the same transaction.
// A version conflict rolls everything back and starts over from a fresh read;
// a request found terminal fails with ErrRequestNotPending.
func (e *ApprovalEngine) transition(ctx context.Context, requestID uuid.UUID, mutate transitionFunc) (*transitionOutcome, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome := &transitionOutcome{}
		err := e.repo.WithTransaction(ctx, func(txRepo repository.ApprovalRepositoryInterface) error {
			request, err := txRepo.GetRequestByID(ctx, requestID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrRequestNotFound
				}
				return err
			}
			if request.IsTerminal() {
				return ErrRequestNotPending
			}

			expectedVersion := request.Version
			now := e.now()

			entries, err := mutate(ctx, txRepo, request, now, outcome)
			if err != nil {
				return err
			}

			if err := txRepo.UpdateRequestWithVersion(ctx, request, expectedVersion); err != nil {
				return err
			}

			for i := range entries {
				entries[i].RequestID = request.ID
				if entries[i].CreatedAt.IsZero() {
					entries[i].CreatedAt = now
				}
				if err := txRepo.AppendHistory(ctx, &entries[i]); err != nil {
					return err
				}
			}

			outcome.request = request
			return nil
		})

		if errors.Is(err, repository.ErrVersionConflict) {
			e.metrics.RecordVersionConflict()
			e.logger.WithFields(logrus.Fields{
				"requestID": requestID,
				"attempt":   attempt,
			}).Debug("Version conflict on request, retrying from a fresh read")
			continue
		}
		if err != nil {
			return nil, err
		}
		return outcome, nil
	}

	return nil, ErrVersionConflict
}

// afterTransition records metrics and notifies for committed changes
func (e *ApprovalEngine) afterTransition(ctx context.Context, outcome *transitionOutcome) {
	request := outcome.request
	if outcome.decision != nil {
		e.metrics.RecordDecision(outcome.decision.Decision)
	}
	if !request.IsTerminal() {
		return
	}

	e.metrics.RecordTransition(request.Status)
	e.logger.WithFields(logrus.Fields{
		"requestID": request.ID,
		"status":    request.Status,
		"approvals": request.CurrentApprovals,
		"required":  request.RequiredApprovals,
	}).Info("Share approval request closed")

	if e.notifier == nil || !e.notificationsEnabled(ctx) {
		return
	}
	switch request.Status {
	case models.StatusExpired:
		e.notifier.RequestExpired(ctx, request)
	case models.StatusApproved, models.StatusRejected:
		e.notifier.RequestDecided(ctx, request, outcome.decision)
	}
}

func (e *ApprovalEngine) notificationsEnabled(ctx context.Context) bool {
	if e.settings == nil {
		return true
	}
	settings, err := e.settings.Current(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Could not read settings, sending notification")
		return true
	}
	return settings.NotificationsEnabled
}

// checkEligibility decides whether approverID may vote on request. Callers with
// no relation to the request get ErrRequestNotFound so they cannot discover it.
func (e *ApprovalEngine) checkEligibility(ctx context.Context, request *models.ShareApprovalRequest, approverID uuid.UUID) error {
	isRequester := request.RequesterID == approverID
	if isRequester && !request.AllowSelfApproval {
		return ErrSelfApprovalNotAllowed
	}

	if request.HasExplicitApprovers() && request.IsListedApprover(approverID) {
		return nil
	}

	hasAuthority, err := e.hasApprovalAuthority(ctx, request.BucketID, approverID)
	if err != nil {
		return err
	}

	switch {
	case !request.HasExplicitApprovers() && hasAuthority:
		return nil
	case hasAuthority, isRequester:
		return ErrNotEligibleApprover
	default:
		return ErrRequestNotFound
	}
}

func (e *ApprovalEngine) canView(ctx context.Context, request *models.ShareApprovalRequest, viewerID uuid.UUID) (bool, error) {
	if request.RequesterID == viewerID || request.IsListedApprover(viewerID) {
		return true, nil
	}
	return e.hasApprovalAuthority(ctx, request.BucketID, viewerID)
}

func (e *ApprovalEngine) hasApprovalAuthority(ctx context.Context, bucketID, userID uuid.UUID) (bool, error) {
	if e.authority == nil {
		return false, nil
	}
	result, err := e.authority.CheckUser(ctx, userID, bucketID, ApprovalAuthorityLevel)
	if err != nil {
		if errors.Is(err, ErrBucketNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check approval authority: %w", err)
	}
	return result.Allowed, nil
}

// expireRequest moves request to expired and returns the history entry for it
func expireRequest(request *models.ShareApprovalRequest, now time.Time, note string) []models.ApprovalHistory {
	request.Status = models.StatusExpired
	request.ProcessedAt = &now
	return []models.ApprovalHistory{{
		Action: models.HistoryExpired,
		Note:   note,
		Metadata: historyMetadata(map[string]interface{}{
			"expiresAt": request.ExpiresAt.Format(time.RFC3339),
			"approvals": request.CurrentApprovals,
		}),
	}}
}

func validateShare(share OpenShareInput) error {
	switch {
	case share.ShareID == uuid.Nil:
		return validationError("shareId", "is required")
	case share.DocumentID == uuid.Nil:
		return validationError("documentId", "is required")
	case share.BucketID == uuid.Nil:
		return validationError("bucketId", "is required")
	case share.RequesterID == uuid.Nil:
		return validationError("requesterId", "is required")
	case share.FileSize < 0:
		return validationError("fileSize", "must not be negative")
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func historyMetadata(fields map[string]interface{}) datatypes.JSON {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
