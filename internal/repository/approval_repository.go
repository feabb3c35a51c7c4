package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"share-approval-service/internal/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict - record was modified by another request")
	ErrDuplicate       = errors.New("duplicate record")
)

// ApprovalRepositoryInterface is the persistence contract of the approval engine
type ApprovalRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error

	CreateRequest(ctx context.Context, request *models.ShareApprovalRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ShareApprovalRequest, error)
	UpdateRequestWithVersion(ctx context.Context, request *models.ShareApprovalRequest, expectedVersion int) error
	ListPendingRequests(ctx context.Context, filter PendingFilter, limit, offset int) ([]models.ShareApprovalRequest, int64, error)
	ListRequestsByRequester(ctx context.Context, requesterID uuid.UUID, status string, limit, offset int) ([]models.ShareApprovalRequest, int64, error)
	FindOverdueRequestIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	GetStats(ctx context.Context, since time.Time) (*RequestStats, error)

	FindDecision(ctx context.Context, requestID, approverID uuid.UUID) (*models.ApprovalDecision, error)
	CreateDecision(ctx context.Context, decision *models.ApprovalDecision) error
	ListDecisions(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalDecision, error)

	AppendHistory(ctx context.Context, entry *models.ApprovalHistory) error
	GetRequestHistory(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistory, error)
}

// PendingFilter narrows the approver queue
type PendingFilter struct {
	// ApproverID keeps requests with no explicit approver list or with this approver listed
	ApproverID *uuid.UUID
	BucketID   *uuid.UUID
}

// RequestStats is an aggregate view over share approval requests
type RequestStats struct {
	Pending        int64 `json:"pending"`
	Overdue        int64 `json:"overdue"`
	ApprovedToday  int64 `json:"approvedToday"`
	RejectedToday  int64 `json:"rejectedToday"`
	ExpiredToday   int64 `json:"expiredToday"`
	ProcessedToday int64 `json:"processedToday"`
	Total          int64 `json:"total"`
}

// ApprovalRepository handles database operations for share approvals
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// WithTransaction runs fn with a repository bound to a single database transaction
func (r *ApprovalRepository) WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ApprovalRepository{db: tx})
	})
}

// --- Request Methods ---

// CreateRequest creates a new approval request together with its approver list
func (r *ApprovalRepository) CreateRequest(ctx context.Context, request *models.ShareApprovalRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// GetRequestByID retrieves a request by ID
func (r *ApprovalRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ShareApprovalRequest, error) {
	var request models.ShareApprovalRequest
	err := r.db.WithContext(ctx).
		Preload("Approvers").
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// UpdateRequestWithVersion writes the mutable workflow columns of request if its
// stored version still equals expectedVersion, and stamps the next version.
func (r *ApprovalRepository) UpdateRequestWithVersion(ctx context.Context, request *models.ShareApprovalRequest, expectedVersion int) error {
	nextVersion := expectedVersion + 1

	result := r.db.WithContext(ctx).Model(&models.ShareApprovalRequest{}).
		Where("id = ? AND version = ?", request.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":            request.Status,
			"current_approvals": request.CurrentApprovals,
			"processed_at":      request.ProcessedAt,
			"version":           nextVersion,
			"updated_at":        time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	request.Version = nextVersion
	return nil
}

// ListPendingRequests retrieves the pending approver queue
func (r *ApprovalRepository) ListPendingRequests(ctx context.Context, filter PendingFilter, limit, offset int) ([]models.ShareApprovalRequest, int64, error) {
	var requests []models.ShareApprovalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ShareApprovalRequest{}).
		Where("status = ?", models.StatusPending)

	if filter.ApproverID != nil {
		query = query.Where(
			"(NOT EXISTS (SELECT 1 FROM share_approval_request_approvers a WHERE a.request_id = share_approval_requests.id)"+
				" OR EXISTS (SELECT 1 FROM share_approval_request_approvers a WHERE a.request_id = share_approval_requests.id AND a.approver_id = ?))",
			*filter.ApproverID)
	}

	if filter.BucketID != nil {
		query = query.Where("bucket_id = ?", *filter.BucketID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Approvers").
		Order("priority ASC").
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error

	return requests, total, err
}

// ListRequestsByRequester retrieves requests submitted by a specific identity
func (r *ApprovalRepository) ListRequestsByRequester(ctx context.Context, requesterID uuid.UUID, status string, limit, offset int) ([]models.ShareApprovalRequest, int64, error) {
	var requests []models.ShareApprovalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ShareApprovalRequest{}).
		Where("requester_id = ?", requesterID)

	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Approvers").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&requests).Error

	return requests, total, err
}

// FindOverdueRequestIDs returns up to limit pending requests whose deadline is at or before now
func (r *ApprovalRepository) FindOverdueRequestIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.ShareApprovalRequest{}).
		Where("status = ? AND expires_at <= ?", models.StatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// GetStats computes aggregate counts; "today" means processed at or after since
func (r *ApprovalRepository) GetStats(ctx context.Context, since time.Time) (*RequestStats, error) {
	stats := &RequestStats{}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.ShareApprovalRequest{})
	}

	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ?", models.StatusPending).Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	if err := base().Where("status = ? AND expires_at <= ?", models.StatusPending, time.Now().UTC()).Count(&stats.Overdue).Error; err != nil {
		return nil, err
	}

	counts := map[string]*int64{
		models.StatusApproved: &stats.ApprovedToday,
		models.StatusRejected: &stats.RejectedToday,
		models.StatusExpired:  &stats.ExpiredToday,
	}
	for status, target := range counts {
		if err := base().Where("status = ? AND processed_at >= ?", status, since).Count(target).Error; err != nil {
			return nil, err
		}
	}
	stats.ProcessedToday = stats.ApprovedToday + stats.RejectedToday + stats.ExpiredToday

	return stats, nil
}

// --- Decision Methods ---

// FindDecision returns the approver's existing decision on a request, or ErrNotFound
func (r *ApprovalRepository) FindDecision(ctx context.Context, requestID, approverID uuid.UUID) (*models.ApprovalDecision, error) {
	var decision models.ApprovalDecision
	err := r.db.WithContext(ctx).
		Where("request_id = ? AND approver_id = ?", requestID, approverID).
		First(&decision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &decision, nil
}

// CreateDecision inserts a decision; a unique-index violation is reported as ErrDuplicate
func (r *ApprovalRepository) CreateDecision(ctx context.Context, decision *models.ApprovalDecision) error {
	if err := r.db.WithContext(ctx).Create(decision).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListDecisions lists the decisions recorded for a request in order
func (r *ApprovalRepository) ListDecisions(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalDecision, error) {
	var decisions []models.ApprovalDecision
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("decided_at ASC").
		Find(&decisions).Error
	return decisions, err
}

// --- History Methods ---

// AppendHistory appends an entry with the next per-request sequence number
func (r *ApprovalRepository) AppendHistory(ctx context.Context, entry *models.ApprovalHistory) error {
	var last int
	err := r.db.WithContext(ctx).Model(&models.ApprovalHistory{}).
		Select("COALESCE(MAX(sequence), 0)").
		Where("request_id = ?", entry.RequestID).
		Scan(&last).Error
	if err != nil {
		return err
	}

	entry.Sequence = last + 1
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

// GetRequestHistory retrieves the audit history for a request
func (r *ApprovalRepository) GetRequestHistory(ctx context.Context, requestID uuid.UUID) ([]models.ApprovalHistory, error) {
	var entries []models.ApprovalHistory
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

// IsUniqueViolation recognizes unique-constraint errors from postgres and sqlite,
// whether or not gorm error translation is enabled
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "sqlstate 23505")
}
