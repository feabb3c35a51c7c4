package events

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/events"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"share-approval-service/internal/models"
)

// Event vocabulary for share approvals on the approval.> subjects
const (
	ActionTypeDocumentShare   = "document.share"
	ResourceTypeDocumentShare = "document_share"
)

// approvalSender is the part of the go-shared publisher used here
type approvalSender interface {
	PublishApproval(ctx context.Context, event *events.ApprovalEvent) error
}

// Publisher maps share approval transitions to go-shared approval events.
// Publishing is asynchronous and never fails the calling operation.
type Publisher struct {
	sender       approvalSender
	closer       *events.Publisher
	tenantID     string
	shareBaseURL string
	logger       *logrus.Entry
	timeout      time.Duration
}

// NewPublisher creates a share approval events publisher from an existing
// go-shared publisher. A nil publisher yields a Publisher that only logs.
func NewPublisher(publisher *events.Publisher, tenantID, shareBaseURL string, logger *logrus.Logger) *Publisher {
	p := newPublisher(nil, tenantID, shareBaseURL, logger)
	if publisher != nil {
		p.sender = publisher
		p.closer = publisher
	}
	return p
}

func newPublisher(sender approvalSender, tenantID, shareBaseURL string, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Publisher{
		sender:       sender,
		tenantID:     tenantID,
		shareBaseURL: strings.TrimRight(shareBaseURL, "/"),
		logger:       logger.WithField("component", "approval-events"),
		timeout:      10 * time.Second,
	}
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer.Close()
	}
}

// RequestOpened publishes approval.requested
func (p *Publisher) RequestOpened(ctx context.Context, request *models.ShareApprovalRequest) {
	event := p.buildApprovalEvent(events.ApprovalRequested, request)
	event.Status = models.StatusPending
	event.RequestedAt = request.CreatedAt.Format(time.RFC3339)
	p.publish(event)
}

// RequestDecided publishes approval.granted or approval.rejected with the deciding vote
func (p *Publisher) RequestDecided(ctx context.Context, request *models.ShareApprovalRequest, decision *models.ApprovalDecision) {
	eventType := events.ApprovalGranted
	if request.Status == models.StatusRejected {
		eventType = events.ApprovalRejected
	}

	event := p.buildApprovalEvent(eventType, request)
	event.Status = request.Status
	event.PreviousStatus = models.StatusPending

	if decision != nil {
		event.Decision = decision.Decision
		event.ApproverID = decision.ApproverID.String()
		event.DecisionReason = decision.Comment
		event.DecisionAt = decision.DecidedAt.Format(time.RFC3339)
	}

	p.publish(event)
}

// RequestExpired publishes approval.expired
func (p *Publisher) RequestExpired(ctx context.Context, request *models.ShareApprovalRequest) {
	event := p.buildApprovalEvent(events.ApprovalExpired, request)
	event.Status = models.StatusExpired
	event.PreviousStatus = models.StatusPending
	p.publish(event)
}

// buildApprovalEvent creates an ApprovalEvent from a share approval request
func (p *Publisher) buildApprovalEvent(eventType string, request *models.ShareApprovalRequest) *events.ApprovalEvent {
	event := events.NewApprovalEvent(eventType, p.tenantID)
	event.SourceID = uuid.New().String()
	event.ApprovalRequestID = request.ID.String()
	event.WorkflowID = request.PolicyID.String()
	event.WorkflowName = request.PolicyName

	event.RequesterID = request.RequesterID.String()
	event.RequesterName = request.RequesterName

	event.ActionType = ActionTypeDocumentShare
	event.ResourceType = ResourceTypeDocumentShare
	event.ResourceID = request.ShareID.String()

	event.Priority = strconv.Itoa(request.Priority)
	event.ExpiresAt = request.ExpiresAt.Format(time.RFC3339)

	event.ActionData = map[string]interface{}{
		"shareId":           request.ShareID.String(),
		"documentId":        request.DocumentID.String(),
		"bucketId":          request.BucketID.String(),
		"fileName":          request.FileName,
		"fileSize":          request.FileSize,
		"shareUrl":          p.shareURL(request.ShareURL),
		"requiredApprovals": request.RequiredApprovals,
		"currentApprovals":  request.CurrentApprovals,
	}

	return event
}

// shareURL joins the configured base with a share URL fragment
func (p *Publisher) shareURL(fragment string) string {
	if fragment == "" || p.shareBaseURL == "" || strings.Contains(fragment, "://") {
		return fragment
	}
	return p.shareBaseURL + "/" + strings.TrimLeft(fragment, "/")
}

// publish logs and sends the event in the background
func (p *Publisher) publish(event *events.ApprovalEvent) {
	fields := logrus.Fields{
		"eventType":         event.EventType,
		"approvalRequestID": event.ApprovalRequestID,
		"tenantID":          event.TenantID,
	}

	if p.sender == nil {
		p.logger.WithFields(fields).Debug("Events publisher not configured, dropping approval event")
		return
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.sender.PublishApproval(pubCtx, event); err != nil {
			p.logger.WithFields(fields).WithError(err).Error("Failed to publish approval event")
			return
		}
		p.logger.WithFields(fields).Info("Approval event published successfully")
	}()
}
