package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"share-approval-service/internal/models"
)

// ActivePolicySource lists the policies the matcher may select from
type ActivePolicySource interface {
	ActivePolicies(ctx context.Context) ([]models.ApprovalPolicy, error)
}

// SubmitResult tells the share flow whether the share may go live now
type SubmitResult struct {
	MatchResult
	Request *models.ShareApprovalRequest `json:"request,omitempty"`
}

// ShareGate is the entry point used when a document share is created
type ShareGate struct {
	policies   ActivePolicySource
	settings   SettingsProvider
	categories CategoryAncestry
	engine     *ApprovalEngine
	logger     *logrus.Entry
}

// NewShareGate creates a new ShareGate
func NewShareGate(policies ActivePolicySource, settings SettingsProvider, categories CategoryAncestry, engine *ApprovalEngine, logger *logrus.Logger) *ShareGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &ShareGate{
		policies:   policies,
		settings:   settings,
		categories: categories,
		engine:     engine,
		logger:     logger.WithField("component", "share-gate"),
	}
}

// Evaluate reports which policy would govern a share, without opening anything
func (g *ShareGate) Evaluate(ctx context.Context, attrs ShareAttributes) (MatchResult, error) {
	settings, err := g.settings.Current(ctx)
	if err != nil {
		return MatchResult{}, err
	}
	return g.evaluate(ctx, settings, attrs)
}

// Submit evaluates a share and opens an approval request when one is required
func (g *ShareGate) Submit(ctx context.Context, share OpenShareInput) (*SubmitResult, error) {
	if err := validateShare(share); err != nil {
		return nil, err
	}

	settings, err := g.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	match, err := g.evaluate(ctx, settings, share.Attributes())
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{MatchResult: match}
	if !match.RequiresApproval {
		g.logger.WithFields(logrus.Fields{
			"shareID": share.ShareID,
			"policy":  match.Policy.Name,
		}).Info("Share does not require approval")
		return result, nil
	}

	request, err := g.engine.Open(ctx, share, match.Policy, settings)
	if err != nil {
		return nil, err
	}
	result.Request = request
	return result, nil
}

func (g *ShareGate) evaluate(ctx context.Context, settings models.ApprovalSettings, attrs ShareAttributes) (MatchResult, error) {
	policies, err := g.policies.ActivePolicies(ctx)
	if err != nil {
		return MatchResult{}, err
	}

	if attrs.CategoryID != nil && g.categories != nil {
		ancestors, err := g.categories.Ancestors(ctx, *attrs.CategoryID)
		switch {
		case err == nil:
			attrs.CategoryAncestors = ancestors
		case errors.Is(err, ErrCategoryNotFound):
			// Unknown categories simply have no ancestors
		default:
			return MatchResult{}, err
		}
	}

	return MatchPolicy(settings, policies, attrs), nil
}
