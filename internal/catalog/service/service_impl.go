package service

import (
	"fmt"
	"strings"

	catalogdomain "github.com/agentforge/tokengate/internal/catalog/domain"
	"go.uber.org/zap"
)

// DefaultOperations is the closed set of billable agent operations.
var DefaultOperations = []catalogdomain.Operation{
	{Code: "ad_generation", Title: "Ad Generation", BaseCost: 75, WebhookPath: "/webhook/ad-generation"},
	{Code: "lead_scraper", Title: "Lead Scraper", BaseCost: 50, WebhookPath: "/webhook/lead-scraper"},
	{Code: "content_calendar", Title: "Content Calendar", BaseCost: 60, WebhookPath: "/webhook/content-calendar"},
	{Code: "email_outreach", Title: "Email Outreach", BaseCost: 5, WebhookPath: "/webhook/email-outreach"},
	{Code: "social_post", Title: "Social Post Writer", BaseCost: 25, WebhookPath: "/webhook/social-post"},
	{Code: "blog_writer", Title: "Blog Writer", BaseCost: 80, WebhookPath: "/webhook/blog-writer"},
}

type Service struct {
	log        *zap.Logger
	operations map[string]catalogdomain.Operation
	ordered    []catalogdomain.Operation
}

// NewService validates the default catalog at startup and fails closed on
// duplicate codes, non-positive costs, or missing webhook paths.
func NewService(log *zap.Logger) (catalogdomain.Service, error) {
	return newService(log, DefaultOperations)
}

func newService(log *zap.Logger, operations []catalogdomain.Operation) (catalogdomain.Service, error) {
	if len(operations) == 0 {
		return nil, fmt.Errorf("%w: empty operation catalog", catalogdomain.ErrInvalidCatalog)
	}

	byCode := make(map[string]catalogdomain.Operation, len(operations))
	ordered := make([]catalogdomain.Operation, 0, len(operations))
	for _, op := range operations {
		code := strings.TrimSpace(op.Code)
		if code == "" {
			return nil, fmt.Errorf("%w: operation with empty code", catalogdomain.ErrInvalidCatalog)
		}
		if _, exists := byCode[code]; exists {
			return nil, fmt.Errorf("%w: duplicate operation %q", catalogdomain.ErrInvalidCatalog, code)
		}
		if op.BaseCost <= 0 {
			return nil, fmt.Errorf("%w: operation %q has non-positive cost", catalogdomain.ErrInvalidCatalog, code)
		}
		if strings.TrimSpace(op.WebhookPath) == "" {
			return nil, fmt.Errorf("%w: operation %q has no webhook path", catalogdomain.ErrInvalidCatalog, code)
		}
		op.Code = code
		byCode[code] = op
		ordered = append(ordered, op)
	}

	log.Named("catalog.service").Info("operation catalog loaded", zap.Int("operations", len(ordered)))

	return &Service{
		log:        log.Named("catalog.service"),
		operations: byCode,
		ordered:    ordered,
	}, nil
}

func (s *Service) Resolve(code string) (*catalogdomain.Operation, error) {
	op, ok := s.operations[strings.TrimSpace(code)]
	if !ok {
		return nil, catalogdomain.ErrUnknownOperation
	}
	return &op, nil
}

func (s *Service) List() []catalogdomain.Operation {
	out := make([]catalogdomain.Operation, len(s.ordered))
	copy(out, s.ordered)
	return out
}
