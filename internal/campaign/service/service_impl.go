package service

import (
	"context"
	"strings"

	campaigndomain "github.com/agentforge/tokengate/internal/campaign/domain"
	"github.com/agentforge/tokengate/internal/clock"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	"github.com/agentforge/tokengate/pkg/db/option"
	"github.com/agentforge/tokengate/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	UsageLog usagelogdomain.Service
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	usageLog usagelogdomain.Service
	repo     repository.Repository[campaigndomain.Campaign]
}

func NewService(p Params) campaigndomain.Service {
	return &Service{
		log:      p.Log.Named("campaign.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		usageLog: p.UsageLog,
		repo:     repository.ProvideStore[campaigndomain.Campaign](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req campaigndomain.CreateRequest) (*campaigndomain.Campaign, error) {
	if req.UserID == 0 {
		return nil, campaigndomain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, campaigndomain.ErrInvalidName
	}

	now := s.clock.Now()
	campaign := &campaigndomain.Campaign{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]*campaigndomain.Campaign, error) {
	if userID == 0 {
		return nil, campaigndomain.ErrInvalidUser
	}
	return s.repo.Find(ctx, &campaigndomain.Campaign{UserID: userID}, option.WithOrder("created_at DESC"))
}

// Attach links a usage-log entry to a campaign after verifying the
// campaign belongs to the caller.
func (s *Service) Attach(ctx context.Context, req campaigndomain.AttachRequest) error {
	if req.UserID == 0 {
		return campaigndomain.ErrInvalidUser
	}

	campaign, err := s.repo.FindOne(ctx, &campaigndomain.Campaign{ID: req.CampaignID, UserID: req.UserID})
	if err != nil {
		return err
	}
	if campaign == nil {
		return campaigndomain.ErrCampaignNotFound
	}

	if err := s.usageLog.AttachCampaign(ctx, req.UserID, req.LogEntryID, req.CampaignID); err != nil {
		return err
	}

	s.log.Info("log entry attached to campaign",
		zap.String("campaign_id", req.CampaignID.String()),
		zap.String("log_entry_id", req.LogEntryID.String()),
	)
	return nil
}
