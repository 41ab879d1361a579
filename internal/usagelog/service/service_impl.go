package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agentforge/tokengate/internal/clock"
	usagelogdomain "github.com/agentforge/tokengate/internal/usagelog/domain"
	"github.com/agentforge/tokengate/pkg/db/option"
	"github.com/agentforge/tokengate/pkg/db/pagination"
	"github.com/agentforge/tokengate/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxPayloadBytes is the serialized-size ceiling above which an output
// payload is replaced by a truncation marker instead of failing the insert.
const MaxPayloadBytes = 1_000_000

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[usagelogdomain.UsageLogEntry]
}

func NewService(p Params) usagelogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usagelog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[usagelogdomain.UsageLogEntry](p.DB),
	}
}

func (s *Service) Append(ctx context.Context, req usagelogdomain.AppendRequest) (*usagelogdomain.UsageLogEntry, error) {
	if req.UserID == 0 {
		return nil, usagelogdomain.ErrInvalidUser
	}
	operationCode := strings.TrimSpace(req.OperationCode)
	if operationCode == "" {
		return nil, usagelogdomain.ErrInvalidOperation
	}
	switch req.Status {
	case usagelogdomain.EntryStatusSuccess, usagelogdomain.EntryStatusError:
	default:
		return nil, usagelogdomain.ErrInvalidStatus
	}

	requestPayload, err := sanitizeMap(req.RequestPayload)
	if err != nil {
		return nil, err
	}
	outputPayload := sanitizeRaw(req.OutputPayload)

	entry := &usagelogdomain.UsageLogEntry{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		OperationCode:  operationCode,
		Status:         req.Status,
		TokensCharged:  req.TokensCharged,
		CampaignID:     req.CampaignID,
		RequestPayload: requestPayload,
		OutputSummary:  strings.TrimSpace(req.OutputSummary),
		OutputPayload:  outputPayload,
		ErrorDetail:    normalizeDetail(req.ErrorDetail),
		CreatedAt:      s.clock.Now(),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req usagelogdomain.ListRequest) (*usagelogdomain.ListResponse, error) {
	if req.UserID == 0 {
		return nil, usagelogdomain.ErrInvalidUser
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 250 {
		limit = 250
	}

	opts := []option.QueryOption{
		option.WithOrder("id DESC"),
		option.WithLimit(limit + 1),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCondition("id < ?", lastID))
	}

	rows, err := s.repo.Find(ctx, &usagelogdomain.UsageLogEntry{UserID: req.UserID}, opts...)
	if err != nil {
		return nil, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(e *usagelogdomain.UsageLogEntry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})

	return &usagelogdomain.ListResponse{
		PageInfo: *pageInfo,
		Entries:  rows,
	}, nil
}

func (s *Service) AttachCampaign(ctx context.Context, userID, entryID, campaignID snowflake.ID) error {
	result := s.db.WithContext(ctx).
		Model(&usagelogdomain.UsageLogEntry{}).
		Where("id = ? AND user_id = ?", entryID, userID).
		Updates(map[string]any{"campaign_id": campaignID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return usagelogdomain.ErrEntryNotFound
	}
	return nil
}

type truncationMarker struct {
	Truncated         bool  `json:"truncated"`
	OriginalSizeBytes int   `json:"original_size_bytes"`
	Limit             int64 `json:"limit_bytes"`
}

func sanitizeMap(payload map[string]any) (datatypes.JSON, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return sanitizeRaw(raw), nil
}

// sanitizeRaw enforces the payload-size ceiling. Oversized payloads are
// replaced with a marker recording the original size rather than rejected.
func sanitizeRaw(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) <= MaxPayloadBytes {
		return datatypes.JSON(raw)
	}
	marker, err := json.Marshal(truncationMarker{
		Truncated:         true,
		OriginalSizeBytes: len(raw),
		Limit:             MaxPayloadBytes,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(marker)
}

func normalizeDetail(detail string) *string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return nil
	}
	return &detail
}
