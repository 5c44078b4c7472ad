package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/dispatch"
	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
)

var (
	ErrNotFound         = errors.New("campaign not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrNotLaunchable    = fmt.Errorf("campaign cannot be launched in its current status")
)

type CampaignRepository interface {
	Create(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	Get(ctx context.Context, id int64) (*model.Campaign, error)
	List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) // results, totalCount
	MarkQueued(ctx context.Context, id int64, scheduledAt *time.Time) (bool, error)
}

type TemplateRepository interface {
	Get(ctx context.Context, id int64) (*model.Template, error)
}

// CampaignService is the authoring surface: create campaigns, launch
// them now or put them on the schedule. Actual processing happens in
// the dispatcher once the sweeper promotes the campaign into the queue.
type CampaignService struct {
	campaignRepo CampaignRepository
	templateRepo TemplateRepository
	scheduler    redis.RedisAdapter
}

func NewCampaignService(campaignRepo CampaignRepository, templateRepo TemplateRepository, scheduler redis.RedisAdapter) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		templateRepo: templateRepo,
		scheduler:    scheduler,
	}
}

// Create validates and persists a new campaign as a draft. A request
// carrying scheduled_at is queued onto the schedule in the same call.
func (s *CampaignService) Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// Fail fast on a dangling template reference instead of letting the
	// dispatcher discover it at send time.
	if _, err := s.templateRepo.Get(ctx, p.TemplateID); err != nil {
		if errors.Is(err, repository.ErrTemplateNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("check template: %w", err)
	}

	operator := p.Operator
	if operator == "" {
		operator = model.OperatorAnd
	}

	c := &model.Campaign{
		Name:            p.Name,
		Subject:         p.Subject,
		TemplateID:      p.TemplateID,
		SegmentIDs:      p.SegmentIDs,
		CustomFilters:   p.CustomFilters,
		Operator:        operator,
		CustomVariables: p.CustomVariables,
		Status:          model.CampaignStatusDraft,
	}

	created, err := s.campaignRepo.Create(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	if p.ScheduledAt != nil {
		if err := s.Schedule(ctx, created.ID, *p.ScheduledAt); err != nil {
			return nil, err
		}
		created.Status = model.CampaignStatusQueued
		created.ScheduledAt = p.ScheduledAt
	}

	return created, nil
}

// Launch queues the campaign for immediate processing. Only draft and
// queued campaigns can be launched; anything further along is either in
// flight or finished.
func (s *CampaignService) Launch(ctx context.Context, id int64) error {
	applied, err := s.campaignRepo.MarkQueued(ctx, id, nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("queue campaign: %w", err)
	}
	if !applied {
		if _, err := s.campaignRepo.Get(ctx, id); err != nil {
			return ErrNotFound
		}
		return ErrNotLaunchable
	}

	if err := s.scheduler.RPush(dispatch.PendingListKey, memberFor(id)); err != nil {
		return fmt.Errorf("push campaign to pending queue: %w", err)
	}
	return nil
}

// Schedule queues the campaign to fire at the given time. A time in the
// past simply makes it due on the next sweep.
func (s *CampaignService) Schedule(ctx context.Context, id int64, at time.Time) error {
	applied, err := s.campaignRepo.MarkQueued(ctx, id, &at)
	if err != nil {
		return fmt.Errorf("queue campaign: %w", err)
	}
	if !applied {
		if _, err := s.campaignRepo.Get(ctx, id); err != nil {
			return ErrNotFound
		}
		return ErrNotLaunchable
	}

	if err := s.scheduler.ZAdd(dispatch.ScheduledSetKey, float64(at.UnixMilli()), memberFor(id)); err != nil {
		return fmt.Errorf("add campaign to schedule: %w", err)
	}
	return nil
}

func (s *CampaignService) Get(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.campaignRepo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *CampaignService) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	return s.campaignRepo.List(ctx, f)
}

func memberFor(id int64) string {
	return strconv.FormatInt(id, 10)
}
