package services

import (
	"context"
	"errors"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
)

var ErrTrackingNotFound = errors.New("tracking id not found")

type DeliveryLogRepository interface {
	GetByTrackingID(ctx context.Context, trackingID string) (*model.DeliveryLog, error)
	MarkOpened(ctx context.Context, trackingID string) (bool, error)
	AppendClick(ctx context.Context, trackingID string, click model.ClickEvent) error
	ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.DeliveryLog, int64, error)
}

type CampaignCounterRepository interface {
	IncrementOpened(ctx context.Context, id int64) error
	IncrementClicked(ctx context.Context, id int64) error
}

// TrackingService records open and click events coming back from sent
// emails. Opens count once per delivery; every click is appended but the
// campaign counter also moves only on real events.
type TrackingService struct {
	logRepo      DeliveryLogRepository
	campaignRepo CampaignCounterRepository
}

func NewTrackingService(logRepo DeliveryLogRepository, campaignRepo CampaignCounterRepository) *TrackingService {
	return &TrackingService{
		logRepo:      logRepo,
		campaignRepo: campaignRepo,
	}
}

// RecordOpen marks the delivery opened. The first open per delivery
// bumps the campaign's opened counter; repeats are absorbed.
func (s *TrackingService) RecordOpen(ctx context.Context, trackingID string) error {
	firstOpen, err := s.logRepo.MarkOpened(ctx, trackingID)
	if err != nil {
		if errors.Is(err, repository.ErrLogNotFound) {
			return ErrTrackingNotFound
		}
		return err
	}
	if !firstOpen {
		return nil
	}

	entry, err := s.logRepo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	if err := s.campaignRepo.IncrementOpened(ctx, entry.CampaignID); err != nil {
		// The open itself is recorded; a lost counter bump is tolerable.
		logger.Warn("Failed to bump campaign opened counter", "campaign_id", entry.CampaignID, "error", err)
	}
	return nil
}

// RecordClick appends a click event and returns the original URL to
// redirect to. An unknown link id yields ErrTrackingNotFound so the
// handler never redirects to an attacker-chosen location.
func (s *TrackingService) RecordClick(ctx context.Context, trackingID, linkID string) (string, error) {
	entry, err := s.logRepo.GetByTrackingID(ctx, trackingID)
	if err != nil {
		if errors.Is(err, repository.ErrLogNotFound) {
			return "", ErrTrackingNotFound
		}
		return "", err
	}

	var target string
	for _, link := range entry.TrackedLinks {
		if link.ID == linkID {
			target = link.URL
			break
		}
	}
	if target == "" {
		return "", ErrTrackingNotFound
	}

	click := model.ClickEvent{
		LinkID:    linkID,
		URL:       target,
		ClickedAt: time.Now(),
	}
	if err := s.logRepo.AppendClick(ctx, trackingID, click); err != nil {
		logger.Warn("Failed to append click event", "tracking_id", trackingID, "error", err)
	}
	if err := s.campaignRepo.IncrementClicked(ctx, entry.CampaignID); err != nil {
		logger.Warn("Failed to bump campaign clicked counter", "campaign_id", entry.CampaignID, "error", err)
	}

	return target, nil
}

// ListDeliveries exposes a campaign's delivery logs for reporting.
func (s *TrackingService) ListDeliveries(ctx context.Context, campaignID int64, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	return s.logRepo.ListByCampaign(ctx, campaignID, limit, offset)
}
