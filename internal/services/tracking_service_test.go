package services

import (
	"context"
	"errors"
	"testing"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDeliveryLogRepository struct {
	mock.Mock
}

func (m *MockDeliveryLogRepository) GetByTrackingID(ctx context.Context, trackingID string) (*model.DeliveryLog, error) {
	args := m.Called(ctx, trackingID)
	if r := args.Get(0); r != nil {
		return r.(*model.DeliveryLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDeliveryLogRepository) MarkOpened(ctx context.Context, trackingID string) (bool, error) {
	args := m.Called(ctx, trackingID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeliveryLogRepository) AppendClick(ctx context.Context, trackingID string, click model.ClickEvent) error {
	args := m.Called(ctx, trackingID, click)
	return args.Error(0)
}

func (m *MockDeliveryLogRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.DeliveryLog, int64, error) {
	args := m.Called(ctx, campaignID, limit, offset)
	if r := args.Get(0); r != nil {
		return r.([]*model.DeliveryLog), args.Get(1).(int64), args.Error(2)
	}
	return nil, 0, args.Error(2)
}

type MockCampaignCounterRepository struct {
	mock.Mock
}

func (m *MockCampaignCounterRepository) IncrementOpened(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCampaignCounterRepository) IncrementClicked(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func trackedLog() *model.DeliveryLog {
	return &model.DeliveryLog{
		ID:         1,
		CampaignID: 42,
		TrackingID: "tid-1",
		TrackedLinks: []model.TrackedLink{
			{ID: "link-1", URL: "https://shop.example.com/sale"},
		},
	}
}

func TestTrackingService_RecordOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("first open bumps the campaign counter", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		counters := new(MockCampaignCounterRepository)
		svc := NewTrackingService(logs, counters)

		logs.On("MarkOpened", ctx, "tid-1").Return(true, nil)
		logs.On("GetByTrackingID", ctx, "tid-1").Return(trackedLog(), nil)
		counters.On("IncrementOpened", ctx, int64(42)).Return(nil)

		require.NoError(t, svc.RecordOpen(ctx, "tid-1"))
		counters.AssertExpectations(t)
	})

	t.Run("repeated open does not bump the counter", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		counters := new(MockCampaignCounterRepository)
		svc := NewTrackingService(logs, counters)

		logs.On("MarkOpened", ctx, "tid-1").Return(false, nil)

		require.NoError(t, svc.RecordOpen(ctx, "tid-1"))
		counters.AssertNotCalled(t, "IncrementOpened", mock.Anything, mock.Anything)
	})

	t.Run("unknown tracking id", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		svc := NewTrackingService(logs, new(MockCampaignCounterRepository))

		logs.On("MarkOpened", ctx, "missing").Return(false, repository.ErrLogNotFound)

		err := svc.RecordOpen(ctx, "missing")
		assert.ErrorIs(t, err, ErrTrackingNotFound)
	})

	t.Run("counter failure is tolerated", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		counters := new(MockCampaignCounterRepository)
		svc := NewTrackingService(logs, counters)

		logs.On("MarkOpened", ctx, "tid-1").Return(true, nil)
		logs.On("GetByTrackingID", ctx, "tid-1").Return(trackedLog(), nil)
		counters.On("IncrementOpened", ctx, int64(42)).Return(errors.New("connection refused"))

		assert.NoError(t, svc.RecordOpen(ctx, "tid-1"))
	})
}

func TestTrackingService_RecordClick(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored URL and records the click", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		counters := new(MockCampaignCounterRepository)
		svc := NewTrackingService(logs, counters)

		logs.On("GetByTrackingID", ctx, "tid-1").Return(trackedLog(), nil)
		logs.On("AppendClick", ctx, "tid-1", mock.MatchedBy(func(c model.ClickEvent) bool {
			return c.LinkID == "link-1" && c.URL == "https://shop.example.com/sale"
		})).Return(nil)
		counters.On("IncrementClicked", ctx, int64(42)).Return(nil)

		url, err := svc.RecordClick(ctx, "tid-1", "link-1")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com/sale", url)

		logs.AssertExpectations(t)
		counters.AssertExpectations(t)
	})

	t.Run("unknown link id never yields a redirect target", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		svc := NewTrackingService(logs, new(MockCampaignCounterRepository))

		logs.On("GetByTrackingID", ctx, "tid-1").Return(trackedLog(), nil)

		url, err := svc.RecordClick(ctx, "tid-1", "forged-link")
		assert.ErrorIs(t, err, ErrTrackingNotFound)
		assert.Empty(t, url)
	})

	t.Run("unknown tracking id", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		svc := NewTrackingService(logs, new(MockCampaignCounterRepository))

		logs.On("GetByTrackingID", ctx, "missing").Return(nil, repository.ErrLogNotFound)

		_, err := svc.RecordClick(ctx, "missing", "link-1")
		assert.ErrorIs(t, err, ErrTrackingNotFound)
	})

	t.Run("click is returned even when bookkeeping fails", func(t *testing.T) {
		logs := new(MockDeliveryLogRepository)
		counters := new(MockCampaignCounterRepository)
		svc := NewTrackingService(logs, counters)

		logs.On("GetByTrackingID", ctx, "tid-1").Return(trackedLog(), nil)
		logs.On("AppendClick", ctx, "tid-1", mock.Anything).Return(errors.New("connection refused"))
		counters.On("IncrementClicked", ctx, int64(42)).Return(errors.New("connection refused"))

		url, err := svc.RecordClick(ctx, "tid-1", "link-1")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example.com/sale", url)
	})
}

func TestTemplateService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty name", func(t *testing.T) {
		svc := NewTemplateService(new(mockTemplateStore))
		_, err := svc.Create(ctx, &model.Template{HTMLContent: "<p>hi</p>"})
		assert.ErrorIs(t, err, ErrEmptyTemplateName)
	})

	t.Run("rejects unparsable html", func(t *testing.T) {
		svc := NewTemplateService(new(mockTemplateStore))
		_, err := svc.Create(ctx, &model.Template{Name: "broken", HTMLContent: "{{.name"})
		assert.ErrorIs(t, err, ErrInvalidTemplate)
	})

	t.Run("persists a valid template", func(t *testing.T) {
		store := new(mockTemplateStore)
		svc := NewTemplateService(store)

		in := &model.Template{Name: "welcome", HTMLContent: "<h1>Hello {{.name}}</h1>"}
		store.On("Create", ctx, in).Return(&model.Template{ID: 1, Name: "welcome"}, nil)

		created, err := svc.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.ID)
	})
}

type mockTemplateStore struct {
	mock.Mock
}

func (m *mockTemplateStore) Create(ctx context.Context, t *model.Template) (*model.Template, error) {
	args := m.Called(ctx, t)
	if r := args.Get(0); r != nil {
		return r.(*model.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTemplateStore) Get(ctx context.Context, id int64) (*model.Template, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*model.Template), args.Error(1)
	}
	return nil, args.Error(1)
}
