package workflow

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/internal/model"
)

type mockQuery struct {
	mock.Mock
}

func (m *mockQuery) BuildURL(ctx context.Context, criteria model.SearchCriteria) (string, error) {
	args := m.Called(ctx, criteria)
	return args.String(0), args.Error(1)
}

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Start(ctx context.Context, searchURL string, limit int) (string, error) {
	args := m.Called(ctx, searchURL, limit)
	return args.String(0), args.Error(1)
}

func (m *mockScraper) Status(ctx context.Context, remoteJobID string) (model.ScrapeStatus, error) {
	args := m.Called(ctx, remoteJobID)
	return args.Get(0).(model.ScrapeStatus), args.Error(1)
}

func (m *mockScraper) Result(ctx context.Context, remoteJobID string) (model.ScrapeResult, error) {
	args := m.Called(ctx, remoteJobID)
	return args.Get(0).(model.ScrapeResult), args.Error(1)
}

func (m *mockScraper) Page(ctx context.Context, sessionID string, offset, limit int) (model.Page, error) {
	args := m.Called(ctx, sessionID, offset, limit)
	return args.Get(0).(model.Page), args.Error(1)
}

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	args := m.Called(ctx, contacts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Persist(ctx context.Context, leads []model.Contact) (model.PersistResult, error) {
	args := m.Called(ctx, leads)
	return args.Get(0).(model.PersistResult), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, leads []model.Contact, req model.DispatchRequest) (model.DispatchResult, error) {
	args := m.Called(ctx, leads, req)
	return args.Get(0).(model.DispatchResult), args.Error(1)
}
