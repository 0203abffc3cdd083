package persist

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/pkg/salesforce"
)

type mockNotion struct{ mock.Mock }

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if v := args.Get(0); v != nil {
		return v.(*notionapi.DatabaseQueryResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*notionapi.Page), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSalesforce struct{ mock.Mock }

func (m *mockSalesforce) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockSalesforce) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	args := m.Called(ctx, sObjectName, records)
	if v := args.Get(0); v != nil {
		return v.([]salesforce.CollectionResult), args.Error(1)
	}
	return nil, args.Error(1)
}
