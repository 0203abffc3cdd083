package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/internal/resilience"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClientReturnsClient(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10))
	assert.NotNil(t, c)
}

func TestRateLimitCancelled(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0.001)).(*notionClient)
	// Drain the single burst token.
	assert.NoError(t, c.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notion: rate limit")
}

func TestWithPolicy(t *testing.T) {
	c := NewClient("test-token").(*notionClient)
	assert.Equal(t, "notion", c.policy.Service)

	p := resilience.DefaultPolicy("notion", "")
	p.MaxRetries = 0
	c = NewClient("test-token", WithPolicy(p)).(*notionClient)
	assert.Equal(t, 0, c.policy.MaxRetries)
}
