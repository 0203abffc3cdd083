// Package notion wraps the Notion API for the lead database: paged queries
// and page creation, throttled to Notion's request rate.
package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/resilience"
)

// Client defines the Notion API operations used by this application.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithPolicy overrides the retry policy. Each attempt waits on the rate
// limiter.
func WithPolicy(p resilience.Policy) ClientOption {
	return func(c *notionClient) { c.policy = p }
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewClient creates a new Notion client with the given integration token.
// By default, API calls are throttled to 3 req/s.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
		policy:  resilience.DefaultPolicy("notion", ""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return resilience.Execute(ctx, c.policy.For("query"), func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
		resp, err := c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("notion: query database %s", dbID))
		}
		return resp, nil
	})
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return resilience.Execute(ctx, c.policy.For("create_page"), func(ctx context.Context) (*notionapi.Page, error) {
		if err := c.wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
		page, err := c.inner.Page.Create(ctx, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: create page")
		}
		return page, nil
	})
}
