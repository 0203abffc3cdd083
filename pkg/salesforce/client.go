// Package salesforce provides JWT-authenticated REST API access to Salesforce
// for reading and creating Lead records.
package salesforce

import (
	"context"
	"fmt"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/resilience"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// Client defines the Salesforce API operations used for lead persistence.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
}

// CollectionResult is the outcome of a single record in a collection operation.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// Credentials configure JWT bearer authentication.
type Credentials struct {
	LoginURL string
	Username string
	ClientID string
	KeyPath  string // PEM-encoded RSA private key
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for SF API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithPolicy overrides the retry policy. Inserts are retried too, so a
// retried batch may land twice.
func WithPolicy(p resilience.Policy) ClientOption {
	return func(c *sfClient) { c.policy = p }
}

// sfClient wraps the go-salesforce/v3 Salesforce struct.
//
// The underlying library does not accept context.Context; ctx only bounds
// the rate limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewClient creates a new Salesforce Client wrapping the given go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf, policy: resilience.DefaultPolicy("salesforce", "")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial authenticates with the JWT bearer flow and returns a Client.
func Dial(creds Credentials, opts ...ClientOption) (Client, error) {
	if creds.ClientID == "" || creds.Username == "" {
		return nil, eris.New("sf: client id and username are required")
	}
	pem, err := os.ReadFile(creds.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "sf: read JWT private key")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: string(pem),
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: init")
	}
	return NewClient(sf, opts...), nil
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	return resilience.ExecuteErr(ctx, c.policy.For("query"), func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
		if err := c.sf.Query(soql, out); err != nil {
			return eris.Wrap(err, "sf: query")
		}
		return nil
	})
}

func (c *sfClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	var results []CollectionResult
	err := resilience.ExecuteErr(ctx, c.policy.For("insert"), func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return eris.Wrap(err, "sf: rate limit")
		}
		sfResults, err := c.sf.InsertCollection(sObjectName, records, maxBatchSize)
		if err != nil {
			return eris.Wrap(err, fmt.Sprintf("sf: insert collection %s", sObjectName))
		}
		results = make([]CollectionResult, len(sfResults.Results))
		for i, r := range sfResults.Results {
			var errs []string
			for _, e := range r.Errors {
				errs = append(errs, e.Message)
			}
			results[i] = CollectionResult{ID: r.Id, Success: r.Success, Errors: errs}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
