package main

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/chunk"
	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/dispatch"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/jobs"
	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/persist"
	"github.com/sells-group/prospector/internal/query"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/source"
	"github.com/sells-group/prospector/internal/workflow"
	anthropicpkg "github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/notion"
	"github.com/sells-group/prospector/pkg/salesforce"
	"github.com/sells-group/prospector/pkg/scraper"
)

// env holds the wired collaborators shared by serve and run.
type env struct {
	Store        *jobs.Store
	Orchestrator *workflow.Orchestrator
}

// Close cancels in-flight runs and waits for them to finish.
func (e *env) Close() {
	e.Orchestrator.Close()
}

// initEnv wires every collaborator from config.
func initEnv(c *config.Config) (*env, error) {
	policy := func(service string) resilience.Policy {
		return resilience.PolicyFromConfig(service, c.Retry.MaxRetries, c.Retry.NetworkBaseMs,
			c.Retry.ResetBaseMs, c.Retry.RateLimitBaseMs, c.Retry.ServerBaseMs)
	}

	scrapeOpts := []scraper.Option{
		scraper.WithBaseURL(c.Scraper.BaseURL),
		scraper.WithRateLimit(c.Scraper.RateLimit, max(int(c.Scraper.RateLimit), 1)),
		scraper.WithPolicy(policy("scraper")),
		scraper.WithCircuitBreaker(resilience.NewCircuitBreaker("scraper",
			resilience.FromCircuitConfig(c.Scraper.FailureThreshold, c.Scraper.ResetTimeoutSecs))),
	}

	rules, err := defaultRules(c.Exclusions.File)
	if err != nil {
		return nil, err
	}

	persister, err := initPersister(c, policy)
	if err != nil {
		return nil, err
	}

	deps := workflow.Deps{
		Store:     jobs.NewStore(minutes(c.Workflow.JobRetentionMins, jobs.DefaultRetention)),
		Query:     query.NewBuilder(c.Scraper.SearchURL),
		Scraper:   source.New(scraper.NewClient(c.Scraper.Key, scrapeOpts...)),
		Persister: persister,
	}
	if c.Anthropic.Key != "" {
		deps.Enricher = enrich.New(anthropicpkg.NewClient(c.Anthropic.Key),
			enrich.WithModel(c.Anthropic.Model),
			enrich.WithMaxTokens(int64(c.Anthropic.MaxTokens)),
			enrich.WithPolicy(policy("anthropic").For("enrich")),
		)
	}
	if c.Dispatch.WebhookURL != "" {
		deps.Dispatcher = dispatch.NewWebhook(c.Dispatch.WebhookURL,
			dispatch.WithFrom(c.Dispatch.From),
			dispatch.WithToken(c.Dispatch.Token),
			dispatch.WithRateLimit(c.Dispatch.RateLimit),
			dispatch.WithConcurrency(c.Dispatch.Concurrency),
			dispatch.WithPolicy(policy("dispatch").For("send")),
		)
	}

	orch, err := workflow.New(deps, workflowConfig(c.Workflow, rules))
	if err != nil {
		return nil, err
	}
	return &env{Store: deps.Store, Orchestrator: orch}, nil
}

// initPersister builds the lead store selected by persist.driver. The
// "none" driver returns nil; runs asking to save leads then record a
// degradation.
func initPersister(c *config.Config, policy func(string) resilience.Policy) (workflow.Persister, error) {
	switch c.Persist.Driver {
	case persist.DriverXLSX:
		return persist.NewXLSX(c.Persist.XLSXPath, c.Persist.Sheet), nil
	case persist.DriverNotion:
		nc := notion.NewClient(c.Notion.Token,
			notion.WithRateLimit(c.Notion.RateLimit),
			notion.WithPolicy(policy("notion")),
		)
		return persist.NewNotion(nc, c.Notion.LeadDB), nil
	case persist.DriverSalesforce:
		sf, err := salesforce.Dial(salesforce.Credentials{
			LoginURL: c.Salesforce.LoginURL,
			Username: c.Salesforce.Username,
			ClientID: c.Salesforce.ClientID,
			KeyPath:  c.Salesforce.KeyPath,
		},
			salesforce.WithRateLimit(c.Salesforce.RateLimit),
			salesforce.WithPolicy(policy("salesforce")),
		)
		if err != nil {
			return nil, eris.Wrap(err, "init salesforce")
		}
		return persist.NewSalesforce(sf), nil
	case persist.DriverNone, "":
		return nil, nil
	default:
		return nil, eris.Errorf("unknown persist driver %q", c.Persist.Driver)
	}
}

func defaultRules(path string) (chunk.Rules, error) {
	if path == "" {
		return chunk.Rules{}, nil
	}
	rules, err := chunk.LoadRules(path)
	if err != nil {
		return chunk.Rules{}, err
	}
	zap.L().Info("loaded default exclusions",
		zap.String("file", path),
		zap.Int("domains", len(rules.Domains)),
		zap.Int("industries", len(rules.Industries)),
	)
	return rules, nil
}

func workflowConfig(w config.WorkflowConfig, rules chunk.Rules) workflow.Config {
	return workflow.Config{
		ChunkSize:     w.ChunkSize,
		ChunkDelay:    time.Duration(w.ChunkDelayMs) * time.Millisecond,
		PollInterval:  time.Duration(w.PollIntervalSecs) * time.Second,
		PollMaxErrors: w.PollMaxErrors,
		PollTimeout:   minutes(w.PollTimeoutMins, time.Hour),
		MaxRecordsCap: w.MaxRecordsCap,
		PageSize:      w.PageSize,
		DefaultRules:  rules,
	}
}

func minutes(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Minute
}

func campaignLocks(c *config.Config) (*lock.CampaignLocks, error) {
	return lock.NewCampaignLocks(c.Lock.Dir, lock.WithStaleAfter(minutes(c.Lock.StaleMins, lock.DefaultStaleAfter)))
}
