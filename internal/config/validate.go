package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// Validate checks the keys required by a command. mode is "serve" or "run".
// All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	req := func(v, key string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		req(c.Lock.Dir, "lock.dir")
		req(c.Singleton.Dir, "singleton.dir")
	case "run":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	req(c.Scraper.BaseURL, "scraper.base_url")
	req(c.Scraper.Key, "scraper.key")

	w := c.Workflow
	if w.ChunkSize < 1 || w.ChunkSize > model.MaxChunkSize {
		errs = append(errs, fmt.Sprintf("workflow.chunk_size must be between 1 and %d", model.MaxChunkSize))
	}
	if w.ChunkDelayMs < 0 {
		errs = append(errs, "workflow.chunk_delay_ms must be >= 0")
	}
	if w.PollIntervalSecs <= 0 {
		errs = append(errs, "workflow.poll_interval_secs must be > 0")
	}
	if w.MaxRecordsCap <= 0 {
		errs = append(errs, "workflow.max_records_cap must be > 0")
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry.max_retries must be >= 0")
	}

	switch strings.ToLower(c.Persist.Driver) {
	case "xlsx":
		req(c.Persist.XLSXPath, "persist.xlsx_path")
	case "notion":
		req(c.Notion.Token, "notion.token")
		req(c.Notion.LeadDB, "notion.lead_db")
	case "salesforce":
		req(c.Salesforce.ClientID, "salesforce.client_id")
		req(c.Salesforce.Username, "salesforce.username")
		req(c.Salesforce.KeyPath, "salesforce.key_path")
	case "none", "":
	default:
		errs = append(errs, fmt.Sprintf("persist.driver %q must be one of xlsx, notion, salesforce, none", c.Persist.Driver))
	}

	if c.Dispatch.Concurrency < 0 {
		errs = append(errs, "dispatch.concurrency must be >= 0")
	}

	if m := c.Monitoring; m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
