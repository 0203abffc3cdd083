//go:build !integration

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/config"
)

// testConfig returns a runnable config rooted in a temp dir and installs it
// as the package-level cfg.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	c := &config.Config{}
	c.Server.Port = 8080
	c.Scraper.BaseURL = "http://127.0.0.1:1"
	c.Scraper.Key = "test-key"
	c.Scraper.RateLimit = 10
	c.Scraper.FailureThreshold = 5
	c.Scraper.ResetTimeoutSecs = 30
	c.Workflow.ChunkSize = 100
	c.Workflow.PollIntervalSecs = 1
	c.Workflow.MaxRecordsCap = 100
	c.Lock.Dir = filepath.Join(dir, "locks")
	c.Singleton.Dir = dir
	c.Singleton.Name = "prospector-test"
	c.Persist.Driver = "none"

	cfg = c
	t.Cleanup(func() { cfg = nil })
	return c
}

// execute runs cmd.RunE with captured stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetContext(nil) //nolint:staticcheck
	})
	err := cmd.RunE(cmd, args)
	return out.String(), err
}
