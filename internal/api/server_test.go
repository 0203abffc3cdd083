package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/jobs"
	"github.com/sells-group/prospector/internal/lock"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/workflow"
)

type stubQuery struct{}

func (stubQuery) BuildURL(_ context.Context, _ model.SearchCriteria) (string, error) {
	return "https://search.test/?q=x", nil
}

// stubScraper finishes every job with two leads. When gate is non-nil,
// Start blocks until it is closed.
type stubScraper struct {
	gate chan struct{}
}

func (s *stubScraper) Start(ctx context.Context, _ string, _ int) (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "remote-1", nil
}

func (s *stubScraper) Status(_ context.Context, _ string) (model.ScrapeStatus, error) {
	return model.ScrapeStatus{Status: model.RemoteStatusCompleted, IsComplete: true}, nil
}

func (s *stubScraper) Result(_ context.Context, _ string) (model.ScrapeResult, error) {
	return model.ScrapeResult{Count: 2, Leads: []model.Contact{
		{Name: "Ada", Email: "ada@engine.io"},
		{Name: "Linus", Email: "linus@kernel.org"},
	}}, nil
}

func (s *stubScraper) Page(_ context.Context, _ string, _, _ int) (model.Page, error) {
	return model.Page{}, nil
}

// queuedScraper blocks the nth Start on gates[n] and signals started as
// each call takes its gate.
type queuedScraper struct {
	stubScraper
	started chan struct{}

	mu    sync.Mutex
	gates []chan struct{}
}

func (s *queuedScraper) Start(ctx context.Context, _ string, _ int) (string, error) {
	s.mu.Lock()
	gate := s.gates[0]
	s.gates = s.gates[1:]
	s.mu.Unlock()
	s.started <- struct{}{}

	select {
	case <-gate:
		return "remote-1", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fixture struct {
	orch   *workflow.Orchestrator
	locks  *lock.CampaignLocks
	server *httptest.Server
	dir    string
}

func newFixture(t *testing.T, scraper workflow.Scraper, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	orch, err := workflow.New(workflow.Deps{
		Store:   jobs.NewStore(time.Hour),
		Query:   stubQuery{},
		Scraper: scraper,
	}, workflow.Config{PollInterval: time.Millisecond, ChunkDelay: 0})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	locks, err := lock.NewCampaignLocks(filepath.Join(dir, "locks"))
	require.NoError(t, err)

	srv := httptest.NewServer(New(orch, locks, opts...).Handler())
	t.Cleanup(srv.Close)
	return &fixture{orch: orch, locks: locks, server: srv, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rdr)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func validParams() model.Params {
	return model.Params{Criteria: model.SearchCriteria{Keywords: "fintech"}}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, body := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestWorkflow_StartStatusResult(t *testing.T) {
	f := newFixture(t, &stubScraper{})

	resp, body := f.do(t, http.MethodPost, "/api/workflows", validParams(), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["jobId"].(string)
	require.NotEmpty(t, id)

	f.orch.Wait()

	resp, body = f.do(t, http.MethodGet, "/api/workflows/"+id+"/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["isComplete"])

	resp, body = f.do(t, http.MethodGet, "/api/workflows/"+id+"/result", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/workflows", nil)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []model.JobStatusView
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestWorkflow_ValidationError(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, body := f.do(t, http.MethodPost, "/api/workflows", model.Params{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "search criterion")
}

func TestWorkflow_BadBody(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, err := http.Post(f.server.URL+"/api/workflows", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflow_UnknownJob(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, _ := f.do(t, http.MethodGet, "/api/workflows/nope/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/workflows/nope/result", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflow_ResultNotComplete(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &stubScraper{gate: gate})

	_, body := f.do(t, http.MethodPost, "/api/workflows", validParams(), nil)
	id := body["jobId"].(string)

	resp, _ := f.do(t, http.MethodGet, "/api/workflows/"+id+"/result", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(gate)
	f.orch.Wait()
	resp, _ = f.do(t, http.MethodGet, "/api/workflows/"+id+"/result", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCampaign_LockHeldWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &stubScraper{gate: gate})

	params := validParams()
	params.SessionID = "sess-1"
	params.CampaignType = "outreach"

	resp, body := f.do(t, http.MethodPost, "/api/workflows", params, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "sess-1", body["sessionId"])

	resp, body = f.do(t, http.MethodPost, "/api/workflows", params, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotNil(t, body["lock"])

	resp, body = f.do(t, http.MethodGet, "/api/campaigns/sess-1/lock", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["locked"])

	close(gate)
	f.orch.Wait()

	locked, err := f.locks.IsLocked("sess-1")
	require.NoError(t, err)
	assert.False(t, locked, "lock is released when the run finishes")
}

func TestCampaign_StoppedRunLeavesNewHolderLocked(t *testing.T) {
	first, second := make(chan struct{}), make(chan struct{})
	scraper := &queuedScraper{started: make(chan struct{}, 2), gates: []chan struct{}{first, second}}
	f := newFixture(t, scraper)

	params := validParams()
	params.SessionID = "sess-1"
	params.CampaignType = "outreach"

	resp, body := f.do(t, http.MethodPost, "/api/workflows", params, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	firstID, _ := body["jobId"].(string)
	require.NotEmpty(t, firstID)
	<-scraper.started

	resp, body = f.do(t, http.MethodPost, "/api/campaigns/sess-1/stop", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["released"])

	resp, _ = f.do(t, http.MethodPost, "/api/workflows", params, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-scraper.started

	close(first)
	require.Eventually(t, func() bool {
		view, err := f.orch.Status(firstID)
		return err == nil && view.IsComplete
	}, 2*time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool {
		locked, err := f.locks.IsLocked("sess-1")
		return err != nil || !locked
	}, 100*time.Millisecond, 5*time.Millisecond, "the first run must not release the second run's lock")

	close(second)
	f.orch.Wait()

	locked, err := f.locks.IsLocked("sess-1")
	require.NoError(t, err)
	assert.False(t, locked, "the second run releases its own lock")
}

func TestCampaign_ValidationReleasesLock(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	params := model.Params{SessionID: "sess-2", CampaignType: "outreach"}

	resp, _ := f.do(t, http.MethodPost, "/api/workflows", params, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	locked, err := f.locks.IsLocked("sess-2")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestCampaign_ListAndStop(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	ok, err := f.locks.Acquire("sess-3", "outreach")
	require.NoError(t, err)
	require.True(t, ok)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/campaigns/locks", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var recs []lock.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	resp.Body.Close()
	require.Len(t, recs, 1)
	assert.Equal(t, "sess-3", recs[0].SessionID)

	stopResp, body := f.do(t, http.MethodPost, "/api/campaigns/sess-3/stop", nil, nil)
	require.Equal(t, http.StatusOK, stopResp.StatusCode)
	assert.Equal(t, true, body["released"])
	assert.Equal(t, false, body["forced"])
}

func TestCampaign_ForceStopRequiresAdmin(t *testing.T) {
	f := newFixture(t, &stubScraper{}, WithAdminToken("secret"))

	// A lock held by another live process (pid 1 is always running).
	other, err := lock.NewCampaignLocks(f.locks.Dir(), lock.WithPID(1))
	require.NoError(t, err)
	ok, err := other.Acquire("sess-4", "outreach")
	require.NoError(t, err)
	require.True(t, ok)

	resp, body := f.do(t, http.MethodPost, "/api/campaigns/sess-4/stop", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["released"], "non-owner release is refused")

	resp, _ = f.do(t, http.MethodPost, "/api/campaigns/sess-4/stop?force=true", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/campaigns/sess-4/stop?force=true", nil, map[string]string{AdminHeader: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["released"])
}

func TestCampaign_CleanupAll(t *testing.T) {
	f := newFixture(t, &stubScraper{}, WithAdminToken("secret"))
	for _, s := range []string{"a", "b"} {
		ok, err := f.locks.Acquire(s, "outreach")
		require.NoError(t, err)
		require.True(t, ok)
	}

	resp, _ := f.do(t, http.MethodDelete, "/api/campaigns/locks", nil, map[string]string{AdminHeader: "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.do(t, http.MethodDelete, "/api/campaigns/locks", nil, map[string]string{AdminHeader: "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["removed"])
}

func TestCampaign_InvalidSession(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, _ := f.do(t, http.MethodGet, "/api/campaigns/..bad/lock", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInstance(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, _ := f.do(t, http.MethodGet, "/api/instance", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	single, err := lock.NewSingleton(f.dir, "test")
	require.NoError(t, err)
	require.NoError(t, single.CreateLock(9090))
	t.Cleanup(func() { _ = single.RemoveLock() })

	srv := httptest.NewServer(New(f.orch, f.locks, WithSingleton(single)).Handler())
	defer srv.Close()
	r, err := http.Get(srv.URL + "/api/instance")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	var info lock.InstanceRecord
	require.NoError(t, json.NewDecoder(r.Body).Decode(&info))
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, 9090, info.Port)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, &stubScraper{}, WithCORSOrigins([]string{"https://app.test"}))
	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/workflows", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	store := jobs.NewStore(time.Hour)
	orch, err := workflow.New(workflow.Deps{
		Store:   store,
		Query:   stubQuery{},
		Scraper: &stubScraper{},
	}, workflow.Config{PollInterval: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(orch.Close)
	locks, err := lock.NewCampaignLocks(filepath.Join(t.TempDir(), "locks"))
	require.NoError(t, err)

	srv := httptest.NewServer(New(orch, locks,
		WithMetrics(monitoring.NewCollector(store, locks), time.Hour),
	).Handler())
	t.Cleanup(srv.Close)
	f := &fixture{orch: orch, locks: locks, server: srv}

	_, err = orch.Start(validParams())
	require.NoError(t, err)
	orch.Wait()

	resp, body := f.do(t, http.MethodGet, "/api/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["jobs_total"])
	assert.Equal(t, float64(1), body["jobs_completed"])
	assert.Equal(t, float64(2), body["leads_produced"])
	assert.Equal(t, float64(60), body["lookback_mins"])
}

func TestMetrics_Disabled(t *testing.T) {
	f := newFixture(t, &stubScraper{})
	resp, _ := f.do(t, http.MethodGet, "/api/metrics", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
