package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/workflow"
)

var (
	runParamsFile  string
	runTitles      []string
	runLocations   []string
	runIndustries  []string
	runKeywords    string
	runSearchURL   string
	runMaxRecords  int
	runEnrich      bool
	runSave        bool
	runPollEvery   time.Duration
	runOutputFile  string
	runSessionID   string
	runCampaignTyp string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one workflow in-process and print its result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		params, err := runParams()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		var opts []workflow.StartOption
		release := func() {}
		if params.IsCampaign() {
			locks, err := campaignLocks(cfg)
			if err != nil {
				return err
			}
			held, err := locks.AcquireRecord(params.SessionID, params.CampaignType)
			if err != nil {
				return err
			}
			if held == nil {
				return eris.Errorf("campaign %s is already running", params.SessionID)
			}
			release = func() { _, _ = locks.ReleaseRecord(*held) }
			opts = append(opts, workflow.WithOnDone(func(model.JobRecord) { release() }))
		}

		id, err := e.Orchestrator.Start(params, opts...)
		if err != nil {
			release()
			return err
		}
		view, err := waitForJob(ctx, e.Orchestrator, id, runPollEvery, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if view.Status == model.JobStatusFailed {
			return eris.Errorf("workflow %s failed: %s", id, view.Error)
		}

		res, err := e.Orchestrator.Result(id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if runOutputFile != "" {
			f, err := os.Create(runOutputFile)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "write result")
		}

		zap.L().Info("workflow complete",
			zap.String("job_id", id),
			zap.Int("leads", res.Count),
			zap.Int("degradations", len(res.Metadata.Degradations)),
		)
		return nil
	},
}

// runParams reads params from --params (a JSON file, "-" for stdin) and
// lets individual flags override it.
func runParams() (model.Params, error) {
	var p model.Params
	if runParamsFile != "" {
		var data []byte
		var err error
		if runParamsFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(runParamsFile)
		}
		if err != nil {
			return p, eris.Wrap(err, "read params")
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return p, eris.Wrap(err, "parse params")
		}
	}
	if len(runTitles) > 0 {
		p.Criteria.JobTitles = runTitles
	}
	if len(runLocations) > 0 {
		p.Criteria.Locations = runLocations
	}
	if len(runIndustries) > 0 {
		p.Criteria.Industries = runIndustries
	}
	if runKeywords != "" {
		p.Criteria.Keywords = runKeywords
	}
	if runSearchURL != "" {
		p.Criteria.SearchURL = runSearchURL
	}
	if runMaxRecords > 0 {
		p.MaxRecords = runMaxRecords
	}
	if runEnrich {
		p.EnrichEnabled = true
	}
	if runSave {
		p.SaveLeads = true
	}
	if runSessionID != "" {
		p.SessionID = runSessionID
	}
	if runCampaignTyp != "" {
		p.CampaignType = runCampaignTyp
	}
	return p, p.Validate()
}

// statusSource is the part of the orchestrator waitForJob polls.
type statusSource interface {
	Status(id string) (model.JobStatusView, error)
}

// waitForJob polls the job until it is terminal, printing each progress
// change to w.
func waitForJob(ctx context.Context, src statusSource, id string, every time.Duration, w io.Writer) (model.JobStatusView, error) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := ""
	for {
		view, err := src.Status(id)
		if err != nil {
			return view, err
		}
		line := fmt.Sprintf("[%s] %s", view.Status, view.Progress.Message)
		if line != last {
			fmt.Fprintln(w, line) //nolint:errcheck
			last = line
		}
		if view.IsComplete {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, eris.Wrap(ctx.Err(), "wait for workflow")
		case <-ticker.C:
		}
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runParamsFile, "params", "", "JSON params file (- for stdin)")
	f.StringSliceVar(&runTitles, "title", nil, "job title to search for (repeatable)")
	f.StringSliceVar(&runLocations, "location", nil, "location to search in (repeatable)")
	f.StringSliceVar(&runIndustries, "industry", nil, "industry to search in (repeatable)")
	f.StringVar(&runKeywords, "keywords", "", "free-text keywords")
	f.StringVar(&runSearchURL, "search-url", "", "pre-built search URL")
	f.IntVar(&runMaxRecords, "max-records", 0, "maximum leads to scrape (0 = configured cap)")
	f.BoolVar(&runEnrich, "enrich", false, "enrich leads with AI notes")
	f.BoolVar(&runSave, "save", false, "save leads to the configured lead store")
	f.DurationVar(&runPollEvery, "poll", time.Second, "status print interval")
	f.StringVarP(&runOutputFile, "output", "o", "", "write the result JSON to a file instead of stdout")
	f.StringVar(&runSessionID, "session", "", "campaign session id (takes a campaign lock)")
	f.StringVar(&runCampaignTyp, "campaign-type", "", "campaign type recorded in the lock")
	rootCmd.AddCommand(runCmd)
}
