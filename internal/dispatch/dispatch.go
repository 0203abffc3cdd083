// Package dispatch sends outreach for a run's leads through an
// email-sending webhook, one request per lead.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

// DefaultConcurrency bounds in-flight webhook requests.
const DefaultConcurrency = 4

// Message is the webhook request body for one lead.
type Message struct {
	To              string        `json:"to"`
	From            string        `json:"from,omitempty"`
	Subject         string        `json:"subject"`
	Template        string        `json:"template,omitempty"`
	UseAIGeneration bool          `json:"useAiGeneration"`
	SessionID       string        `json:"sessionId,omitempty"`
	CampaignType    string        `json:"campaignType,omitempty"`
	Lead            model.Contact `json:"lead"`
}

// Webhook implements workflow.Dispatcher by POSTing a Message per lead.
// Leads without an email are counted as failed without a request.
type Webhook struct {
	url         string
	from        string
	token       string
	http        *http.Client
	limiter     *rate.Limiter
	concurrency int
	policy      resilience.Policy
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithFrom sets the sender address passed to the webhook.
func WithFrom(from string) Option {
	return func(w *Webhook) { w.from = from }
}

// WithToken sends token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(w *Webhook) { w.token = token }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(w *Webhook) { w.http = hc }
}

// WithRateLimit throttles sends to rps.
func WithRateLimit(rps float64) Option {
	return func(w *Webhook) {
		if rps > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithConcurrency bounds in-flight requests.
func WithConcurrency(n int) Option {
	return func(w *Webhook) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPolicy overrides the per-request retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(w *Webhook) { w.policy = p }
}

// NewWebhook creates a Webhook dispatcher posting to url.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:         url,
		http:        &http.Client{Timeout: 30 * time.Second},
		concurrency: DefaultConcurrency,
		policy:      resilience.DefaultPolicy("dispatch", "send"),
	}
	for _, o := range opts {
		o(w)
	}
	if w.token != "" {
		w.policy.Secrets = append(w.policy.Secrets, w.token)
	}
	return w
}

// Dispatch implements workflow.Dispatcher. Individual send failures are
// counted, not returned; an error is returned only when ctx ends first.
func (w *Webhook) Dispatch(ctx context.Context, leads []model.Contact, req model.DispatchRequest) (model.DispatchResult, error) {
	var sent, failed atomic.Int64
	log := zap.L().With(zap.String("session_id", req.SessionID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, lead := range leads {
		if gctx.Err() != nil {
			break
		}
		if lead.Email == "" {
			failed.Add(1)
			continue
		}
		msg := Message{
			To:              lead.Email,
			From:            w.from,
			Subject:         req.Subject,
			Template:        req.Template,
			UseAIGeneration: req.UseAIGeneration,
			SessionID:       req.SessionID,
			CampaignType:    req.CampaignType,
			Lead:            lead,
		}
		g.Go(func() error {
			if err := w.send(gctx, msg); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				log.Warn("dispatch: send failed", zap.String("to", msg.To), zap.Error(err))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	err := g.Wait()

	res := model.DispatchResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return res, eris.Wrap(err, "dispatch: cancelled")
	}
	res.Success = res.Failed == 0
	log.Info("dispatch: complete", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

func (w *Webhook) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "dispatch: marshal message")
	}
	return resilience.ExecuteErr(ctx, w.policy, func(ctx context.Context) error {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "dispatch: rate limit")
			}
		}
		hr, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "dispatch: create request")
		}
		hr.Header.Set("Content-Type", "application/json")
		if w.token != "" {
			hr.Header.Set("Authorization", "Bearer "+w.token)
		}
		resp, err := w.http.Do(hr)
		if err != nil {
			return eris.Wrap(err, "dispatch: post")
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resilience.NewStatusError(resp, data)
		}
		return nil
	})
}
