// Package enrich adds short research notes to leads with one Anthropic
// message per chunk.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-haiku-4-5-20251001"
	// DefaultMaxTokens bounds one chunk's response.
	DefaultMaxTokens = 4096
)

const systemPrompt = `You research B2B sales leads. For every lead in the user's JSON array, write one or two sentences a sales rep can use to open a conversation: what the organization likely does, and why this person's role makes them relevant.

Respond with ONLY a JSON array, one object per lead, in this shape:
[{"index": 0, "notes": "..."}]

Use the "index" from the input. Do not invent contact details. If you know nothing useful about a lead, return an empty "notes" string.`

// Enricher implements chunk.Enricher using Anthropic.
type Enricher struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	policy    resilience.Policy
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithModel overrides the model.
func WithModel(m string) Option {
	return func(e *Enricher) {
		if m != "" {
			e.model = m
		}
	}
}

// WithMaxTokens overrides the output token bound.
func WithMaxTokens(n int64) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(e *Enricher) { e.policy = p }
}

// New creates an Enricher.
func New(client anthropic.Client, opts ...Option) *Enricher {
	e := &Enricher{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		policy:    resilience.DefaultPolicy("anthropic", "enrich"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type leadInput struct {
	Index        int    `json:"index"`
	Name         string `json:"name,omitempty"`
	Title        string `json:"title,omitempty"`
	Organization string `json:"organization,omitempty"`
	Website      string `json:"website,omitempty"`
	Industry     string `json:"industry,omitempty"`
	Size         string `json:"size,omitempty"`
	Location     string `json:"location,omitempty"`
}

type leadNotes struct {
	Index int    `json:"index"`
	Notes string `json:"notes"`
}

// Enrich returns copies of contacts with Enrichment filled in. The output
// has the same length and order as the input; leads the model skipped keep
// their existing notes.
func (e *Enricher) Enrich(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	if len(contacts) == 0 {
		return contacts, nil
	}

	inputs := make([]leadInput, len(contacts))
	for i, c := range contacts {
		inputs[i] = leadInput{
			Index:        i,
			Name:         c.Name,
			Title:        c.Title,
			Organization: c.Organization,
			Website:      c.Website,
			Industry:     c.Industry,
			Size:         c.Size,
			Location:     c.Location,
		}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: encode leads")
	}

	req := anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      systemPrompt,
		CacheSystem: true,
		Messages:    []anthropic.Message{{Role: "user", Content: string(payload)}},
	}
	resp, err := resilience.Execute(ctx, e.policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: create message")
	}
	zap.L().Debug("enrich: token usage", append(resp.Usage.Fields(),
		zap.String("model", e.model),
		zap.Int("leads", len(contacts)),
	)...)
	if resp.Truncated() {
		return nil, eris.Errorf("enrich: response for %d leads hit max_tokens %d", len(contacts), e.maxTokens)
	}

	notes, err := parseNotes(resp.Text())
	if err != nil {
		return nil, err
	}

	out := make([]model.Contact, len(contacts))
	copy(out, contacts)
	applied := 0
	for _, n := range notes {
		if n.Index < 0 || n.Index >= len(out) {
			continue
		}
		if text := strings.TrimSpace(n.Notes); text != "" {
			out[n.Index].Enrichment = text
			applied++
		}
	}
	zap.L().Debug("enrich: chunk enriched",
		zap.Int("leads", len(contacts)),
		zap.Int("applied", applied),
		zap.String("stop_reason", resp.StopReason),
	)
	return out, nil
}

// parseNotes extracts the JSON array from a model response, tolerating
// surrounding prose or code fences.
func parseNotes(text string) ([]leadNotes, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, eris.New(fmt.Sprintf("enrich: no JSON array in response (%d bytes)", len(text)))
	}
	var notes []leadNotes
	if err := json.Unmarshal([]byte(text[start:end+1]), &notes); err != nil {
		return nil, eris.Wrap(err, "enrich: decode notes")
	}
	return notes, nil
}
