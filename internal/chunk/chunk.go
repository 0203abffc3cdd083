// Package chunk filters and enriches contacts one bounded batch at a time.
package chunk

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

// DefaultSize is the batch size used when none is configured.
const DefaultSize = 100

// Enricher adds enrichment text to a batch of contacts. It must return one
// contact per input, in order.
type Enricher interface {
	Enrich(ctx context.Context, contacts []model.Contact) ([]model.Contact, error)
}

// Chunk is one ordered slice of a run's contacts.
type Chunk struct {
	Index    int
	Total    int
	Contacts []model.Contact
}

// Split partitions contacts into chunks of at most size entries.
func Split(contacts []model.Contact, size int) []Chunk {
	if size <= 0 {
		size = DefaultSize
	}
	total := (len(contacts) + size - 1) / size
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(contacts))
		chunks = append(chunks, Chunk{
			Index:    i,
			Total:    total,
			Contacts: contacts[i*size : end],
		})
	}
	return chunks
}

// Output is the result of processing one chunk.
type Output struct {
	Leads         []model.Contact
	FilteredCount int
	Enriched      bool
	// EnrichErr is set when enrichment was requested and failed; Leads are
	// then the filtered, unenriched contacts.
	EnrichErr error
}

// Processor applies exclusion rules and optional enrichment to chunks.
type Processor struct {
	enricher Enricher
	nowFunc  func() time.Time
}

// NewProcessor creates a Processor. enricher may be nil, in which case
// enrichment requests are skipped.
func NewProcessor(enricher Enricher) *Processor {
	return &Processor{enricher: enricher, nowFunc: time.Now}
}

// Process filters c and, when enrich is set, enriches only the surviving
// contacts of this chunk. Enrichment failure degrades the chunk instead of
// failing it.
func (p *Processor) Process(ctx context.Context, c Chunk, rules Rules, enrich bool) Output {
	kept, filtered := Filter(c.Contacts, rules)

	now := p.nowFunc().UTC()
	leads := make([]model.Contact, len(kept))
	for i, ct := range kept {
		if ct.ConversionStatus == "" {
			ct.ConversionStatus = model.ConversionNew
		}
		ct.ProcessedAt = &now
		leads[i] = ct
	}

	out := Output{Leads: leads, FilteredCount: filtered}
	if !enrich || len(leads) == 0 {
		return out
	}
	if p.enricher == nil {
		out.EnrichErr = eris.New("chunk: no enricher configured")
		return out
	}

	enriched, err := p.enricher.Enrich(ctx, leads)
	if err == nil && len(enriched) != len(leads) {
		err = eris.Errorf("chunk: enricher returned %d contacts for %d", len(enriched), len(leads))
	}
	if err != nil {
		zap.L().Warn("chunk: enrichment failed, continuing unenriched",
			zap.Int("chunk", c.Index+1),
			zap.Int("total_chunks", c.Total),
			zap.Int("contacts", len(leads)),
			zap.Error(err),
		)
		out.EnrichErr = err
		return out
	}

	out.Leads = enriched
	out.Enriched = true
	return out
}
