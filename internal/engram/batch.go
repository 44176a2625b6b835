package engram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/model"
)

// DefaultBatchSize bounds one ordinary drain pass. Past the soft cap the
// processor takes acceleratedFactor times as much per pass.
const (
	DefaultBatchSize  = 50
	acceleratedFactor = 4
)

// GraphWriter is the slice of the graph layer batch ingest writes through.
type GraphWriter interface {
	AddEngram(ctx context.Context, e model.Engram) (model.Engram, error)
	AddDecision(ctx context.Context, d model.Decision, embedding graph.Vector) (model.Decision, error)
	LinkEngramSessionContext(ctx context.Context, engramID, sessionID string) error
}

// Extractor mines decision records from raw session text. Implementations
// call an external model and return its JSON payload as-is; the processor
// parses and, when needed, repairs it.
type Extractor interface {
	Extract(ctx context.Context, text string) (string, error)
}

// ExtractedDecision is one decision the extractor found in a session.
type ExtractedDecision struct {
	Statement    string   `json:"statement"`
	Alternatives []string `json:"alternatives"`
	Confidence   float64  `json:"confidence"`
	Module       string   `json:"module"`
}

type extractorPayload struct {
	Decisions []ExtractedDecision `json:"decisions"`
}

// Processor turns queued engrams into graph records: one Engram node per
// entry, one Decision per extracted statement (linked MADE_IN), and a
// session-context link when the snapshot names a session.
type Processor struct {
	queue     *Queue
	graph     GraphWriter
	extractor Extractor
	logger    logging.Logger
	batchSize int
	now       func() time.Time
}

// NewProcessor wires a processor. A nil extractor leaves the queue untouched
// until one is configured.
func NewProcessor(queue *Queue, gw GraphWriter, extractor Extractor, logger logging.Logger) *Processor {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Processor{
		queue:     queue,
		graph:     gw,
		extractor: extractor,
		logger:    logger,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// ProcessOnce drains one batch. The batch grows past the soft cap so a
// backlog clears in fewer ticks. Entries that fail to ingest stay queued.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	if p.extractor == nil {
		p.logger.Debug("engram batch: no extractor configured, leaving %d pending", p.queue.Len())
		return 0, nil
	}
	max := p.batchSize
	if p.queue.Backlogged() {
		max *= acceleratedFactor
		p.logger.Info("engram backlog at %d, draining up to %d", p.queue.Len(), max)
	}
	return p.queue.Drain(ctx, max, p.ingest)
}

func (p *Processor) ingest(ctx context.Context, pe PendingEngram) error {
	decisions, err := p.extract(ctx, pe.Text)
	if err != nil {
		return fmt.Errorf("extract decisions for %s: %w", pe.EngramID, err)
	}

	e := model.Engram{
		ID:                 pe.EngramID,
		SessionID:          pe.SessionID,
		CommitSHA:          pe.CommitSHA,
		Branch:             pe.Branch,
		CreatedAt:          pe.QueuedAt,
		AgentType:          pe.AgentType,
		AgentModel:         pe.AgentModel,
		DecisionsExtracted: len(decisions),
	}
	stored, err := p.graph.AddEngram(ctx, e)
	if err != nil {
		return fmt.Errorf("add engram %s: %w", pe.EngramID, err)
	}

	for _, ed := range decisions {
		d := model.Decision{
			Statement:    ed.Statement,
			Alternatives: ed.Alternatives,
			Confidence:   ed.Confidence,
			Module:       ed.Module,
			EngramID:     stored.ID,
			CommitSHA:    pe.CommitSHA,
			CreatedBy:    pe.AgentType,
			Source:       "engram_batch",
		}
		if _, err := p.graph.AddDecision(ctx, d, nil); err != nil {
			return fmt.Errorf("add decision from %s: %w", stored.ID, err)
		}
	}

	if pe.SessionID != "" {
		if err := p.graph.LinkEngramSessionContext(ctx, stored.ID, pe.SessionID); err != nil {
			p.logger.Warn("link engram %s to session %s: %v", stored.ID, pe.SessionID, err)
		}
	}

	p.logger.Info("ingested engram %s: %d decisions", stored.ID, len(decisions))
	return nil
}

// extract runs the extractor and parses its JSON. Model output that fails to
// parse goes through jsonrepair once before the error is surfaced.
func (p *Processor) extract(ctx context.Context, text string) ([]ExtractedDecision, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	raw, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}

	var payload extractorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("parse extractor output: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, fmt.Errorf("parse repaired extractor output: %w", err)
		}
	}

	out := make([]ExtractedDecision, 0, len(payload.Decisions))
	for _, ed := range payload.Decisions {
		ed.Statement = strings.TrimSpace(ed.Statement)
		if ed.Statement == "" {
			continue
		}
		if ed.Confidence < 0 {
			ed.Confidence = 0
		}
		if ed.Confidence > 1 {
			ed.Confidence = 1
		}
		// Decisions record what was rejected as well as what was chosen.
		// When the extractor found no rejected options, say so explicitly
		// rather than storing an empty list.
		if len(ed.Alternatives) == 0 {
			ed.Alternatives = []string{"none considered"}
		}
		out = append(out, ed)
	}
	return out, nil
}
