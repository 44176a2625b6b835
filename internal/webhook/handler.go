// Package webhook turns forge and CI deliveries into outcome signals. Events
// identify their decision through free-text markers; deliveries that mention
// no decision are acknowledged, not failed, so senders never retry them.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"membria/internal/engram"
	"membria/internal/logging"
	"membria/internal/model"
)

// Result statuses returned to the delivering system.
const (
	StatusSuccess    = "success"
	StatusIgnored    = "ignored"
	StatusNoDecision = "no_decision_found"
	StatusError      = "error"
)

// Result is the response body for every webhook delivery.
type Result struct {
	Status     string `json:"status"`
	OutcomeID  string `json:"outcome_id,omitempty"`
	DecisionID string `json:"decision_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Tracker is the outcome surface the dispatcher drives.
type Tracker interface {
	EnsureOutcome(ctx context.Context, decisionID string) (model.Outcome, bool, error)
	RecordCommit(ctx context.Context, decisionID, sha, message string, filesChanged []string) (model.Outcome, error)
	RecordPRCreated(ctx context.Context, decisionID string, prNumber int, prURL, branchRef string) (model.Outcome, error)
	RecordPRMerged(ctx context.Context, decisionID string, prNumber int) (model.Outcome, error)
	RecordCIResult(ctx context.Context, decisionID string, passed bool, description string) (model.Outcome, error)
	RecordIncident(ctx context.Context, decisionID, description, severity string) (model.Outcome, error)
	RecordPerformance(ctx context.Context, decisionID string, metrics map[string]any) (model.Outcome, error)
}

// Queuer buffers marker-less commits so the batch extractor can mine their
// messages later. *engram.Queue satisfies it.
type Queuer interface {
	Enqueue(p engram.PendingEngram) (engram.PendingEngram, error)
}

// Handler dispatches decoded events to the tracker.
type Handler struct {
	tracker Tracker
	queue   Queuer
	logger  logging.Logger
}

// NewHandler builds a dispatcher over the given tracker. A nil queue disables
// commit extraction queueing; marker-less pushes then answer no_decision_found
// with nothing retained.
func NewHandler(tracker Tracker, queue Queuer, logger logging.Logger) *Handler {
	if logging.IsNil(logger) {
		logger = logging.Nop()
	}
	return &Handler{tracker: tracker, queue: queue, logger: logger}
}

// Handle processes one delivery. It never panics outward; a recovered panic
// becomes a Result with status error so the listener keeps serving.
func (h *Handler) Handle(ctx context.Context, eventType string, body []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("webhook handler panic on %s event: %v", eventType, r)
			result = Result{Status: StatusError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	switch eventType {
	case "push":
		return h.handlePush(ctx, body)
	case "pull_request":
		return h.handlePullRequest(ctx, body)
	case "workflow_run":
		return h.handleWorkflowRun(ctx, body)
	case "check_run":
		return h.handleCheckRun(ctx, body)
	case "ci_event":
		return h.handleCIEvent(ctx, body)
	default:
		h.logger.Debug("ignoring webhook event type %q", eventType)
		return Result{Status: StatusIgnored, Message: fmt.Sprintf("event type %q not handled", eventType)}
	}
}

func (h *Handler) handlePush(ctx context.Context, body []byte) Result {
	var ev pushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errorResult("parse push event", err)
	}
	if len(ev.Commits) == 0 {
		return Result{Status: StatusIgnored, Message: "push carries no commits"}
	}

	commit := ev.Commits[0]
	decisionID := ExtractDecisionID(commit.Message)
	if decisionID == "" {
		return h.queueForExtraction(ev)
	}

	if _, _, err := h.tracker.EnsureOutcome(ctx, decisionID); err != nil {
		return errorResult("create outcome", err)
	}
	files := make([]string, 0, len(commit.Added)+len(commit.Modified)+len(commit.Removed))
	files = append(files, commit.Added...)
	files = append(files, commit.Modified...)
	files = append(files, commit.Removed...)
	o, err := h.tracker.RecordCommit(ctx, decisionID, shortSHA(commit.ID), commit.Message, files)
	if err != nil {
		return errorResult("record commit", err)
	}
	return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
}

// queueForExtraction hands a marker-less push to the pending-engram queue.
// Queue failures degrade to the plain no-decision answer; the sender never
// sees a retryable error for a commit that simply carried no marker.
func (h *Handler) queueForExtraction(ev pushEvent) Result {
	if h.queue == nil {
		return Result{Status: StatusNoDecision}
	}
	commit := ev.Commits[0]
	queued, err := h.queue.Enqueue(engram.PendingEngram{
		CommitSHA: shortSHA(commit.ID),
		Branch:    strings.TrimPrefix(ev.Ref, "refs/heads/"),
		Text:      commit.Message,
		Intent:    "commit_extraction",
	})
	if err != nil {
		h.logger.Warn("queue commit %s for extraction: %v", shortSHA(commit.ID), err)
		return Result{Status: StatusNoDecision}
	}
	return Result{Status: StatusNoDecision, Message: fmt.Sprintf("queued %s for extraction", queued.EngramID)}
}

func (h *Handler) handlePullRequest(ctx context.Context, body []byte) Result {
	var ev pullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errorResult("parse pull_request event", err)
	}

	decisionID := ExtractDecisionID(ev.PullRequest.Title + "\n" + ev.PullRequest.Body)
	if decisionID == "" {
		return Result{Status: StatusNoDecision}
	}

	switch {
	case ev.Action == "opened":
		o, err := h.tracker.RecordPRCreated(ctx, decisionID, ev.PullRequest.Number, ev.PullRequest.HTMLURL, ev.PullRequest.Head.Ref)
		if err != nil {
			return errorResult("record pr created", err)
		}
		return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
	case ev.Action == "closed" && (ev.PullRequest.Merged || ev.PullRequest.State == "merged"):
		o, err := h.tracker.RecordPRMerged(ctx, decisionID, ev.PullRequest.Number)
		if err != nil {
			return errorResult("record pr merged", err)
		}
		return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
	default:
		return Result{Status: StatusIgnored, Message: fmt.Sprintf("pull_request action %q not handled", ev.Action)}
	}
}

func (h *Handler) handleWorkflowRun(ctx context.Context, body []byte) Result {
	var ev workflowRunEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errorResult("parse workflow_run event", err)
	}
	if ev.Action != "completed" {
		return Result{Status: StatusIgnored, Message: fmt.Sprintf("workflow_run action %q not handled", ev.Action)}
	}

	decisionID := ExtractDecisionID(ev.WorkflowRun.HeadCommit.Message)
	if decisionID == "" {
		return Result{Status: StatusNoDecision}
	}

	passed := ev.WorkflowRun.Conclusion == "success"
	o, err := h.tracker.RecordCIResult(ctx, decisionID, passed, fmt.Sprintf("workflow %s: %s", ev.WorkflowRun.Name, ev.WorkflowRun.Conclusion))
	if err != nil {
		return errorResult("record ci result", err)
	}
	return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
}

func (h *Handler) handleCheckRun(ctx context.Context, body []byte) Result {
	var ev checkRunEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errorResult("parse check_run event", err)
	}
	if ev.Action != "completed" {
		return Result{Status: StatusIgnored, Message: fmt.Sprintf("check_run action %q not handled", ev.Action)}
	}

	decisionID := ExtractDecisionID(ev.CheckRun.Name + "\n" + ev.CheckRun.Output.Summary)
	if decisionID == "" {
		return Result{Status: StatusNoDecision}
	}

	passed := ev.CheckRun.Conclusion == "success"
	o, err := h.tracker.RecordCIResult(ctx, decisionID, passed, fmt.Sprintf("check %s: %s", ev.CheckRun.Name, ev.CheckRun.Conclusion))
	if err != nil {
		return errorResult("record ci result", err)
	}
	return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
}

func (h *Handler) handleCIEvent(ctx context.Context, body []byte) Result {
	var ev ciEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errorResult("parse ci_event", err)
	}

	decisionID := ev.DecisionID
	if decisionID == "" {
		decisionID = ExtractDecisionID(ev.Text + "\n" + ev.Description)
	}
	if decisionID == "" {
		return Result{Status: StatusNoDecision}
	}

	var (
		o   model.Outcome
		err error
	)
	switch ev.EventType {
	case "ci_complete", "test_result":
		passed := ev.Conclusion == "success"
		if ev.Passed != nil {
			passed = *ev.Passed
		}
		o, err = h.tracker.RecordCIResult(ctx, decisionID, passed, ev.Description)
	case "performance":
		o, err = h.tracker.RecordPerformance(ctx, decisionID, ev.Metrics)
	case "incident":
		o, err = h.tracker.RecordIncident(ctx, decisionID, ev.Description, ev.Severity)
	default:
		return Result{Status: StatusIgnored, Message: fmt.Sprintf("ci event type %q not handled", ev.EventType)}
	}
	if err != nil {
		return errorResult("record ci event", err)
	}
	return Result{Status: StatusSuccess, OutcomeID: o.ID, DecisionID: decisionID}
}

func errorResult(op string, err error) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf("%s: %v", op, err)}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return strings.TrimSpace(sha)
}
