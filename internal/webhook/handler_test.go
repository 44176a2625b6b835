package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"membria/internal/engram"
	"membria/internal/logging"
	"membria/internal/model"
)

type fakeTracker struct {
	calls   []string
	fail    error
	explode bool
}

func (f *fakeTracker) record(format string, args ...any) (model.Outcome, error) {
	if f.explode {
		panic("tracker exploded")
	}
	if f.fail != nil {
		return model.Outcome{}, f.fail
	}
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return model.Outcome{ID: "out_1"}, nil
}

func (f *fakeTracker) EnsureOutcome(_ context.Context, decisionID string) (model.Outcome, bool, error) {
	o, err := f.record("ensure:%s", decisionID)
	return o, true, err
}

func (f *fakeTracker) RecordCommit(_ context.Context, decisionID, sha, _ string, files []string) (model.Outcome, error) {
	return f.record("commit:%s:%s:files=%d", decisionID, sha, len(files))
}

func (f *fakeTracker) RecordPRCreated(_ context.Context, decisionID string, prNumber int, prURL, branchRef string) (model.Outcome, error) {
	return f.record("pr_created:%s:%d:%s:%s", decisionID, prNumber, prURL, branchRef)
}

func (f *fakeTracker) RecordPRMerged(_ context.Context, decisionID string, prNumber int) (model.Outcome, error) {
	return f.record("pr_merged:%s:%d", decisionID, prNumber)
}

func (f *fakeTracker) RecordCIResult(_ context.Context, decisionID string, passed bool, _ string) (model.Outcome, error) {
	return f.record("ci:%s:%t", decisionID, passed)
}

func (f *fakeTracker) RecordIncident(_ context.Context, decisionID, description, severity string) (model.Outcome, error) {
	return f.record("incident:%s:%s:%s", decisionID, description, severity)
}

func (f *fakeTracker) RecordPerformance(_ context.Context, decisionID string, metrics map[string]any) (model.Outcome, error) {
	return f.record("perf:%s:metrics=%d", decisionID, len(metrics))
}

type fakeQueuer struct {
	queued []engram.PendingEngram
	fail   error
}

func (f *fakeQueuer) Enqueue(p engram.PendingEngram) (engram.PendingEngram, error) {
	if f.fail != nil {
		return engram.PendingEngram{}, f.fail
	}
	p.EngramID = fmt.Sprintf("eng_%d", len(f.queued)+1)
	f.queued = append(f.queued, p)
	return p, nil
}

func newTestHandler() (*Handler, *fakeTracker) {
	ft := &fakeTracker{}
	return NewHandler(ft, nil, logging.Nop()), ft
}

func TestPushCreatesOutcomeAndRecordsCommit(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"commits": [
			{"id": "abc123def456", "message": "Implement decision dec_push1", "added": ["a.go"], "modified": ["b.go"]},
			{"id": "ffff", "message": "Decision: dec_other"}
		]
	}`)

	res := h.Handle(context.Background(), "push", body)
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q (%s), want success", res.Status, res.Message)
	}
	if res.OutcomeID != "out_1" || res.DecisionID != "dec_push1" {
		t.Fatalf("result = %+v", res)
	}
	want := []string{"ensure:dec_push1", "commit:dec_push1:abc123d:files=2"}
	if len(ft.calls) != 2 || ft.calls[0] != want[0] || ft.calls[1] != want[1] {
		t.Fatalf("calls = %v, want %v", ft.calls, want)
	}
}

func TestPushWithoutDecisionIsNotAnError(t *testing.T) {
	h, ft := newTestHandler()
	res := h.Handle(context.Background(), "push", []byte(`{"commits":[{"id":"abc","message":"chore: tidy"}]}`))
	if res.Status != StatusNoDecision {
		t.Fatalf("status = %q, want no_decision_found", res.Status)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("tracker touched: %v", ft.calls)
	}
}

func TestPushWithoutDecisionQueuesForExtraction(t *testing.T) {
	ft := &fakeTracker{}
	fq := &fakeQueuer{}
	h := NewHandler(ft, fq, logging.Nop())

	body := []byte(`{
		"ref": "refs/heads/feature/retries",
		"commits": [{"id": "abc123def456", "message": "harden the retry loop"}]
	}`)
	res := h.Handle(context.Background(), "push", body)
	if res.Status != StatusNoDecision {
		t.Fatalf("status = %q, want no_decision_found", res.Status)
	}
	if !strings.Contains(res.Message, "queued eng_1") {
		t.Fatalf("message = %q", res.Message)
	}
	if len(fq.queued) != 1 {
		t.Fatalf("queued = %v", fq.queued)
	}
	p := fq.queued[0]
	if p.CommitSHA != "abc123d" || p.Branch != "feature/retries" ||
		p.Text != "harden the retry loop" || p.Intent != "commit_extraction" {
		t.Fatalf("pending engram = %+v", p)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("tracker touched: %v", ft.calls)
	}

	// A push that carries a marker bypasses the queue entirely.
	res = h.Handle(context.Background(), "push", []byte(`{"commits":[{"id":"beef","message":"Decision: dec_q1"}]}`))
	if res.Status != StatusSuccess || len(fq.queued) != 1 {
		t.Fatalf("marked push: %+v, queued = %d", res, len(fq.queued))
	}
}

func TestPushQueueFailureStaysNoDecision(t *testing.T) {
	fq := &fakeQueuer{fail: engram.ErrQueueFull}
	h := NewHandler(&fakeTracker{}, fq, logging.Nop())

	res := h.Handle(context.Background(), "push", []byte(`{"commits":[{"id":"abc","message":"chore: tidy"}]}`))
	if res.Status != StatusNoDecision || res.Message != "" {
		t.Fatalf("result = %+v, want bare no_decision_found", res)
	}
}

func TestPushWithoutCommitsIgnored(t *testing.T) {
	h, _ := newTestHandler()
	res := h.Handle(context.Background(), "push", []byte(`{"commits":[]}`))
	if res.Status != StatusIgnored {
		t.Fatalf("status = %q, want ignored", res.Status)
	}
}

func TestPullRequestOpened(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"action": "opened",
		"pull_request": {
			"number": 42,
			"title": "Add cache layer",
			"body": "Membria Decision: dec_pr1",
			"html_url": "https://git.test/pr/42",
			"head": {"ref": "feature/cache"}
		}
	}`)

	res := h.Handle(context.Background(), "pull_request", body)
	if res.Status != StatusSuccess || res.DecisionID != "dec_pr1" {
		t.Fatalf("result = %+v", res)
	}
	if ft.calls[0] != "pr_created:dec_pr1:42:https://git.test/pr/42:feature/cache" {
		t.Fatalf("call = %q", ft.calls[0])
	}
}

func TestPullRequestClosedMerged(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"action": "closed",
		"pull_request": {"number": 42, "title": "[dec_pr1] cache", "merged": true}
	}`)

	res := h.Handle(context.Background(), "pull_request", body)
	if res.Status != StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if ft.calls[0] != "pr_merged:dec_pr1:42" {
		t.Fatalf("call = %q", ft.calls[0])
	}
}

func TestPullRequestClosedUnmergedIgnored(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"action": "closed",
		"pull_request": {"number": 42, "title": "[dec_pr1] cache", "merged": false}
	}`)

	res := h.Handle(context.Background(), "pull_request", body)
	if res.Status != StatusIgnored {
		t.Fatalf("status = %q, want ignored", res.Status)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("tracker touched: %v", ft.calls)
	}
}

func TestWorkflowRunRecordsConclusion(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"action": "completed",
		"workflow_run": {
			"name": "ci",
			"conclusion": "failure",
			"head_commit": {"message": "Decision: dec_wf1"}
		}
	}`)

	res := h.Handle(context.Background(), "workflow_run", body)
	if res.Status != StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if ft.calls[0] != "ci:dec_wf1:false" {
		t.Fatalf("call = %q", ft.calls[0])
	}

	res = h.Handle(context.Background(), "workflow_run", []byte(`{"action":"requested","workflow_run":{}}`))
	if res.Status != StatusIgnored {
		t.Fatalf("incomplete run status = %q, want ignored", res.Status)
	}
}

func TestCheckRunExtractsFromNameAndSummary(t *testing.T) {
	h, ft := newTestHandler()
	body := []byte(`{
		"action": "completed",
		"check_run": {
			"name": "unit tests",
			"conclusion": "success",
			"output": {"summary": "all green for [dec_chk1]"}
		}
	}`)

	res := h.Handle(context.Background(), "check_run", body)
	if res.Status != StatusSuccess {
		t.Fatalf("result = %+v", res)
	}
	if ft.calls[0] != "ci:dec_chk1:true" {
		t.Fatalf("call = %q", ft.calls[0])
	}
}

func TestCIEventDispatch(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"explicit decision id skips extraction",
			`{"event_type":"test_result","decision_id":"dec_ci1","passed":true}`,
			"ci:dec_ci1:true",
		},
		{
			"conclusion fallback",
			`{"event_type":"ci_complete","text":"Decision: dec_ci2","conclusion":"success"}`,
			"ci:dec_ci2:true",
		},
		{
			"performance",
			`{"event_type":"performance","decision_id":"dec_ci3","metrics":{"avg_latency_ms":42,"throughput_rps":1500}}`,
			"perf:dec_ci3:metrics=2",
		},
		{
			"incident",
			`{"event_type":"incident","decision_id":"dec_ci4","description":"pager fired","severity":"high"}`,
			"incident:dec_ci4:pager fired:high",
		},
	}
	for _, tc := range cases {
		h, ft := newTestHandler()
		res := h.Handle(context.Background(), "ci_event", []byte(tc.body))
		if res.Status != StatusSuccess {
			t.Fatalf("%s: result = %+v", tc.name, res)
		}
		if ft.calls[0] != tc.want {
			t.Fatalf("%s: call = %q, want %q", tc.name, ft.calls[0], tc.want)
		}
	}
}

func TestCIEventUnknownTypeIgnored(t *testing.T) {
	h, _ := newTestHandler()
	res := h.Handle(context.Background(), "ci_event", []byte(`{"event_type":"deploy","decision_id":"dec_1"}`))
	if res.Status != StatusIgnored {
		t.Fatalf("status = %q, want ignored", res.Status)
	}
}

func TestUnknownEventFamilyIgnored(t *testing.T) {
	h, _ := newTestHandler()
	res := h.Handle(context.Background(), "star", []byte(`{}`))
	if res.Status != StatusIgnored {
		t.Fatalf("status = %q, want ignored", res.Status)
	}
}

func TestTrackerErrorBecomesErrorStatus(t *testing.T) {
	ft := &fakeTracker{fail: errors.New("graph down")}
	h := NewHandler(ft, nil, logging.Nop())
	res := h.Handle(context.Background(), "push", []byte(`{"commits":[{"id":"abc","message":"Decision: dec_1"}]}`))
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}

func TestHandlerRecoversFromPanic(t *testing.T) {
	ft := &fakeTracker{explode: true}
	h := NewHandler(ft, nil, logging.Nop())
	res := h.Handle(context.Background(), "push", []byte(`{"commits":[{"id":"abc","message":"Decision: dec_1"}]}`))
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error after recovered panic", res.Status)
	}
}

func TestMalformedJSONIsErrorNotPanic(t *testing.T) {
	h, _ := newTestHandler()
	res := h.Handle(context.Background(), "push", []byte(`{"commits": [`))
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}
