package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"membria/internal/federation"
	"membria/internal/graph"
)

// runServer feeds raw request lines through a server and returns the decoded
// response envelopes in output order.
func runServer(t *testing.T, deps Deps, fed Federation, input string) []Response {
	t.Helper()
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	var out bytes.Buffer
	srv := NewServer(c, Options{
		In:         strings.NewReader(input),
		Out:        &out,
		Name:       "membria-test",
		Version:    "0.0.1",
		Federation: fed,
	})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resps []Response
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var r Response
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("decode response line %q: %v", line, err)
		}
		resps = append(resps, r)
	}
	return resps
}

func resultMap(t *testing.T, r Response) map[string]any {
	t.Helper()
	if r.Error != nil {
		t.Fatalf("response %v carries error %d: %s", r.ID, r.Error.Code, r.Error.Message)
	}
	m, ok := r.Result.(map[string]any)
	if !ok {
		t.Fatalf("result has type %T, want object", r.Result)
	}
	return m
}

func TestServerInitializeHandshake(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}
{"jsonrpc":"2.0","method":"notifications/initialized"}
{"jsonrpc":"2.0","id":"ping-1","method":"ping"}
`
	resps := runServer(t, deps, nil, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2 (the notification must stay silent)", len(resps))
	}

	init := resultMap(t, resps[0])
	if got := init["protocolVersion"]; got != ProtocolVersion {
		t.Errorf("protocolVersion = %v, want %s", got, ProtocolVersion)
	}
	info, _ := init["serverInfo"].(map[string]any)
	if info["name"] != "membria-test" || info["version"] != "0.0.1" {
		t.Errorf("serverInfo = %v", info)
	}

	if resps[1].ID != "ping-1" {
		t.Errorf("ping response id = %v, want ping-1", resps[1].ID)
	}
	if m := resultMap(t, resps[1]); len(m) != 0 {
		t.Errorf("ping result = %v, want empty object", m)
	}
}

func TestServerToolsList(t *testing.T) {
	deps, _ := newTestDeps(t)
	resps := runServer(t, deps, nil, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	tools, _ := resultMap(t, resps[0])["tools"].([]any)
	if len(tools) != len(allToolNames) {
		t.Fatalf("tools/list returned %d tools, want %d", len(tools), len(allToolNames))
	}
	first, _ := tools[0].(map[string]any)
	if first["name"] != "capture_decision" {
		t.Errorf("first tool = %v, want capture_decision", first["name"])
	}
	if first["inputSchema"] == nil {
		t.Error("tool definitions must carry an input schema")
	}
}

func TestServerToolsListMergesFederation(t *testing.T) {
	deps, _ := newTestDeps(t)
	fed := &fakeFederation{tools: []federation.RemoteTool{{Name: "ext.search", Description: "remote search"}}}
	resps := runServer(t, deps, fed, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	tools, _ := resultMap(t, resps[0])["tools"].([]any)
	if len(tools) != len(allToolNames)+1 {
		t.Fatalf("tools/list returned %d tools, want %d", len(tools), len(allToolNames)+1)
	}
	last, _ := tools[len(tools)-1].(map[string]any)
	if last["name"] != "ext.search" {
		t.Fatalf("last tool = %v, want ext.search", last["name"])
	}
	schema, _ := last["inputSchema"].(map[string]any)
	if schema["type"] != "object" {
		t.Errorf("remote tool without a schema must default to an open object, got %v", schema)
	}
}

func TestServerEmptyLinesAreSkipped(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := "\n   \n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\t\n"
	resps := runServer(t, deps, nil, input)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
}

func TestServerParseErrorAnswersWithNullID(t *testing.T) {
	deps, _ := newTestDeps(t)
	resps := runServer(t, deps, nil, "{this is not json\n")
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	r := resps[0]
	if r.ID != nil {
		t.Errorf("parse error id = %v, want null", r.ID)
	}
	if r.Error == nil || r.Error.Code != CodeParseError {
		t.Fatalf("error = %+v, want code %d", r.Error, CodeParseError)
	}
}

func TestServerRejectsMissingAndUnknownMethods(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := `{"jsonrpc":"2.0","id":1}
{"jsonrpc":"2.0","id":2,"method":"bogus/method"}
`
	resps := runServer(t, deps, nil, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[0].Error == nil || resps[0].Error.Code != CodeInvalidRequest {
		t.Errorf("missing method error = %+v, want code %d", resps[0].Error, CodeInvalidRequest)
	}
	if resps[1].Error == nil || resps[1].Error.Code != CodeMethodNotFound {
		t.Fatalf("unknown method error = %+v, want code %d", resps[1].Error, CodeMethodNotFound)
	}
	if !strings.Contains(resps[1].Error.Message, "bogus/method") {
		t.Errorf("error message %q does not name the method", resps[1].Error.Message)
	}
}

func TestServerUnknownMethodNotificationStaysSilent(t *testing.T) {
	deps, _ := newTestDeps(t)
	resps := runServer(t, deps, nil, `{"jsonrpc":"2.0","method":"bogus/method"}`+"\n")
	if len(resps) != 0 {
		t.Fatalf("got %d responses, want none", len(resps))
	}
}

func TestServerEmptyListSurfaces(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"resources/list"}
{"jsonrpc":"2.0","id":2,"method":"prompts/list"}
`
	resps := runServer(t, deps, nil, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if res, _ := resultMap(t, resps[0])["resources"].([]any); len(res) != 0 {
		t.Errorf("resources = %v, want empty", res)
	}
	if prompts, _ := resultMap(t, resps[1])["prompts"].([]any); len(prompts) != 0 {
		t.Errorf("prompts = %v, want empty", prompts)
	}
}

func TestServerToolsCall(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_calibration","arguments":{"domain":"caching"}}}` + "\n"
	resps := runServer(t, deps, nil, input)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	result := resultMap(t, resps[0])
	content, _ := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content = %v, want one block", content)
	}
	block, _ := content[0].(map[string]any)
	if block["type"] != "text" {
		t.Fatalf("content block type = %v, want text", block["type"])
	}
	var guidance map[string]any
	if err := json.Unmarshal([]byte(block["text"].(string)), &guidance); err != nil {
		t.Fatalf("decode guidance: %v", err)
	}
	if guidance["domain"] != "caching" {
		t.Errorf("guidance domain = %v, want caching", guidance["domain"])
	}
	// Unseen domain answers from the uniform prior.
	if got := guidance["mean_success_rate"].(float64); got != 0.5 {
		t.Errorf("prior mean = %v, want 0.5", got)
	}
}

func TestServerToolsCallArgumentFailures(t *testing.T) {
	deps, _ := newTestDeps(t)
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{}}
{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"capture_decision","arguments":{"statement":"x","alternatives":[]}}}
{"jsonrpc":"2.0","id":4,"method":"tools/call","params":"not an object"}
`
	resps := runServer(t, deps, nil, input)
	if len(resps) != 4 {
		t.Fatalf("got %d responses, want 4", len(resps))
	}
	want := []int{CodeMethodNotFound, CodeInvalidParams, CodeInvalidParams, CodeInvalidParams}
	for i, r := range resps {
		if r.Error == nil || r.Error.Code != want[i] {
			t.Errorf("response %d: error = %+v, want code %d", i, r.Error, want[i])
		}
	}
	if !strings.Contains(resps[0].Error.Message, `"nope"`) {
		t.Errorf("unknown tool message %q does not quote the name", resps[0].Error.Message)
	}
}

func TestServerDispatchesFederatedCalls(t *testing.T) {
	deps, _ := newTestDeps(t)
	fed := &fakeFederation{
		tools:  []federation.RemoteTool{{Name: "ext.echo"}},
		result: json.RawMessage(`{"echoed":true}`),
	}
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ext.echo","arguments":{"q":"hi"}}}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ext.missing","arguments":{}}}
`
	resps := runServer(t, deps, fed, input)
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}

	result := resultMap(t, resps[0])
	content, _ := result["content"].([]any)
	block, _ := content[0].(map[string]any)
	if block["text"] != `{"echoed":true}` {
		t.Errorf("remote result = %v", block["text"])
	}
	if len(fed.calls) != 1 || fed.calls[0] != "ext.echo" {
		t.Errorf("federation calls = %v, want [ext.echo]", fed.calls)
	}

	if resps[1].Error == nil || resps[1].Error.Code != CodeMethodNotFound {
		t.Errorf("unhandled remote tool error = %+v, want code %d", resps[1].Error, CodeMethodNotFound)
	}
}

func TestServerOversizedLineKillsStream(t *testing.T) {
	deps, _ := newTestDeps(t)
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	var out bytes.Buffer
	srv := NewServer(c, Options{In: strings.NewReader(strings.Repeat("x", maxLineBytes+1)), Out: &out})
	err = srv.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("Run = %v, want an oversized-line error", err)
	}
}

func TestServerStopsOnContextCancel(t *testing.T) {
	deps, _ := newTestDeps(t)
	c, err := NewCatalog(deps)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := NewServer(c, Options{In: blockedReader{}, Out: &bytes.Buffer{}})
	if err := srv.Run(ctx); err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
}

// blockedReader never returns, standing in for an idle stdin.
type blockedReader struct{}

func (blockedReader) Read([]byte) (int, error) {
	select {}
}

func TestRPCErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"argument", invalidArgs("bad %s", "field"), CodeInvalidParams, "bad field"},
		{"not connected", graph.ErrNotConnected, CodeInternalError, "NotConnected"},
		{"wrapped not connected", fmt.Errorf("query: %w", graph.ErrNotConnected), CodeInternalError, "NotConnected"},
		{"generic", errors.New(`squad "alpha": name already in use`), CodeInternalError, `squad "alpha": name already in use`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rpcErrorFor(tc.err)
			if got.Code != tc.code {
				t.Errorf("code = %d, want %d", got.Code, tc.code)
			}
			if got.Message != tc.message {
				t.Errorf("message = %q, want %q", got.Message, tc.message)
			}
		})
	}
}
