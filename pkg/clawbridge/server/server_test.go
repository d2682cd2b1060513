package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/bridge"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/coordinator"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
)

// fakeBridge scripts the bridge surface behind the HTTP layer.
type fakeBridge struct {
	reply    *bridge.Reply
	sendErr  error
	lastSend bridge.SendRequest

	toolResult *gateway.ToolResult
	toolErr    error
	lastTool   gateway.ToolRequest

	messages map[string][]history.Message
	cleared  []string

	snapshot coordinator.Snapshot
	models   []string
	active   string
}

func (f *fakeBridge) Send(_ context.Context, req bridge.SendRequest) (*bridge.Reply, error) {
	f.lastSend = req
	return f.reply, f.sendErr
}

func (f *fakeBridge) InvokeTool(_ context.Context, treq gateway.ToolRequest) (*gateway.ToolResult, error) {
	f.lastTool = treq
	return f.toolResult, f.toolErr
}

func (f *fakeBridge) History(sessionID string) []history.Message { return f.messages[sessionID] }
func (f *fakeBridge) ClearHistory(sessionID string)              { f.cleared = append(f.cleared, sessionID) }
func (f *fakeBridge) Status() coordinator.Snapshot               { return f.snapshot }
func (f *fakeBridge) Models() []string                           { return f.models }
func (f *fakeBridge) ActiveModel() string                        { return f.active }
func (f *fakeBridge) SetActiveModel(m string) error              { f.active = m; return nil }

func newTestServer(t *testing.T, api *fakeBridge, cfg Config, bus *events.Bus) *httptest.Server {
	t.Helper()
	srv := New(cfg, api, bus, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, dst any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		json.NewDecoder(resp.Body).Decode(dst)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeBridge{}, Config{}, nil)

	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	api := &fakeBridge{snapshot: coordinator.Snapshot{
		Status:    coordinator.StatusOnline,
		Connected: true,
		Model:     "claude-sonnet",
		Sessions:  []string{"kitchen"},
	}}
	ts := newTestServer(t, api, Config{}, nil)

	var snap coordinator.Snapshot
	resp := getJSON(t, ts.URL+"/api/status", &snap)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if !snap.Connected || snap.Model != "claude-sonnet" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSendEndpoint(t *testing.T) {
	api := &fakeBridge{reply: &bridge.Reply{SessionID: "s1", Text: "hello", Model: "m"}}
	ts := newTestServer(t, api, Config{}, nil)

	var reply bridge.Reply
	resp := postJSON(t, ts.URL+"/api/send", map[string]string{
		"session_id": "s1",
		"message":    "hi",
		"context":    "kitchen light: on",
	}, &reply)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	if reply.Text != "hello" {
		t.Errorf("reply = %+v", reply)
	}
	if api.lastSend.Context != "kitchen light: on" {
		t.Errorf("context not forwarded: %+v", api.lastSend)
	}

	// Empty message rejected before reaching the bridge.
	resp = postJSON(t, ts.URL+"/api/send", map[string]string{"session_id": "s1"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", resp.StatusCode)
	}
}

func TestSendGatewayFailureIsBadGateway(t *testing.T) {
	api := &fakeBridge{sendErr: &gateway.ConnectionError{URL: "http://x", Err: errors.New("refused")}}
	ts := newTestServer(t, api, Config{}, nil)

	resp := postJSON(t, ts.URL+"/api/send", map[string]string{"message": "hi"}, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	api := &fakeBridge{
		messages: map[string][]history.Message{
			"kitchen": {{Role: "user", Content: "hi"}},
		},
		snapshot: coordinator.Snapshot{Sessions: []string{"kitchen"}},
	}
	ts := newTestServer(t, api, Config{}, nil)

	var index struct {
		Sessions []string `json:"sessions"`
	}
	getJSON(t, ts.URL+"/api/history", &index)
	if len(index.Sessions) != 1 || index.Sessions[0] != "kitchen" {
		t.Errorf("session index = %+v", index)
	}

	var log struct {
		SessionID string            `json:"session_id"`
		Messages  []history.Message `json:"messages"`
	}
	getJSON(t, ts.URL+"/api/history?session=kitchen", &log)
	if log.SessionID != "kitchen" || len(log.Messages) != 1 {
		t.Errorf("history = %+v", log)
	}

	postJSON(t, ts.URL+"/api/history/clear", map[string]string{"session_id": "kitchen"}, nil)
	if len(api.cleared) != 1 || api.cleared[0] != "kitchen" {
		t.Errorf("cleared = %v", api.cleared)
	}
}

func TestToolInvokeEndpoint(t *testing.T) {
	api := &fakeBridge{toolResult: &gateway.ToolResult{OK: true}}
	ts := newTestServer(t, api, Config{}, nil)

	var result gateway.ToolResult
	resp := postJSON(t, ts.URL+"/api/tools/invoke", map[string]any{
		"tool":    "lights",
		"action":  "set",
		"args":    map[string]any{"room": "kitchen"},
		"dry_run": true,
	}, &result)
	if resp.StatusCode != http.StatusOK || !result.OK {
		t.Fatalf("invoke = %d %+v", resp.StatusCode, result)
	}
	if api.lastTool.Tool != "lights" || !api.lastTool.DryRun {
		t.Errorf("tool request = %+v", api.lastTool)
	}
	if api.lastTool.Args["room"] != "kitchen" {
		t.Errorf("args = %v", api.lastTool.Args)
	}

	resp = postJSON(t, ts.URL+"/api/tools/invoke", map[string]any{"action": "set"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing tool status = %d, want 400", resp.StatusCode)
	}
}

func TestModelsEndpoint(t *testing.T) {
	api := &fakeBridge{models: []string{"a", "b"}, active: "a"}
	ts := newTestServer(t, api, Config{}, nil)

	var got struct {
		Models []string `json:"models"`
		Active string   `json:"active"`
	}
	getJSON(t, ts.URL+"/api/models", &got)
	if len(got.Models) != 2 || got.Active != "a" {
		t.Errorf("models = %+v", got)
	}

	postJSON(t, ts.URL+"/api/models", map[string]string{"model": "b"}, nil)
	if api.active != "b" {
		t.Errorf("active after POST = %q", api.active)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, &fakeBridge{}, Config{AuthToken: "secret"}, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Healthz stays open for liveness probes.
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz with auth enabled = %d, want 200", resp.StatusCode)
	}
}

func TestEventsSSE(t *testing.T) {
	bus := events.NewBus()
	ts := newTestServer(t, &fakeBridge{}, Config{}, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Let the handler subscribe before emitting.
	time.Sleep(50 * time.Millisecond)
	bus.EmitMessageReceived("kitchen", "lights are on", "claude-sonnet")

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if eventLine != events.TypeMessageReceived {
		t.Errorf("event type = %q", eventLine)
	}

	var e events.Event
	if err := json.Unmarshal([]byte(dataLine), &e); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if e.SessionID != "kitchen" || e.Data["message"] != "lights are on" {
		t.Errorf("event = %+v", e)
	}
}
