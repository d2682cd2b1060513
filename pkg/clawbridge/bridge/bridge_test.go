package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/coordinator"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
)

// fakeClient scripts the gateway surface the bridge talks to.
type fakeClient struct {
	streamDeltas []string
	streamErr    error
	streamCalls  int

	sendResponse map[string]any
	sendErr      error
	sendCalls    int

	toolResult *gateway.ToolResult
	toolErr    error
	toolCalls  int

	lastOpts gateway.SendOptions

	// afterFirst swaps the scripted errors after the first attempt, for
	// refresh-retry tests.
	afterFirst func(c *fakeClient)
}

func (c *fakeClient) StreamMessage(_ context.Context, _ string, opts gateway.SendOptions, onDelta gateway.StreamCallback) error {
	c.streamCalls++
	c.lastOpts = opts
	for _, d := range c.streamDeltas {
		onDelta(d)
	}
	err := c.streamErr
	if c.afterFirst != nil {
		c.afterFirst(c)
		c.afterFirst = nil
	}
	return err
}

func (c *fakeClient) SendMessage(_ context.Context, _ string, opts gateway.SendOptions) (map[string]any, error) {
	c.sendCalls++
	c.lastOpts = opts
	return c.sendResponse, c.sendErr
}

func (c *fakeClient) InvokeTool(context.Context, gateway.ToolRequest) (*gateway.ToolResult, error) {
	c.toolCalls++
	err := c.toolErr
	if c.afterFirst != nil {
		c.afterFirst(c)
		c.afterFirst = nil
	}
	return c.toolResult, err
}

type fakeRefresher struct {
	changed bool
	err     error
	calls   int
}

func (r *fakeRefresher) Refresh(context.Context) (bool, error) {
	r.calls++
	return r.changed, r.err
}

type fakeSelector struct{ model string }

func (s *fakeSelector) ActiveModel() string           { return s.model }
func (s *fakeSelector) SetActiveModel(m string) error { s.model = m; return nil }

func newTestBridge(t *testing.T, client GatewayClient, opts Options) *Bridge {
	t.Helper()
	store, err := history.NewStore(nil, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	opts.Client = client
	if opts.History == nil {
		opts.History = store
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	return New(opts)
}

func TestSendPrefersStreaming(t *testing.T) {
	client := &fakeClient{streamDeltas: []string{"Hel", "lo"}}
	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) })

	b := newTestBridge(t, client, Options{Bus: bus, Instructions: "Be brief."})

	reply, err := b.Send(context.Background(), SendRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "Hello" {
		t.Errorf("reply text = %q, want Hello", reply.Text)
	}
	if reply.SessionID == "" {
		t.Error("empty session id should be generated")
	}
	if client.sendCalls != 0 {
		t.Errorf("blocking endpoint used despite healthy stream: %d calls", client.sendCalls)
	}
	if client.lastOpts.SystemPrompt != "Be brief." {
		t.Errorf("system prompt = %q", client.lastOpts.SystemPrompt)
	}

	log := b.History(reply.SessionID)
	if len(log) != 2 || log[0].Role != "user" || log[1].Content != "Hello" {
		t.Errorf("history = %+v", log)
	}
	if len(got) != 1 || got[0].Type != events.TypeMessageReceived {
		t.Errorf("events = %+v", got)
	}
}

func TestSendFallsBackToBlockingCompletion(t *testing.T) {
	client := &fakeClient{
		streamErr:    &gateway.ConnectionError{URL: "http://x", Err: errors.New("refused")},
		sendResponse: map[string]any{"output_text": "from blocking"},
	}
	b := newTestBridge(t, client, Options{})

	reply, err := b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "from blocking" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if client.sendCalls != 1 {
		t.Errorf("sendCalls = %d, want 1", client.sendCalls)
	}
}

func TestPartialStreamFailureIsNotRetriedBlocking(t *testing.T) {
	client := &fakeClient{
		streamDeltas: []string{"partial "},
		streamErr:    &gateway.ConnectionError{URL: "http://x", Err: errors.New("reset")},
	}
	b := newTestBridge(t, client, Options{})

	_, err := b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi"})
	if err == nil {
		t.Fatal("expected error for mid-stream failure")
	}
	if client.sendCalls != 0 {
		t.Errorf("blocking fallback ran after partial stream output: %d calls", client.sendCalls)
	}
}

func TestAuthErrorTriggersRefreshRetryOnce(t *testing.T) {
	client := &fakeClient{streamErr: &gateway.AuthError{Status: 401}}
	client.afterFirst = func(c *fakeClient) {
		c.streamErr = nil
		c.streamDeltas = []string{"after refresh"}
	}
	refresher := &fakeRefresher{changed: true}
	b := newTestBridge(t, client, Options{Refresher: refresher})

	reply, err := b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "after refresh" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}
	if client.streamCalls != 2 {
		t.Errorf("stream attempts = %d, want 2", client.streamCalls)
	}
}

func TestAuthErrorWithoutNewTokenSurfaces(t *testing.T) {
	client := &fakeClient{streamErr: &gateway.AuthError{Status: 403}}
	refresher := &fakeRefresher{changed: false}
	b := newTestBridge(t, client, Options{Refresher: refresher})

	_, err := b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi"})
	var authErr *gateway.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if client.streamCalls != 1 {
		t.Errorf("stream attempts = %d, want 1 (no retry without a new token)", client.streamCalls)
	}
}

func TestSendUsesActiveModel(t *testing.T) {
	client := &fakeClient{streamDeltas: []string{"ok"}}
	b := newTestBridge(t, client, Options{Models: &fakeSelector{model: "claude-sonnet"}})

	reply, err := b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.lastOpts.Model != "claude-sonnet" {
		t.Errorf("model = %q, want claude-sonnet", client.lastOpts.Model)
	}
	if reply.Model != "claude-sonnet" {
		t.Errorf("reply model = %q", reply.Model)
	}

	// Per-request override wins.
	_, err = b.Send(context.Background(), SendRequest{SessionID: "s1", Message: "hi", Model: "gpt-x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.lastOpts.Model != "gpt-x" {
		t.Errorf("override model = %q, want gpt-x", client.lastOpts.Model)
	}
}

type coordGateway struct{}

func (coordGateway) CheckAlive(context.Context) (bool, error) { return true, nil }
func (coordGateway) ListModels(context.Context) ([]gateway.ModelInfo, error) {
	return []gateway.ModelInfo{{ID: "claude-sonnet"}}, nil
}
func (coordGateway) InvokeTool(context.Context, gateway.ToolRequest) (*gateway.ToolResult, error) {
	return &gateway.ToolResult{OK: true}, nil
}

func TestInvokeToolRecordsOutcome(t *testing.T) {
	coord := coordinator.New(coordGateway{}, time.Minute, nil)
	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) })

	client := &fakeClient{
		toolResult: &gateway.ToolResult{OK: true, Result: json.RawMessage(`{"state":"on"}`)},
	}
	b := newTestBridge(t, client, Options{Coordinator: coord, Bus: bus})

	result, err := b.InvokeTool(context.Background(), gateway.ToolRequest{Tool: "lights", Action: "set"})
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if !result.OK {
		t.Error("result not ok")
	}

	snap := coord.Snapshot()
	if snap.LastToolName != "lights" || snap.LastToolStatus != "ok" {
		t.Errorf("snapshot tool state = %q/%q", snap.LastToolName, snap.LastToolStatus)
	}
	if snap.LastToolResultPreview != `{"state":"on"}` {
		t.Errorf("preview = %q", snap.LastToolResultPreview)
	}
	if len(got) != 1 || got[0].Type != events.TypeToolInvokedOK {
		t.Errorf("events = %+v", got)
	}
}

func TestInvokeToolFailureIsRecorded(t *testing.T) {
	coord := coordinator.New(coordGateway{}, time.Minute, nil)
	client := &fakeClient{
		toolResult: &gateway.ToolResult{OK: false, Error: "unknown tool"},
	}
	b := newTestBridge(t, client, Options{Coordinator: coord})

	result, err := b.InvokeTool(context.Background(), gateway.ToolRequest{Tool: "nope"})
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if result.OK {
		t.Error("result should not be ok")
	}

	snap := coord.Snapshot()
	if snap.LastToolStatus != "error" || snap.LastToolError != "unknown tool" {
		t.Errorf("snapshot tool state = %q/%q", snap.LastToolStatus, snap.LastToolError)
	}
}

func TestSetActiveModelPersists(t *testing.T) {
	sel := &fakeSelector{}
	b := newTestBridge(t, &fakeClient{}, Options{Models: sel})

	if err := b.SetActiveModel("claude-sonnet"); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}
	if sel.model != "claude-sonnet" {
		t.Errorf("persisted model = %q", sel.model)
	}
	if b.ActiveModel() != "claude-sonnet" {
		t.Errorf("ActiveModel = %q", b.ActiveModel())
	}
}
