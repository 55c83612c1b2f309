package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/pending"
)

func newServedTransport(t *testing.T, fn ServeFunc) (*Transport, *MemoryBus) {
	t.Helper()
	b := NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })

	stop, err := Serve(context.Background(), b, "billing.req", "billing.resp", fn, nil)
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	t.Cleanup(stop)

	tr := New(Config{
		Name:          "billing",
		Bus:           b,
		RequestTopic:  "billing.req",
		ResponseTopic: "billing.resp",
		Timeout:       time.Second,
	})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr, b
}

func TestTransport_Call(t *testing.T) {
	var mu sync.Mutex
	var seen Request
	tr, _ := newServedTransport(t, func(_ context.Context, req Request) (any, error) {
		mu.Lock()
		seen = req
		mu.Unlock()
		return map[string]any{"invoice": req.Arguments["id"]}, nil
	})

	ctx := backend.WithCaller(context.Background(), backend.Caller{UserID: "u1", OrganizationID: "org-1"})
	out, err := tr.Call(ctx, "invoice_get", map[string]any{"id": "inv-7"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out.(map[string]any)["invoice"] != "inv-7" {
		t.Errorf("Call() = %v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen.ToolName != "invoice_get" || seen.RequestID == "" {
		t.Errorf("request envelope = %+v", seen)
	}
	if seen.CallerIdentity.UserID != "u1" || seen.CallerIdentity.OrganizationID != "org-1" {
		t.Errorf("caller identity = %+v", seen.CallerIdentity)
	}
	if seen.Timestamp.IsZero() {
		t.Error("request timestamp not set")
	}
}

func TestTransport_CallToolFailure(t *testing.T) {
	tr, _ := newServedTransport(t, func(context.Context, Request) (any, error) {
		return nil, errors.New("invoice not found")
	})

	_, err := tr.Call(context.Background(), "invoice_get", nil)
	if !errors.Is(err, backend.ErrToolFailed) {
		t.Fatalf("Call() error = %v, want ErrToolFailed", err)
	}
}

func TestTransport_TimeoutAndLateResponse(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	requests := make(chan Request, 1)
	stop, _ := b.Subscribe(context.Background(), "req", func(payload []byte) {
		var req Request
		_ = json.Unmarshal(payload, &req)
		requests <- req
	})
	defer stop()

	table := pending.NewTable()
	tr := New(Config{Name: "slow", Bus: b, RequestTopic: "req", ResponseTopic: "resp", Pending: table})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := tr.Call(ctx, "slow_tool", nil)
	if !errors.Is(err, backend.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Call() took %s, want close to the deadline", elapsed)
	}
	if table.Len() != 0 {
		t.Errorf("pending calls after timeout = %d, want 0", table.Len())
	}

	// The server answers after the caller gave up; the response is dropped.
	req := <-requests
	data, _ := json.Marshal(Response{RequestID: req.RequestID, Success: true, Result: "late"})
	if err := b.Publish(context.Background(), "resp", data); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if table.Len() != 0 {
		t.Errorf("pending calls after late response = %d, want 0", table.Len())
	}
}

func TestTransport_ListTools(t *testing.T) {
	tr, _ := newServedTransport(t, func(_ context.Context, req Request) (any, error) {
		if req.ToolName != ListToolsName {
			return nil, errors.New("unexpected tool")
		}
		return []ToolInfo{
			{Name: "invoice_get", Description: "Fetch an invoice"},
			{Name: ""},
			{Name: "invoice_list", InputSchema: map[string]any{"type": "object"}},
		}, nil
	})

	tools, err := tr.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("ListTools() = %d tools, want 2", len(tools))
	}
	if tools[0].Name != "invoice_get" || tools[0].Namespace != "billing" {
		t.Errorf("tools[0] = %s/%s", tools[0].Namespace, tools[0].Name)
	}
	if tools[0].InputSchema == nil {
		t.Error("missing input schema should default to an object schema")
	}
}

func TestTransport_NotConnected(t *testing.T) {
	tr := New(Config{Name: "x", Bus: NewMemoryBus(), RequestTopic: "a", ResponseTopic: "b"})
	if _, err := tr.Call(context.Background(), "t", nil); !errors.Is(err, backend.ErrNotConnected) {
		t.Errorf("Call() error = %v, want ErrNotConnected", err)
	}
}

func TestTransport_ConnectClosedBus(t *testing.T) {
	b := NewMemoryBus()
	_ = b.Close()
	tr := New(Config{Name: "x", Bus: b, RequestTopic: "a", ResponseTopic: "b"})
	if err := tr.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() error = %v, want ErrClosed", err)
	}
}

func TestTransport_PublishFailureIsConnectionLoss(t *testing.T) {
	b := NewMemoryBus()
	tr := New(Config{Name: "x", Bus: b, RequestTopic: "a", ResponseTopic: "b"})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = b.Close()

	_, err := tr.Call(context.Background(), "t", nil)
	if !errors.Is(err, backend.ErrConnectionLost) {
		t.Errorf("Call() error = %v, want ErrConnectionLost", err)
	}
}

func TestFactory(t *testing.T) {
	if _, err := Factory(nil, nil, nil)(backend.Descriptor{Name: "x"}); err == nil {
		t.Error("Factory() without a bus should fail")
	}
	tr, err := Factory(NewMemoryBus(), pending.NewTable(), nil)(backend.Descriptor{
		Name: "billing", Transport: Kind, RequestTopic: "a", ResponseTopic: "b",
	})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if tr.Kind() != Kind {
		t.Errorf("Kind() = %q", tr.Kind())
	}
}
