package sqsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonwraymond/toolrelay/backend/bus"
)

// fakeSQS is an in-memory stand-in for the SQS API.
type fakeSQS struct {
	mu       sync.Mutex
	queues   map[string][]types.Message
	deleted  []string
	seq      int
	missing  map[string]bool
	recvErrs int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string][]types.Message), missing: make(map[string]bool)}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := aws.ToString(in.QueueUrl)
	if f.missing[url] {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	f.seq++
	f.queues[url] = append(f.queues[url], types.Message{
		Body:          in.MessageBody,
		ReceiptHandle: aws.String(fmt.Sprintf("rh-%d", f.seq)),
	})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if f.recvErrs > 0 {
		f.recvErrs--
		f.mu.Unlock()
		return nil, errors.New("throttled")
	}
	url := aws.ToString(in.QueueUrl)
	msgs := f.queues[url]
	n := min(len(msgs), int(in.MaxNumberOfMessages))
	out := msgs[:n]
	f.queues[url] = msgs[n:]
	f.mu.Unlock()

	if len(out) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[aws.ToString(in.QueueUrl)] {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without client should fail")
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	api := newFakeSQS()
	b, err := New(Config{Client: api, ErrorBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	got := make(chan string, 1)
	stop, err := b.Subscribe(context.Background(), "https://sqs/resp", func(p []byte) { got <- string(p) })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer stop()

	if err := b.Publish(context.Background(), "https://sqs/resp", []byte(`{"requestId":"r1"}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != `{"requestId":"r1"}` {
			t.Errorf("received %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	deadline := time.Now().Add(time.Second)
	for api.deletedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if api.deletedCount() != 1 {
		t.Errorf("deleted messages = %d, want 1", api.deletedCount())
	}
}

func TestBus_ReceiveErrorsAreRetried(t *testing.T) {
	api := newFakeSQS()
	api.recvErrs = 2
	b, _ := New(Config{Client: api, ErrorBackoff: time.Millisecond})
	defer b.Close()

	got := make(chan struct{}, 1)
	stop, _ := b.Subscribe(context.Background(), "q", func([]byte) { got <- struct{}{} })
	defer stop()
	_ = b.Publish(context.Background(), "q", []byte("x"))

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("message not delivered after receive errors")
	}
}

func TestBus_Ping(t *testing.T) {
	api := newFakeSQS()
	api.missing["gone"] = true
	b, _ := New(Config{Client: api})

	if err := b.Ping(context.Background(), "present"); err != nil {
		t.Errorf("Ping(present) error = %v", err)
	}
	if err := b.Ping(context.Background(), "gone"); err == nil {
		t.Error("Ping(gone) error = nil, want failure")
	}
}

func TestBus_Close(t *testing.T) {
	b, _ := New(Config{Client: newFakeSQS()})
	_, _ = b.Subscribe(context.Background(), "q", func([]byte) {})

	done := make(chan struct{})
	go func() {
		_ = b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not stop poll loops")
	}

	if err := b.Publish(context.Background(), "q", nil); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}
}

func TestBus_CarriesBusTransport(t *testing.T) {
	api := newFakeSQS()
	b, _ := New(Config{Client: api, ErrorBackoff: time.Millisecond})
	defer b.Close()

	stopServe, err := bus.Serve(context.Background(), b, "req", "resp", func(_ context.Context, req bus.Request) (any, error) {
		return "pong:" + req.ToolName, nil
	}, nil)
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	defer stopServe()

	tr := bus.New(bus.Config{Name: "remote", Bus: b, RequestTopic: "req", ResponseTopic: "resp"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	out, err := tr.Call(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out != "pong:ping" {
		t.Errorf("Call() = %v, want pong:ping", out)
	}
}
