// Package sqsbus implements bus.Bus on Amazon SQS. Topics are queue URLs:
// Publish sends a message to the queue and Subscribe long-polls it,
// deleting each message after its handler returns.
//
// Each response queue should be consumed by a single relay instance;
// SQS delivers a message to one receiver, so a shared response queue
// would let instances steal each other's responses.
package sqsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jonwraymond/toolrelay/backend/bus"
)

// API is the subset of the SQS client used by the bus.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config configures an SQS bus.
type Config struct {
	// Client is the SQS API. Required.
	Client API

	// WaitTimeSeconds is the long-poll duration (0-20). Default 10.
	WaitTimeSeconds int32

	// MaxMessages is the receive batch size (1-10). Default 10.
	MaxMessages int32

	// ErrorBackoff is the pause after a failed receive. Default 1s.
	ErrorBackoff time.Duration

	Logger *slog.Logger
}

// Bus is a bus.Bus backed by SQS queues.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	stops  map[int]context.CancelFunc
	nextID int
	wg     sync.WaitGroup
}

// New creates an SQS bus.
func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, errors.New("sqsbus: client is required")
	}
	if cfg.WaitTimeSeconds <= 0 || cfg.WaitTimeSeconds > 20 {
		cfg.WaitTimeSeconds = 10
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{cfg: cfg, logger: logger, stops: make(map[int]context.CancelFunc)}, nil
}

// NewFromEnv builds an SQS client from the default AWS credential chain.
// An empty region defers to the environment.
func NewFromEnv(ctx context.Context, region string, logger *slog.Logger) (*Bus, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sqsbus: load aws config: %w", err)
	}
	return New(Config{Client: sqs.NewFromConfig(awsCfg), Logger: logger})
}

// Publish sends payload to the queue at topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return bus.ErrClosed
	}
	_, err := b.cfg.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(topic),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqsbus: send to %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a long-poll loop on the queue at topic. The loop is not
// bound to ctx beyond its values; it runs until stop or Close.
func (b *Bus) Subscribe(ctx context.Context, topic string, h bus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := b.nextID
	b.nextID++
	b.stops[id] = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.poll(pollCtx, topic, h)
	}()

	return func() {
		b.mu.Lock()
		delete(b.stops, id)
		b.mu.Unlock()
		cancel()
	}, nil
}

func (b *Bus) poll(ctx context.Context, topic string, h bus.Handler) {
	queue := aws.String(topic)
	for ctx.Err() == nil {
		out, err := b.cfg.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            queue,
			MaxNumberOfMessages: b.cfg.MaxMessages,
			WaitTimeSeconds:     b.cfg.WaitTimeSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("sqs receive failed", "queue", topic, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.ErrorBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			h([]byte(aws.ToString(msg.Body)))
			b.ack(ctx, queue, msg)
		}
	}
}

func (b *Bus) ack(ctx context.Context, queue *string, msg types.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	_, err := b.cfg.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      queue,
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("sqs delete failed", "queue", aws.ToString(queue), "err", err)
	}
}

// Ping checks that the queue at topic exists and is accessible.
func (b *Bus) Ping(ctx context.Context, topic string) error {
	if b.isClosed() {
		return bus.ErrClosed
	}
	_, err := b.cfg.Client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(topic),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return fmt.Errorf("sqsbus: queue %s: %w", topic, err)
	}
	return nil
}

// Close stops every poll loop and waits for them to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, cancel := range b.stops {
		cancel()
		delete(b.stops, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

var _ bus.Bus = (*Bus)(nil)
