// Package snssqs implements the pub/sub endpoint over an SNS topic fanning
// out to per-node SQS queues. Each endpoint owns the full lifecycle of its
// node's resources: it creates the shared topic if absent, provisions a
// uniquely named private queue, binds it to the topic, and tears everything
// down in reverse order on close. A background reaper reclaims queues left
// behind by nodes that never cleaned up.
package snssqs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dmitrymomot/farmbus/core/logger"
	"github.com/dmitrymomot/farmbus/core/message"
	"github.com/dmitrymomot/farmbus/core/pipeline"
)

// Compile-time check that Endpoint satisfies the pipeline transport contract.
var _ pipeline.Endpoint = (*Endpoint)(nil)

const defaultVisibilityTimeout = 30 * time.Second

// Endpoint is one node's handle on the SNS/SQS backbone. Create with New,
// bring up with Init (or use Open), release with Close. Publish and Receive
// are safe for concurrent use once initialized; the AWS clients are shared
// read-only across all operations.
type Endpoint struct {
	cfg      Config
	registry *message.Registry
	log      *slog.Logger
	opts     options

	sns SNSClient
	sqs SQSClient

	mu          sync.RWMutex
	initialized bool
	closed      bool

	topicARN        string
	queueName       string
	queueURL        string
	queueARN        string
	subscriptionARN string

	reaper *Reaper
}

// New validates cfg and creates an inert endpoint. registry decodes inbound
// payloads; messages with unregistered payload tags are dropped on receive.
func New(cfg Config, registry *message.Registry, opts ...Option) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: payload registry must not be nil", ErrInvalidConfig)
	}

	o := options{
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
		visibilityTimeout: defaultVisibilityTimeout,
		reaperRetryDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Endpoint{
		cfg:      cfg,
		registry: registry,
		log:      o.logger.With(logger.Component("snssqs")),
		opts:     o,
		sns:      o.snsClient,
		sqs:      o.sqsClient,
	}, nil
}

// Open is New followed by Init.
func Open(ctx context.Context, cfg Config, registry *message.Registry, opts ...Option) (*Endpoint, error) {
	e, err := New(cfg, registry, opts...)
	if err != nil {
		return nil, err
	}
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Init provisions the node's pub/sub resources: resolves service clients,
// ensures the topic exists, creates and configures the private queue,
// subscribes it to the topic, and starts the reaper unless auto-cleanup is
// disabled. Calling Init on an initialized or closed endpoint fails with
// ErrAlreadyInitialized.
func (e *Endpoint) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized || e.closed {
		return ErrAlreadyInitialized
	}

	if err := e.buildClients(ctx); err != nil {
		return err
	}

	// Topic first: a queue cannot subscribe to a topic that does not exist.
	topicOut, err := e.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(e.cfg.TopicName),
	})
	if err != nil {
		return classifyBusError(err, "create topic")
	}
	e.topicARN = aws.ToString(topicOut.TopicArn)

	host := e.opts.hostname
	if host == "" {
		host, _ = os.Hostname()
	}
	e.queueName = generateQueueName(e.cfg.TopicName, host)

	queueOut, err := e.sqs.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(e.queueName),
	})
	if err != nil {
		return classifyBusError(err, "create queue")
	}
	e.queueURL = aws.ToString(queueOut.QueueUrl)

	// Roll the queue back if a later provisioning step fails, instead of
	// stranding it until another node's reaper finds it.
	provisioned := false
	defer func() {
		if !provisioned {
			e.releasePartial(ctx)
		}
	}()

	attrsOut, err := e.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(e.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return classifyBusError(err, "resolve queue address")
	}
	e.queueARN = attrsOut.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]

	policy, err := queuePolicy(e.queueARN, e.topicARN)
	if err != nil {
		return err
	}

	if _, err := e.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(e.queueURL),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(int(e.cfg.QueueExpiration.Seconds())),
			string(sqstypes.QueueAttributeNameVisibilityTimeout):      strconv.Itoa(int(e.opts.visibilityTimeout.Seconds())),
			string(sqstypes.QueueAttributeNamePolicy):                 policy,
		},
	}); err != nil {
		return classifyBusError(err, "configure queue")
	}

	// Subscription last: it needs both addresses, and raw delivery keeps the
	// queue body identical to the published envelope.
	subOut, err := e.sns.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(e.topicARN),
		Protocol:              aws.String("sqs"),
		Endpoint:              aws.String(e.queueARN),
		Attributes:            map[string]string{"RawMessageDelivery": "true"},
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return classifyBusError(err, "subscribe queue")
	}
	e.subscriptionARN = aws.ToString(subOut.SubscriptionArn)
	provisioned = true

	if !e.cfg.DisableAutoCleanup {
		e.reaper = NewReaper(e.sns, e.sqs, ReaperConfig{
			TopicName:        e.cfg.TopicName,
			TopicARN:         e.topicARN,
			OwnQueueURL:      e.queueURL,
			Period:           e.cfg.ReaperPeriod,
			DeleteQueueLimit: e.cfg.DeleteQueueLimit,
			RetryDelay:       e.opts.reaperRetryDelay,
		}, WithReaperLogger(e.opts.logger))
		e.reaper.Start()
	}

	e.initialized = true

	e.log.InfoContext(ctx, "endpoint initialized",
		logger.Topic(e.cfg.TopicName),
		logger.Queue(e.queueName),
		logger.Subscription(e.subscriptionARN))
	return nil
}

// releasePartial removes the queue left behind by a failed Init. Best
// effort: failures are logged and the original Init error wins.
func (e *Endpoint) releasePartial(ctx context.Context) {
	if e.queueURL == "" {
		return
	}
	if _, err := e.sqs.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: aws.String(e.queueURL),
	}); err != nil {
		if cerr := classifyBusError(err, "rollback queue"); !isNotFound(cerr) {
			e.log.WarnContext(ctx, "failed to remove partially provisioned queue",
				logger.Queue(e.queueURL), logger.Error(cerr))
		}
	}
	e.queueURL = ""
	e.queueARN = ""
	e.queueName = ""
}

// buildClients creates service clients unless injected through options.
func (e *Endpoint) buildClients(ctx context.Context) error {
	if e.sns != nil && e.sqs != nil {
		return nil
	}

	awsOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(e.cfg.Region),
	}

	// Static credentials if provided, default chain otherwise.
	if e.cfg.AccessKeyID != "" && e.cfg.SecretKey != "" {
		awsOptions = append(awsOptions,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				e.cfg.AccessKeyID,
				e.cfg.SecretKey,
				"",
			)),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptions...)
	if err != nil {
		return fmt.Errorf("%w: load AWS config: %v", ErrInvalidConfig, err)
	}

	if e.sns == nil {
		e.sns = sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if e.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(e.cfg.Endpoint)
			}
		})
	}
	if e.sqs == nil {
		e.sqs = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if e.cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(e.cfg.Endpoint)
			}
		})
	}
	return nil
}

// Publish serializes msg and publishes it to the shared topic.
func (e *Endpoint) Publish(ctx context.Context, msg message.Message) error {
	e.mu.RLock()
	initialized := e.initialized
	topicARN := e.topicARN
	e.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}

	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}

	if _, err := e.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(data)),
	}); err != nil {
		return classifyBusError(err, "publish")
	}

	e.log.DebugContext(ctx, "message published",
		logger.EventID(msg.EventID.String()),
		logger.Sequence(msg.Sequence))
	return nil
}

// Receive pulls up to max messages from the node's queue, waiting up to wait
// for at least one, and deletes the retrieved batch from the queue. An empty
// poll returns (nil, nil). Bodies that fail to decode are logged and
// skipped; they are still deleted, since retention would only redeliver them
// to the same node. Partial delete failures are logged, not escalated — the
// messages were already delivered here and retention or the reaper will
// clear any strays.
func (e *Endpoint) Receive(ctx context.Context, wait time.Duration, max int) ([]message.Message, error) {
	e.mu.RLock()
	initialized := e.initialized
	queueURL := e.queueURL
	e.mu.RUnlock()

	if !initialized {
		return nil, ErrNotInitialized
	}

	if wait < 0 || wait > maxWaitTime {
		wait = maxWaitTime
	}
	if max < 1 || max > maxBatchSize {
		max = maxBatchSize
	}

	out, err := e.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, classifyBusError(err, "receive")
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msgs := make([]message.Message, 0, len(out.Messages))
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(out.Messages))

	for i, raw := range out.Messages {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: raw.ReceiptHandle,
		})

		msg, err := e.registry.Unmarshal([]byte(aws.ToString(raw.Body)))
		if err != nil {
			e.log.WarnContext(ctx, "dropping undecodable message",
				slog.String("message_id", aws.ToString(raw.MessageId)),
				logger.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}

	delOut, err := e.sqs.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		e.log.WarnContext(ctx, "failed to delete received batch",
			logger.Queue(queueURL),
			logger.Count("messages", len(entries)),
			logger.Error(classifyBusError(err, "delete batch")))
	} else if len(delOut.Failed) > 0 {
		for _, f := range delOut.Failed {
			e.log.WarnContext(ctx, "failed to delete received message",
				logger.Queue(queueURL),
				slog.String("entry_id", aws.ToString(f.Id)),
				slog.String("code", aws.ToString(f.Code)))
		}
	}

	return msgs, nil
}

// Close releases the node's resources in reverse creation order: stop the
// reaper, remove the subscription, delete the queue. Resources already gone
// are treated as released. Idempotent; calls after the first are no-ops.
func (e *Endpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.initialized {
		e.closed = true
		return nil
	}
	e.closed = true
	e.initialized = false

	if e.reaper != nil {
		e.reaper.Stop()
		e.reaper = nil
	}

	var errs []error

	if e.subscriptionARN != "" {
		if _, err := e.sns.Unsubscribe(ctx, &sns.UnsubscribeInput{
			SubscriptionArn: aws.String(e.subscriptionARN),
		}); err != nil {
			if cerr := classifyBusError(err, "unsubscribe"); !isNotFound(cerr) {
				errs = append(errs, cerr)
			}
		}
		e.subscriptionARN = ""
	}

	if e.queueURL != "" {
		if _, err := e.sqs.DeleteQueue(ctx, &sqs.DeleteQueueInput{
			QueueUrl: aws.String(e.queueURL),
		}); err != nil {
			if cerr := classifyBusError(err, "delete queue"); !isNotFound(cerr) {
				errs = append(errs, cerr)
			}
		}
		e.queueURL = ""
	}

	e.log.InfoContext(ctx, "endpoint closed",
		logger.Topic(e.cfg.TopicName),
		logger.Queue(e.queueName),
		logger.Errors(errs...))
	return errors.Join(errs...)
}

// QueueURL returns the node's private queue URL; empty before Init.
func (e *Endpoint) QueueURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queueURL
}

// TopicARN returns the shared topic address; empty before Init.
func (e *Endpoint) TopicARN() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topicARN
}
