package snssqs

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/dmitrymomot/farmbus/core/logger"
)

// Teardown of an abandoned queue is retried a fixed number of times; a queue
// that still cannot be removed is skipped until the next sweep.
const reaperTeardownAttempts = 3

// ReaperConfig scopes a reaper to one node's view of the backbone.
type ReaperConfig struct {
	// TopicName is the queue-name prefix shared by all nodes on the topic.
	TopicName string

	// TopicARN locates the subscription list to search for queue bindings.
	TopicARN string

	// OwnQueueURL is this node's queue, excluded from every sweep.
	OwnQueueURL string

	// Period is the sweep interval. The first sweep is additionally delayed
	// by a random jitter in [0, Period) to desynchronize nodes that start
	// together.
	Period time.Duration

	// DeleteQueueLimit is how stale a queue's oldest visible message may be
	// before the queue counts as abandoned.
	DeleteQueueLimit time.Duration

	// RetryDelay separates teardown retry attempts.
	RetryDelay time.Duration
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger configures structured logging for the reaper.
func WithReaperLogger(log *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if log != nil {
			r.log = log.With(logger.Component("reaper"))
		}
	}
}

// withReaperClock overrides the clock used for staleness checks. Test seam.
func withReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// Reaper periodically scans all queues sharing the topic-name prefix and
// deletes the ones abandoned by nodes that crashed or never cleaned up,
// along with their topic subscriptions. Cross-process races with other
// nodes' reapers are tolerated: deleting an already-deleted resource is
// treated as success.
type Reaper struct {
	sns SNSClient
	sqs SQSClient
	cfg ReaperConfig
	log *slog.Logger
	now func() time.Time

	// sweepMu is taken with TryLock: a tick that fires while a sweep is
	// still running is skipped, not queued, so sweeps never pile up.
	sweepMu sync.Mutex

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewReaper creates a reaper. Call Start to begin sweeping.
func NewReaper(snsClient SNSClient, sqsClient SQSClient, cfg ReaperConfig, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		sns: snsClient,
		sqs: sqsClient,
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now: time.Now,
	}
	if r.cfg.RetryDelay <= 0 {
		r.cfg.RetryDelay = time.Second
	}
	if r.cfg.Period <= 0 {
		r.cfg.Period = 10 * time.Minute
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep timer. Calls after the first are no-ops.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()

			jitter := rand.N(r.cfg.Period)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter):
			}

			r.runSweep(ctx)

			ticker := time.NewTicker(r.cfg.Period)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.runSweep(ctx)
				}
			}
		}()
	})
}

// Stop halts the timer. An in-flight sweep is allowed to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// runSweep runs Cleanup off the timer goroutine so a slow sweep delays
// nothing; the try-lock inside Cleanup keeps sweeps from overlapping.
func (r *Reaper) runSweep(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Cleanup(ctx)
	}()
}

// Cleanup performs one sweep: list candidate queues, decide which are
// abandoned, and remove them. Only one sweep runs at a time per process; a
// call that finds a sweep in progress returns immediately. Per-queue
// failures are logged and skipped, never aborting the sweep.
func (r *Reaper) Cleanup(ctx context.Context) {
	if !r.sweepMu.TryLock() {
		r.log.DebugContext(ctx, "sweep already in progress, skipping")
		return
	}
	defer r.sweepMu.Unlock()

	start := r.now()
	candidates, err := r.listCandidateQueues(ctx)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to list queues", logger.Error(err))
		return
	}

	reaped := 0
	for _, queueURL := range candidates {
		if ctx.Err() != nil {
			return
		}
		if r.reapQueue(ctx, queueURL) {
			reaped++
		}
	}

	r.log.InfoContext(ctx, "sweep finished",
		logger.Count("candidates", len(candidates)),
		logger.Count("reaped", reaped),
		logger.Elapsed(start))
}

// listCandidateQueues returns every queue sharing the topic-name prefix
// except this node's own queue.
func (r *Reaper) listCandidateQueues(ctx context.Context) ([]string, error) {
	var (
		urls      []string
		nextToken *string
	)
	for {
		out, err := r.sqs.ListQueues(ctx, &sqs.ListQueuesInput{
			// Same truncation as the generated queue names, or queues of
			// long-named topics would never be listed.
			QueueNamePrefix: aws.String(queueNamePrefix(r.cfg.TopicName)),
			NextToken:       nextToken,
		})
		if err != nil {
			return nil, classifyBusError(err, "list queues")
		}

		for _, url := range out.QueueUrls {
			if url == r.cfg.OwnQueueURL {
				continue
			}
			urls = append(urls, url)
		}

		nextToken = out.NextToken
		if nextToken == nil {
			return urls, nil
		}
	}
}

// reapQueue inspects one candidate and removes it when abandoned.
// Returns true when the queue was deleted.
func (r *Reaper) reapQueue(ctx context.Context, queueURL string) bool {
	attrsOut, err := r.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		cerr := classifyBusError(err, "resolve queue address")
		if !isNotFound(cerr) {
			r.log.WarnContext(ctx, "skipping queue", logger.Queue(queueURL), logger.Error(cerr))
		}
		return false
	}
	queueARN := attrsOut.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]

	unused, err := r.queueUnused(ctx, queueURL)
	if err != nil {
		r.log.WarnContext(ctx, "cannot determine queue state, skipping",
			logger.Queue(queueURL), logger.Error(err))
		return false
	}
	if !unused {
		return false
	}

	subscriptionARN, err := r.findSubscription(ctx, queueARN)
	if err != nil {
		r.log.WarnContext(ctx, "cannot resolve subscription, skipping",
			logger.Queue(queueURL), logger.Error(err))
		return false
	}

	// Reverse creation order: the binding goes before the queue.
	if subscriptionARN != "" {
		if err := r.retryTeardown(ctx, "unsubscribe", func() error {
			_, err := r.sns.Unsubscribe(ctx, &sns.UnsubscribeInput{
				SubscriptionArn: aws.String(subscriptionARN),
			})
			return classifyBusError(err, "unsubscribe")
		}); err != nil {
			r.log.WarnContext(ctx, "failed to unsubscribe abandoned queue, skipping",
				logger.Queue(queueURL),
				logger.Subscription(subscriptionARN),
				logger.Error(err))
			return false
		}
	}

	if err := r.retryTeardown(ctx, "delete queue", func() error {
		_, err := r.sqs.DeleteQueue(ctx, &sqs.DeleteQueueInput{
			QueueUrl: aws.String(queueURL),
		})
		return classifyBusError(err, "delete queue")
	}); err != nil {
		r.log.WarnContext(ctx, "failed to delete abandoned queue, skipping",
			logger.Queue(queueURL), logger.Error(err))
		return false
	}

	r.log.InfoContext(ctx, "reaped abandoned queue",
		logger.Queue(queueURL),
		logger.Subscription(subscriptionARN))
	return true
}

// queueUnused peeks at the queue without consuming anything: zero visibility
// timeout, no long poll. A queue is unused when the peek finds no message at
// all, or a message whose enqueue timestamp is older than the delete limit.
// A message with no readable timestamp counts as fresh; deleting on a parse
// failure could reap a live queue.
func (r *Reaper) queueUnused(ctx context.Context, queueURL string) (bool, error) {
	out, err := r.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   0,
		WaitTimeSeconds:     0,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return false, classifyBusError(err, "peek queue")
	}
	if len(out.Messages) == 0 {
		return true, nil
	}

	sent, ok := out.Messages[0].Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return false, nil
	}
	millis, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return false, nil
	}

	age := r.now().Sub(time.UnixMilli(millis))
	return age > r.cfg.DeleteQueueLimit, nil
}

// findSubscription pages through the topic's subscription list looking for
// the binding whose endpoint is queueARN. Empty result means no binding.
func (r *Reaper) findSubscription(ctx context.Context, queueARN string) (string, error) {
	var nextToken *string
	for {
		out, err := r.sns.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(r.cfg.TopicARN),
			NextToken: nextToken,
		})
		if err != nil {
			return "", classifyBusError(err, "list subscriptions")
		}

		for _, sub := range out.Subscriptions {
			if aws.ToString(sub.Endpoint) == queueARN {
				return aws.ToString(sub.SubscriptionArn), nil
			}
		}

		nextToken = out.NextToken
		if nextToken == nil {
			return "", nil
		}
	}
}

// retryTeardown runs op up to reaperTeardownAttempts times with a fixed
// inter-attempt delay. A not-found result is success: another node's reaper
// got there first.
func (r *Reaper) retryTeardown(ctx context.Context, name string, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if isNotFound(err) {
				return struct{}{}, nil
			}
			r.log.DebugContext(ctx, "teardown attempt failed",
				slog.String("operation", name),
				logger.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.RetryDelay)),
		backoff.WithMaxTries(reaperTeardownAttempts),
	)
	return err
}
