package snssqs

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownQueueURL   = "https://sqs.test/farm-events_web-01_own"
	otherQueueURL = "https://sqs.test/farm-events_web-02_gone"
	otherQueueARN = "arn:aws:sqs:test:000000000000:farm-events_web-02_gone"
)

func testReaperConfig() ReaperConfig {
	return ReaperConfig{
		TopicName:        "farm-events",
		TopicARN:         testTopicARN,
		OwnQueueURL:      ownQueueURL,
		Period:           time.Minute,
		DeleteQueueLimit: 2 * time.Minute,
		RetryDelay:       time.Millisecond,
	}
}

// messageSentAt builds a queue entry whose SentTimestamp is ts.
func messageSentAt(ts time.Time) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String("{}"),
		Attributes: map[string]string{
			string(sqstypes.MessageSystemAttributeNameSentTimestamp): strconv.FormatInt(ts.UnixMilli(), 10),
		},
	}
}

func subscribeQueue(t *testing.T, snsClient *fakeSNS, queueARN string) {
	t.Helper()
	_, err := snsClient.Subscribe(context.Background(), &sns.SubscribeInput{
		TopicArn: aws.String(testTopicARN),
		Protocol: aws.String("sqs"),
		Endpoint: aws.String(queueARN),
	})
	require.NoError(t, err)
}

func TestCleanup_KeepsQueueWithFreshMessage(t *testing.T) {
	t.Parallel()

	now := time.Now()
	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN, messageSentAt(now))
	subscribeQueue(t, snsClient, otherQueueARN)

	r := NewReaper(snsClient, sqsClient, testReaperConfig(),
		withReaperClock(func() time.Time { return now }))
	r.Cleanup(context.Background())

	assert.Zero(t, sqsClient.deleteQueueCalls.Load())
	assert.Zero(t, snsClient.unsubscribeCalls.Load())
	assert.Len(t, snsClient.subscriptions, 1)
}

func TestCleanup_ReapsQueueWithStaleMessage(t *testing.T) {
	t.Parallel()

	now := time.Now()
	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	// Two hours old against a two-minute limit.
	sqsClient.addQueue(otherQueueURL, otherQueueARN, messageSentAt(now.Add(-2*time.Hour)))
	subscribeQueue(t, snsClient, otherQueueARN)

	r := NewReaper(snsClient, sqsClient, testReaperConfig(),
		withReaperClock(func() time.Time { return now }))
	r.Cleanup(context.Background())

	assert.Equal(t, int32(1), snsClient.unsubscribeCalls.Load(), "subscription removed exactly once")
	assert.Equal(t, int32(1), sqsClient.deleteQueueCalls.Load(), "queue deleted exactly once")
	sqsClient.mu.Lock()
	_, exists := sqsClient.queues[otherQueueURL]
	sqsClient.mu.Unlock()
	assert.False(t, exists)
}

func TestCleanup_ReapsEmptyQueue(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN) // No messages at all.
	subscribeQueue(t, snsClient, otherQueueARN)

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background())

	assert.Equal(t, int32(1), sqsClient.deleteQueueCalls.Load())
	assert.Equal(t, int32(1), snsClient.unsubscribeCalls.Load())
}

func TestCleanup_FindsQueuesOfLongTopicName(t *testing.T) {
	t.Parallel()

	// A topic name longer than the queue-name budget gets truncated in the
	// generated names; the sweep must scan with the same truncated prefix or
	// these queues are never listed.
	topic := strings.Repeat("event-", 10)
	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()

	abandoned := generateQueueName(topic, "web-02")
	sqsClient.addQueue("https://sqs.test/"+abandoned, "arn:aws:sqs:test:000000000000:"+abandoned)

	cfg := testReaperConfig()
	cfg.TopicName = topic
	cfg.OwnQueueURL = "https://sqs.test/" + generateQueueName(topic, "web-01")

	r := NewReaper(snsClient, sqsClient, cfg)
	r.Cleanup(context.Background())

	assert.Equal(t, int32(1), sqsClient.deleteQueueCalls.Load(), "abandoned queue of a long-named topic must be reaped")
}

func TestCleanup_NeverTouchesOwnQueue(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	// Own queue is empty, which would make it reap-eligible if scanned.
	sqsClient.addQueue(ownQueueURL, "arn:own")

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background())

	assert.Zero(t, sqsClient.deleteQueueCalls.Load())
	sqsClient.mu.Lock()
	_, exists := sqsClient.queues[ownQueueURL]
	sqsClient.mu.Unlock()
	assert.True(t, exists)
}

func TestCleanup_QueueWithoutSubscriptionStillDeleted(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN)

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background())

	assert.Zero(t, snsClient.unsubscribeCalls.Load())
	assert.Equal(t, int32(1), sqsClient.deleteQueueCalls.Load())
}

func TestCleanup_AlreadyDeletedQueueIsBenign(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN)
	subscribeQueue(t, snsClient, otherQueueARN)

	// Another node's reaper deletes the queue between our peek and delete.
	sqsClient.deleteQueueFn = func(*sqs.DeleteQueueInput) (*sqs.DeleteQueueOutput, error) {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("already gone")}
	}

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background())

	// Not-found counts as success: one attempt, no retries.
	assert.Equal(t, int32(1), sqsClient.deleteQueueCalls.Load())
}

func TestCleanup_TransientDeleteFailureIsRetried(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN)

	var mu sync.Mutex
	attempts := 0
	sqsClient.deleteQueueFn = func(*sqs.DeleteQueueInput) (*sqs.DeleteQueueOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("throttled")
		}
		return &sqs.DeleteQueueOutput{}, nil
	}

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background())

	assert.Equal(t, int32(3), sqsClient.deleteQueueCalls.Load())
}

func TestCleanup_PermanentFailureSkipsQueue(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")
	sqsClient.addQueue(otherQueueURL, otherQueueARN)

	sqsClient.deleteQueueFn = func(*sqs.DeleteQueueInput) (*sqs.DeleteQueueOutput, error) {
		return nil, errors.New("access denied")
	}

	r := NewReaper(snsClient, sqsClient, testReaperConfig())
	r.Cleanup(context.Background()) // Must not panic or abort.

	// All three attempts were spent, then the queue was skipped.
	assert.Equal(t, int32(3), sqsClient.deleteQueueCalls.Load())
}

func TestCleanup_OverlappingSweepIsSkipped(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()

	enteredList := make(chan struct{})
	releaseList := make(chan struct{})
	sqsClient.listQueuesFn = func(*sqs.ListQueuesInput) (*sqs.ListQueuesOutput, error) {
		close(enteredList)
		<-releaseList
		return &sqs.ListQueuesOutput{}, nil
	}

	r := NewReaper(snsClient, sqsClient, testReaperConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Cleanup(context.Background())
	}()

	<-enteredList
	// Second sweep fires while the first is blocked: skipped, not queued.
	r.Cleanup(context.Background())
	assert.Equal(t, int32(1), sqsClient.listQueuesCalls.Load())

	close(releaseList)
	<-done
}

func TestReaper_StartStop(t *testing.T) {
	t.Parallel()

	snsClient := newFakeSNS(testTopicARN)
	sqsClient := newFakeSQS()
	sqsClient.addQueue(ownQueueURL, "arn:own")

	cfg := testReaperConfig()
	cfg.Period = 10 * time.Millisecond

	r := NewReaper(snsClient, sqsClient, cfg)
	r.Start()
	// A repeated Start is a no-op rather than a second timer goroutine.
	r.Start()

	// At least one sweep happens after the initial jitter elapses.
	require.Eventually(t, func() bool {
		return sqsClient.listQueuesCalls.Load() >= 1
	}, 2*time.Second, time.Millisecond)

	r.Stop()
	after := sqsClient.listQueuesCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, sqsClient.listQueuesCalls.Load(), "no sweeps after Stop")
}
