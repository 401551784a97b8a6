package snssqs

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// fakeSNS is a minimal in-memory topic service. Override individual func
// fields to inject failures.
type fakeSNS struct {
	mu            sync.Mutex
	topicARN      string
	subscriptions []snstypes.Subscription
	published     []string

	createTopicFn func(*sns.CreateTopicInput) (*sns.CreateTopicOutput, error)
	publishFn     func(*sns.PublishInput) (*sns.PublishOutput, error)
	subscribeFn   func(*sns.SubscribeInput) (*sns.SubscribeOutput, error)
	unsubscribeFn func(*sns.UnsubscribeInput) (*sns.UnsubscribeOutput, error)

	unsubscribeCalls atomic.Int32
}

func newFakeSNS(topicARN string) *fakeSNS {
	return &fakeSNS{topicARN: topicARN}
}

func (f *fakeSNS) CreateTopic(_ context.Context, in *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	if f.createTopicFn != nil {
		return f.createTopicFn(in)
	}
	return &sns.CreateTopicOutput{TopicArn: aws.String(f.topicARN)}, nil
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.publishFn != nil {
		return f.publishFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, aws.ToString(in.Message))
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSNS) Subscribe(_ context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	if f.subscribeFn != nil {
		return f.subscribeFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := f.topicARN + ":sub-" + aws.ToString(in.Endpoint)
	f.subscriptions = append(f.subscriptions, snstypes.Subscription{
		Endpoint:        in.Endpoint,
		SubscriptionArn: aws.String(arn),
		TopicArn:        in.TopicArn,
	})
	return &sns.SubscribeOutput{SubscriptionArn: aws.String(arn)}, nil
}

func (f *fakeSNS) Unsubscribe(_ context.Context, in *sns.UnsubscribeInput, _ ...func(*sns.Options)) (*sns.UnsubscribeOutput, error) {
	f.unsubscribeCalls.Add(1)
	if f.unsubscribeFn != nil {
		return f.unsubscribeFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.subscriptions {
		if aws.ToString(sub.SubscriptionArn) == aws.ToString(in.SubscriptionArn) {
			f.subscriptions = append(f.subscriptions[:i], f.subscriptions[i+1:]...)
			return &sns.UnsubscribeOutput{}, nil
		}
	}
	return nil, &snstypes.NotFoundException{Message: aws.String("subscription not found")}
}

func (f *fakeSNS) ListSubscriptionsByTopic(_ context.Context, _ *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := make([]snstypes.Subscription, len(f.subscriptions))
	copy(subs, f.subscriptions)
	return &sns.ListSubscriptionsByTopicOutput{Subscriptions: subs}, nil
}

// fakeQueue holds one queue's state inside fakeSQS.
type fakeQueue struct {
	arn        string
	attributes map[string]string
	messages   []sqstypes.Message
}

// fakeSQS is a minimal in-memory queue service keyed by queue URL.
type fakeSQS struct {
	mu     sync.Mutex
	queues map[string]*fakeQueue

	receiveFn     func(*sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	deleteQueueFn func(*sqs.DeleteQueueInput) (*sqs.DeleteQueueOutput, error)
	listQueuesFn  func(*sqs.ListQueuesInput) (*sqs.ListQueuesOutput, error)

	deleteQueueCalls atomic.Int32
	deleteBatchCalls atomic.Int32
	listQueuesCalls  atomic.Int32
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string]*fakeQueue)}
}

func (f *fakeSQS) addQueue(url, arn string, msgs ...sqstypes.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[url] = &fakeQueue{arn: arn, attributes: make(map[string]string), messages: msgs}
}

func (f *fakeSQS) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.QueueName)
	url := "https://sqs.test/" + name
	f.queues[url] = &fakeQueue{
		arn:        "arn:aws:sqs:test:000000000000:" + name,
		attributes: make(map[string]string),
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameQueueArn): q.arn,
		},
	}, nil
}

func (f *fakeSQS) SetQueueAttributes(_ context.Context, in *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	for k, v := range in.Attributes {
		q.attributes[k] = v
	}
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveFn != nil {
		return f.receiveFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	n := int(in.MaxNumberOfMessages)
	if n <= 0 || n > len(q.messages) {
		n = len(q.messages)
	}
	batch := make([]sqstypes.Message, n)
	copy(batch, q.messages[:n])
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deleteBatchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	for _, entry := range in.Entries {
		for i, msg := range q.messages {
			if aws.ToString(msg.ReceiptHandle) == aws.ToString(entry.ReceiptHandle) {
				q.messages = append(q.messages[:i], q.messages[i+1:]...)
				break
			}
		}
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func (f *fakeSQS) DeleteQueue(_ context.Context, in *sqs.DeleteQueueInput, _ ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error) {
	f.deleteQueueCalls.Add(1)
	if f.deleteQueueFn != nil {
		return f.deleteQueueFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	url := aws.ToString(in.QueueUrl)
	if _, ok := f.queues[url]; !ok {
		return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("no such queue")}
	}
	delete(f.queues, url)
	return &sqs.DeleteQueueOutput{}, nil
}

func (f *fakeSQS) ListQueues(_ context.Context, in *sqs.ListQueuesInput, _ ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error) {
	f.listQueuesCalls.Add(1)
	if f.listQueuesFn != nil {
		return f.listQueuesFn(in)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.QueueNamePrefix)
	var urls []string
	for url := range f.queues {
		name := url[strings.LastIndex(url, "/")+1:]
		if strings.HasPrefix(name, prefix) {
			urls = append(urls, url)
		}
	}
	return &sqs.ListQueuesOutput{QueueUrls: urls}, nil
}
