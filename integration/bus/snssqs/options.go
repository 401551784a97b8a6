package snssqs

import (
	"log/slog"
	"time"
)

// Option configures an Endpoint.
type Option func(*options)

type options struct {
	logger            *slog.Logger
	snsClient         SNSClient
	sqsClient         SQSClient
	hostname          string
	visibilityTimeout time.Duration
	reaperRetryDelay  time.Duration
}

// WithLogger configures structured logging for the endpoint and its reaper.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithSNSClient sets a pre-configured topic-service client.
// Primarily a test seam, but also allows advanced client customization.
func WithSNSClient(client SNSClient) Option {
	return func(o *options) {
		o.snsClient = client
	}
}

// WithSQSClient sets a pre-configured queue-service client.
func WithSQSClient(client SQSClient) Option {
	return func(o *options) {
		o.sqsClient = client
	}
}

// WithHostname overrides the host identity used in the generated queue name.
// Defaults to os.Hostname.
func WithHostname(name string) Option {
	return func(o *options) {
		if name != "" {
			o.hostname = name
		}
	}
}

// WithVisibilityTimeout sets the queue's visibility timeout. Default 30s.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.visibilityTimeout = d
		}
	}
}

// WithReaperRetryDelay sets the delay between the reaper's teardown retry
// attempts. Default 1s; tests shorten it.
func WithReaperRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reaperRetryDelay = d
		}
	}
}
