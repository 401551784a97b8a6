package snssqs

import (
	"fmt"
	"time"
)

// Config describes one node's participation in the pub/sub backbone.
// Designed for environment-based loading with the core/config package.
type Config struct {
	// TopicName is the shared topic all nodes publish to. Alphanumeric,
	// hyphen, underscore; 1-255 characters.
	TopicName string `env:"FARMBUS_TOPIC_NAME,required"`

	// AWS connection settings. Static credentials are optional; when empty
	// the default credential chain applies.
	Region      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint    string `env:"FARMBUS_AWS_ENDPOINT"` // For localstack and compatible services

	// QueueExpiration is the message retention period applied to the
	// node's private queue.
	QueueExpiration time.Duration `env:"FARMBUS_QUEUE_EXPIRATION" envDefault:"1h"`

	// QueueWaitTime is the long-poll wait for a single receive call.
	// Service ceiling: 20s.
	QueueWaitTime time.Duration `env:"FARMBUS_QUEUE_WAIT_TIME" envDefault:"20s"`

	// QueueBatchSize is the maximum messages pulled per receive call.
	// Service ceiling: 10.
	QueueBatchSize int `env:"FARMBUS_QUEUE_BATCH_SIZE" envDefault:"10"`

	// DeleteQueueLimit is how stale a queue's oldest visible message may be
	// before the reaper considers the queue abandoned.
	DeleteQueueLimit time.Duration `env:"FARMBUS_DELETE_QUEUE_LIMIT" envDefault:"15m"`

	// ReaperPeriod is the interval between reaper sweeps.
	ReaperPeriod time.Duration `env:"FARMBUS_REAPER_PERIOD" envDefault:"10m"`

	// DisableAutoCleanup skips starting the queue reaper.
	DisableAutoCleanup bool `env:"FARMBUS_DISABLE_AUTO_CLEANUP" envDefault:"false"`

	// Worker counts surfaced to the pipeline layer.
	MaxSendWorkers    int `env:"FARMBUS_SEND_WORKERS" envDefault:"1"`
	MaxReceiveWorkers int `env:"FARMBUS_RECEIVE_WORKERS" envDefault:"1"`
}

// Service ceilings for a single queue poll.
const (
	maxWaitTime  = 20 * time.Second
	maxBatchSize = 10
)

// Validate checks the configuration. A queue must outlive the reaper's
// staleness window by at least two sweep periods, otherwise a live queue
// could be reaped between the message aging out and the next sweep.
func (c Config) Validate() error {
	if err := validateTopicName(c.TopicName); err != nil {
		return err
	}
	if c.QueueExpiration <= 0 {
		return fmt.Errorf("%w: queue expiration must be positive, got %s", ErrInvalidConfig, c.QueueExpiration)
	}
	if c.QueueWaitTime <= 0 || c.QueueWaitTime > maxWaitTime {
		return fmt.Errorf("%w: queue wait time must be in (0s, %s], got %s", ErrInvalidConfig, maxWaitTime, c.QueueWaitTime)
	}
	if c.QueueBatchSize < 1 || c.QueueBatchSize > maxBatchSize {
		return fmt.Errorf("%w: queue batch size must be in [1, %d], got %d", ErrInvalidConfig, maxBatchSize, c.QueueBatchSize)
	}
	if c.DeleteQueueLimit <= 0 {
		return fmt.Errorf("%w: delete queue limit must be positive, got %s", ErrInvalidConfig, c.DeleteQueueLimit)
	}
	if c.ReaperPeriod <= 0 {
		return fmt.Errorf("%w: reaper period must be positive, got %s", ErrInvalidConfig, c.ReaperPeriod)
	}
	if c.DeleteQueueLimit+2*c.ReaperPeriod > c.QueueExpiration {
		return fmt.Errorf("%w: delete queue limit (%s) plus two reaper periods (%s) must not exceed queue expiration (%s)",
			ErrInvalidConfig, c.DeleteQueueLimit, 2*c.ReaperPeriod, c.QueueExpiration)
	}
	return nil
}
