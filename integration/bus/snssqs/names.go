package snssqs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SQS queue names are limited to 80 characters from [a-zA-Z0-9_-]; topic
// names share the charset with a 255-character limit.
const maxQueueNameLength = 80

var topicNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

func validateTopicName(name string) error {
	if !topicNamePattern.MatchString(name) {
		return fmt.Errorf("%w: topic name %q must be 1-255 characters from [A-Za-z0-9_-]", ErrInvalidConfig, name)
	}
	return nil
}

// uuid suffix with the dashes stripped.
const suffixLength = 32

// queueNamePrefix returns the topic-derived prefix every node's queue name
// starts with. Topic names that would not fit the queue-name length limit
// next to the host part and suffix are truncated here, in one place, so
// generated names and the reaper's prefix scan always agree.
func queueNamePrefix(topicName string) string {
	// Room for "topic_host_suffix" with at least one host character.
	budget := maxQueueNameLength - suffixLength - 2
	if len(topicName) > budget-1 {
		return topicName[:budget-1]
	}
	return topicName
}

// generateQueueName derives a node-private queue name from the topic name,
// the host identity, and a random suffix. The topic-name prefix is what the
// reaper scans for; the suffix makes concurrently starting nodes collide
// only with negligible probability.
func generateQueueName(topicName, host string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	prefix := queueNamePrefix(topicName)

	budget := maxQueueNameLength - len(suffix) - 2

	host = sanitizeNamePart(host)
	if host == "" {
		host = "node"
	}
	if len(host) > budget-len(prefix) {
		host = host[:budget-len(prefix)]
	}

	return prefix + "_" + host + "_" + suffix
}

// sanitizeNamePart replaces characters outside the queue-name charset.
func sanitizeNamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
