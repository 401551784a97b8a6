package snssqs

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// queuePolicy builds an access policy allowing only the topic to enqueue
// messages into the queue. Without it any principal aware of the queue URL
// could write into the node's private buffer.
func queuePolicy(queueARN, topicARN string) (string, error) {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Sid":       "AllowTopicSendMessage",
				"Effect":    "Allow",
				"Principal": map[string]string{"Service": "sns.amazonaws.com"},
				"Action":    "sqs:SendMessage",
				"Resource":  queueARN,
				"Condition": map[string]any{
					"ArnEquals": map[string]string{"aws:SourceArn": topicARN},
				},
			},
		},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("marshal queue policy: %w", err)
	}
	return string(data), nil
}
