package snssqs

import (
	"context"
	"errors"
	"fmt"

	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// classifyBusError converts SNS/SQS errors into domain errors so callers can
// branch on not-found versus retryable failures without knowing SDK types.
func classifyBusError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s operation: %w", operation, err)
	}

	var queueGone *sqstypes.QueueDoesNotExist
	if errors.As(err, &queueGone) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, operation)
	}

	var snsNotFound *snstypes.NotFoundException
	if errors.As(err, &snsNotFound) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, operation)
	}

	var snsResourceNotFound *snstypes.ResourceNotFoundException
	if errors.As(err, &snsResourceNotFound) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist", "NotFound", "NotFoundException", "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", ErrResourceNotFound, operation)
		case "ServiceUnavailable", "Throttling", "ThrottlingException", "RequestThrottled":
			return fmt.Errorf("%w: %s operation", ErrServiceUnavailable, operation)
		default:
			return fmt.Errorf("%s operation failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}

// isNotFound reports whether a classified error marks an already-deleted
// resource, which teardown and reaping treat as success.
func isNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}
