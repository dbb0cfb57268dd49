package clients

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/openpodcast/episode-ingest-worker/concurrency"
)

// Message is a received queue message plus its receipt handle, needed to
// delete or extend visibility on it later (§4.6).
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Queue wraps the input SQS queue: long-poll receive, delete, and
// visibility-timeout extension, each under the IO semaphore like every
// other externally-bound adapter in this worker.
type Queue struct {
	SQS *sqs.SQS
	URL string
}

func NewQueue(sess *session.Session, url string) *Queue {
	return &Queue{SQS: sqs.New(sess), URL: url}
}

// Receive long-polls for up to maxMessages (capped at SQS's own limit of
// 10), waiting up to waitSeconds for at least one message.
func (q *Queue) Receive(ctx context.Context, maxMessages int64, waitSeconds int64) ([]Message, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() ([]Message, error) {
		out, err := q.SQS.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.URL),
			MaxNumberOfMessages: aws.Int64(maxMessages),
			WaitTimeSeconds:     aws.Int64(waitSeconds),
			VisibilityTimeout:   aws.Int64(120),
		})
		if err != nil {
			return nil, fmt.Errorf("receiving queue messages: %w", err)
		}

		messages := make([]Message, 0, len(out.Messages))
		for _, m := range out.Messages {
			messages = append(messages, Message{
				ID:            aws.StringValue(m.MessageId),
				ReceiptHandle: aws.StringValue(m.ReceiptHandle),
				Body:          aws.StringValue(m.Body),
			})
		}
		return messages, nil
	})
}

// Delete removes a message from the queue once its job has reached a
// terminal state (success or terminal error) -- §4.6/§9: the queue message
// is always deleted on terminal error, since retries are handled at the
// pipeline layer, not by SQS redelivery.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() (struct{}, error) {
		_, err := q.SQS.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.URL),
			ReceiptHandle: aws.String(receiptHandle),
		})
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("deleting queue message: %w", err)
	}
	return nil
}

// ExtendVisibility pushes a long-running job's invisibility window out by
// deltaSeconds (§4.6 VISIBILITY_EXTEND_DELTA_S), called periodically by
// the poller while a job is in flight.
func (q *Queue) ExtendVisibility(ctx context.Context, receiptHandle string, deltaSeconds int64) error {
	_, err := concurrency.WithSemaphoreCtx(ctx, concurrency.IO, func() (struct{}, error) {
		_, err := q.SQS.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(q.URL),
			ReceiptHandle:     aws.String(receiptHandle),
			VisibilityTimeout: aws.Int64(deltaSeconds),
		})
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("extending message visibility: %w", err)
	}
	return nil
}

// RequeueNow drops the visibility timeout to near-zero so the message
// reappears almost immediately -- used on preemptible-capacity drain
// (§4.10 SPOT_REQUEUE_VISIBILITY_SECONDS) instead of deleting it.
func (q *Queue) RequeueNow(ctx context.Context, receiptHandle string, requeueSeconds int64) error {
	return q.ExtendVisibility(ctx, receiptHandle, requeueSeconds)
}
