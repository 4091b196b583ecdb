// Package queue provides the dispatcher's intake: long-polled receipt of
// upload notifications and explicit confirmations from an SQS queue.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Sentinel errors returned by the consumer.
var (
	ErrReceive = errors.New("queue: receive failed")
	ErrDelete  = errors.New("queue: delete failed")
)

// Message is one received queue message. ReceiptHandle is what Delete needs;
// Body is the raw payload handed to the parser.
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// Consumer is the dispatcher's queue port.
type Consumer interface {
	// Receive long-polls for up to max messages. An empty slice is a normal
	// outcome of an idle queue, not an error.
	Receive(ctx context.Context, max int32) ([]Message, error)

	// Delete acknowledges a message. A message that is not deleted becomes
	// visible again after the visibility timeout and is redelivered.
	Delete(ctx context.Context, receiptHandle string) error
}

// sqsClient is the subset of the SQS API the consumer uses.
type sqsClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time check that SQSConsumer implements Consumer.
var _ Consumer = (*SQSConsumer)(nil)

// SQSConsumer implements Consumer on an SQS queue.
type SQSConsumer struct {
	client            sqsClient
	queueURL          string
	waitTimeSeconds   int32
	visibilityTimeout int32
}

// NewSQSConsumer creates a consumer for the given queue URL. waitTimeSeconds
// enables long polling; visibilityTimeout covers the dispatch window so a
// message is not redelivered while its job is still being launched.
func NewSQSConsumer(client *sqs.Client, queueURL string, waitTimeSeconds, visibilityTimeout int32) *SQSConsumer {
	return &SQSConsumer{
		client:            client,
		queueURL:          queueURL,
		waitTimeSeconds:   waitTimeSeconds,
		visibilityTimeout: visibilityTimeout,
	}
}

// newSQSConsumerWithClient is the test seam.
func newSQSConsumerWithClient(client sqsClient, queueURL string, waitTimeSeconds, visibilityTimeout int32) *SQSConsumer {
	return &SQSConsumer{
		client:            client,
		queueURL:          queueURL,
		waitTimeSeconds:   waitTimeSeconds,
		visibilityTimeout: visibilityTimeout,
	}
}

// Receive long-polls the queue for up to max messages.
func (c *SQSConsumer) Receive(ctx context.Context, max int32) ([]Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     c.waitTimeSeconds,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReceive, err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return messages, nil
}

// Delete acknowledges a message by receipt handle.
func (c *SQSConsumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	return nil
}
