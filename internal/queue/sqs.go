package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS is a durable queue backed by Amazon SQS. A message becomes visible
// again once its visibility timeout lapses without a delete.
type SQS struct {
	Client            SQSAPI
	QueueURL          string
	WaitTimeSeconds   int32
	VisibilityTimeout int32
}

func NewSQS(client SQSAPI, queueURL string) *SQS {
	return &SQS{
		Client:            client,
		QueueURL:          queueURL,
		WaitTimeSeconds:   20,
		VisibilityTimeout: 300, // 5 minutes
	}
}

func (q *SQS) Publish(ctx context.Context, body []byte) error {
	_, err := q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message to queue: %w", err)
	}
	return nil
}

func (q *SQS) Receive(ctx context.Context) (*Delivery, error) {
	output, err := q.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.QueueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.WaitTimeSeconds,
		VisibilityTimeout:   q.VisibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if len(output.Messages) == 0 {
		return nil, nil
	}

	msg := output.Messages[0]
	receipt := aws.ToString(msg.ReceiptHandle)
	return NewDelivery(aws.ToString(msg.MessageId), []byte(aws.ToString(msg.Body)), func(ctx context.Context) error {
		_, err := q.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.QueueURL),
			ReceiptHandle: aws.String(receipt),
		})
		return err
	}), nil
}
