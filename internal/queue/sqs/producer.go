package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the part of *sqs.Client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// DispatchJob asks a worker to trigger one campaign.
type DispatchJob struct {
	CampaignID   string    `json:"campaignId"`
	ScheduledFor time.Time `json:"scheduledFor,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

type Producer struct {
	SQS      API
	QueueURL string
	// FIFO enables MessageGroupId/MessageDeduplicationId for .fifo queues.
	FIFO bool
}

func (p *Producer) EnqueueDispatch(ctx context.Context, job DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if p.FIFO {
		// one group per campaign; repeated sweeps of the same schedule collapse
		in.MessageGroupId = str(job.CampaignID)
		in.MessageDeduplicationId = str(dedupID(job))
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func dedupID(job DispatchJob) string {
	if job.ScheduledFor.IsZero() {
		return fmt.Sprintf("%s:manual:%d", job.CampaignID, job.EnqueuedAt.Unix())
	}
	return fmt.Sprintf("%s:%d", job.CampaignID, job.ScheduledFor.Unix())
}

func str(s string) *string { return &s }
