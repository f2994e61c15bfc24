package sqsqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	inbox    []types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		if f.received != nil {
			select {
			case f.received <- struct{}{}:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func msg(handle, body string) types.Message {
	return types.Message{ReceiptHandle: str(handle), Body: str(body)}
}

func TestEnqueueDispatchFIFODedup(t *testing.T) {
	api := &fakeSQS{}
	p := &Producer{SQS: api, QueueURL: "q.fifo", FIFO: true}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.EnqueueDispatch(context.Background(), DispatchJob{CampaignID: "cmp_1", ScheduledFor: at, EnqueuedAt: at}))
	require.NoError(t, p.EnqueueDispatch(context.Background(), DispatchJob{CampaignID: "cmp_1", ScheduledFor: at, EnqueuedAt: at.Add(time.Minute)}))

	require.Len(t, api.sent, 2)
	assert.Equal(t, "cmp_1", *api.sent[0].MessageGroupId)
	assert.Equal(t, *api.sent[0].MessageDeduplicationId, *api.sent[1].MessageDeduplicationId,
		"two sweeps of the same schedule share a dedup id")

	var job DispatchJob
	require.NoError(t, json.Unmarshal([]byte(*api.sent[0].MessageBody), &job))
	assert.Equal(t, "cmp_1", job.CampaignID)
}

func TestEnqueueDispatchStandardQueue(t *testing.T) {
	api := &fakeSQS{}
	p := &Producer{SQS: api, QueueURL: "q"}
	require.NoError(t, p.EnqueueDispatch(context.Background(), DispatchJob{CampaignID: "cmp_1"}))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func TestPollConcurrentAcksOnlyHandledJobs(t *testing.T) {
	api := &fakeSQS{
		inbox: []types.Message{
			msg("ok", `{"campaignId":"cmp_ok"}`),
			msg("fail", `{"campaignId":"cmp_fail"}`),
			msg("garbage", `not json`),
			msg("empty", `{}`),
		},
		received: make(chan struct{}, 1),
	}
	c := &Consumer{SQS: api, QueueURL: "q", MaxMessages: 10}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- c.PollConcurrent(ctx, 2, func(_ context.Context, job DispatchJob) error {
			mu.Lock()
			seen = append(seen, job.CampaignID)
			mu.Unlock()
			if job.CampaignID == "cmp_fail" {
				return assert.AnError
			}
			return nil
		})
	}()

	// second receive finds the inbox empty, so the first batch is queued
	<-api.received
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.ElementsMatch(t, []string{"cmp_ok", "cmp_fail"}, seen)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.ElementsMatch(t, []string{"ok", "garbage", "empty"}, api.deleted)
}
