package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter/internal/dispatch"
	"newsletter/internal/domain"
	sqsqueue "newsletter/internal/queue/sqs"
	"newsletter/internal/store/memory"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, st *memory.Store, id string, status domain.CampaignStatus, at *time.Time) {
	t.Helper()
	require.NoError(t, st.InsertCampaign(context.Background(), domain.Campaign{
		ID: id, Subject: id, Content: "c", Status: status, ScheduledFor: at, CreatedAt: now, UpdatedAt: now,
	}))
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeTrigger) Trigger(_ context.Context, id string) (dispatch.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return dispatch.Outcome{}, err
	}
	return dispatch.Outcome{CampaignID: id, Status: domain.StatusSent}, nil
}

type fakeEnqueuer struct{ jobs []sqsqueue.DispatchJob }

func (f *fakeEnqueuer) EnqueueDispatch(_ context.Context, job sqsqueue.DispatchJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func TestRunTriggersOnlyDueScheduled(t *testing.T) {
	st := memory.New()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)
	seed(t, st, "due", domain.StatusScheduled, &past)
	seed(t, st, "raced", domain.StatusScheduled, &past)
	seed(t, st, "broken", domain.StatusScheduled, &past)
	seed(t, st, "later", domain.StatusScheduled, &future)
	seed(t, st, "draft", domain.StatusDraft, nil)

	tr := &fakeTrigger{errs: map[string]error{
		"raced":  domain.ErrDuplicateSend,
		"broken": &domain.RecipientFetchError{Err: assert.AnError},
	}}
	s := &Sweeper{Store: st, Trigger: tr, Now: func() time.Time { return now }}

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 3, Triggered: 1, Skipped: 1, Failed: 1}, res)
	assert.ElementsMatch(t, []string{"due", "raced", "broken"}, tr.calls)
}

func TestRunEnqueuesInQueueMode(t *testing.T) {
	st := memory.New()
	past := now.Add(-time.Minute)
	seed(t, st, "due", domain.StatusScheduled, &past)

	q := &fakeEnqueuer{}
	s := &Sweeper{Store: st, Enqueuer: q, Now: func() time.Time { return now }}
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, "due", q.jobs[0].CampaignID)
	assert.True(t, q.jobs[0].ScheduledFor.Equal(past))
}
