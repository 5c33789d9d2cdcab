package credit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/logging"
)

type fakeBalance struct {
	mu    sync.Mutex
	value float64
	err   error
	calls int
}

func (f *fakeBalance) Balance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.value, f.err
}

func (f *fakeBalance) set(v float64) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) PublishDigest(_ context.Context, msg string) error {
	n.messages = append(n.messages, msg)
	return nil
}

var thresholds = Thresholds{Batch: 5, Single: 0.5}

func TestCanAdmitComparesAgainstThresholds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bal := &fakeBalance{value: 2}
	g := NewGate(bal, thresholds, nil, nil, logging.Discard())

	batch := g.CanAdmit(ctx, domain.OperationBatch)
	assert.False(t, batch.Can)
	assert.NotEmpty(t, batch.Reason)
	assert.Equal(t, 2.0, batch.Balance)

	single := g.CanAdmit(ctx, domain.OperationSingle)
	assert.True(t, single.Can)

	assert.False(t, g.CanAdmit(ctx, "weekly").Can)
}

func TestCanAdmitDeniesWhenBalanceUnavailable(t *testing.T) {
	t.Parallel()

	g := NewGate(&fakeBalance{value: 100, err: errors.New("timeout")}, thresholds, nil, nil, logging.Discard())

	d := g.CanAdmit(context.Background(), domain.OperationSingle)
	assert.False(t, d.Can)
	assert.Contains(t, d.Reason, "timeout")
}

func TestAdmitEnqueuesExactlyOneJobOnDenial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	notifier := &fakeNotifier{}
	g := NewGate(&fakeBalance{value: 3}, thresholds, notifier, nil, logging.Discard())

	d, job, err := g.Admit(ctx, domain.OperationBatch, 42, 0)
	require.NoError(t, err)
	require.False(t, d.Can)
	require.NotNil(t, job)
	assert.NotEmpty(t, job.ID)
	assert.NotEmpty(t, job.Reason)
	assert.Equal(t, 42, job.PendingCount)

	jobs := g.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Len(t, notifier.messages, 1)

	d, job, err = g.Admit(ctx, domain.OperationSingle, 1, 9)
	require.NoError(t, err)
	assert.True(t, d.Can)
	assert.Nil(t, job)
	assert.Len(t, g.Jobs(), 1)
}

func TestAdmitRejectsUnknownOperation(t *testing.T) {
	t.Parallel()

	g := NewGate(&fakeBalance{value: 100}, thresholds, nil, nil, logging.Discard())

	d, job, err := g.Admit(context.Background(), "weekly", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.False(t, d.Can)
	assert.Nil(t, job)
	assert.Empty(t, g.Jobs())
}

func TestAdmissibleIsFIFOAndKeepsQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bal := &fakeBalance{value: 0}
	g := NewGate(bal, thresholds, nil, nil, logging.Discard())

	first, err := g.Enqueue(ctx, domain.OperationSingle, 1, 7, "no credit")
	require.NoError(t, err)
	second, err := g.Enqueue(ctx, domain.OperationBatch, 30, 0, "no credit")
	require.NoError(t, err)
	third, err := g.Enqueue(ctx, domain.OperationSingle, 1, 8, "")
	require.NoError(t, err)
	assert.Equal(t, "queued manually", third.Reason)

	assert.Empty(t, g.Admissible(ctx))
	assert.Len(t, g.Jobs(), 3)

	bal.set(1)
	admitted := g.Admissible(ctx)
	require.Len(t, admitted, 2)
	assert.Equal(t, first.ID, admitted[0].ID)
	assert.Equal(t, third.ID, admitted[1].ID)

	// nothing leaves the queue until the caller commits
	left := g.Jobs()
	require.Len(t, left, 3)
	assert.Equal(t, second.ID, left[1].ID)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := NewGate(&fakeBalance{}, thresholds, nil, nil, logging.Discard())

	job, err := g.Enqueue(ctx, domain.OperationBatch, 10, 0, "manual")
	require.NoError(t, err)

	require.NoError(t, g.Remove(job.ID))
	assert.Empty(t, g.Jobs())
	assert.True(t, errors.Is(g.Remove(job.ID), ErrJobNotFound))

	_, err = g.Enqueue(ctx, "weekly", 1, 0, "x")
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bal := &fakeBalance{value: 1}
	g := NewGate(bal, thresholds, nil, nil, logging.Discard())

	s := g.Status(ctx)
	assert.Equal(t, 1.0, s.Balance)
	assert.False(t, s.CanProcessBatch)
	assert.True(t, s.CanProcessSingle)
	assert.NotEmpty(t, s.Reason)
	assert.Equal(t, 1, bal.calls)

	bal.set(10)
	s = g.Status(ctx)
	assert.True(t, s.CanProcessBatch)
}
