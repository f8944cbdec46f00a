package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgemedia/genjobs/internal/worker/domain"
)

func TestReapStalled_RequeuesAndRepublishes(t *testing.T) {
	f := newWorkerFixture()
	f.store.stalled = []domain.StalledJob{
		{JobID: testJobID, Priority: 6},
		{JobID: "7b2f1c04-55aa-4e9f-9a1d-03f6de8f3b11", Priority: 2},
	}

	f.worker.reapStalled(context.Background())

	require.Len(t, f.publisher.published, 2)
	assert.Equal(t, uint8(6), f.publisher.published[0].priority)
	assert.Contains(t, string(f.publisher.published[0].body), testJobID)
	assert.Equal(t, uint8(2), f.publisher.published[1].priority)

	assert.Empty(t, f.settler.refunds)
}

func TestReapStalled_RepublishFailureIsTolerated(t *testing.T) {
	f := newWorkerFixture()
	f.store.stalled = []domain.StalledJob{{JobID: testJobID, Priority: 4}}
	f.publisher.publishErr = errors.New("broker unavailable")

	// The row is already queued again; a later claim pass picks it up
	f.worker.reapStalled(context.Background())

	assert.Empty(t, f.publisher.published)
	assert.Empty(t, f.settler.refunds)
}

func TestReapStalled_AbandonedJobsAreRefunded(t *testing.T) {
	f := newWorkerFixture()
	f.store.abandoned = []domain.AbandonedJob{
		{JobID: testJobID, UserID: "user-1", Cost: 20},
	}

	f.worker.reapStalled(context.Background())

	require.Len(t, f.settler.refunds, 1)
	assert.Equal(t, testJobID, f.settler.refunds[0].jobID)
	assert.Equal(t, "user-1", f.settler.refunds[0].ownerID)
	assert.Equal(t, int64(20), f.settler.refunds[0].amount)
	assert.Contains(t, f.settler.refunds[0].message, "worker lost")

	assert.Empty(t, f.settler.marked)
	assert.Empty(t, f.publisher.published)
}

func TestReapStalled_AbandonedRefundFailureMarksFailed(t *testing.T) {
	f := newWorkerFixture()
	f.store.abandoned = []domain.AbandonedJob{
		{JobID: testJobID, UserID: "user-1", Cost: 20},
	}
	f.settler.refundErr = errors.New("database down")

	f.worker.reapStalled(context.Background())

	assert.Empty(t, f.settler.refunds)
	assert.Equal(t, []string{testJobID}, f.settler.marked)
}

func TestReapStalled_DuplicateSettlementTolerated(t *testing.T) {
	f := newWorkerFixture()
	f.store.abandoned = []domain.AbandonedJob{
		{JobID: testJobID, UserID: "user-1", Cost: 20},
	}
	f.settler.refundDup = true

	// The original worker settled first; the reaper just observes it
	f.worker.reapStalled(context.Background())

	require.Len(t, f.settler.refunds, 1)
	assert.Empty(t, f.settler.marked)
}

func TestReapStalled_ListFailuresDoNotPanic(t *testing.T) {
	f := newWorkerFixture()
	f.store.stalledErr = errors.New("query timeout")
	f.store.abandonedErr = errors.New("query timeout")

	f.worker.reapStalled(context.Background())

	assert.Empty(t, f.publisher.published)
	assert.Empty(t, f.settler.refunds)
}
