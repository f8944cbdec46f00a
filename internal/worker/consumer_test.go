package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/forgemedia/genjobs/internal/worker/domain"
)

func TestParseJobMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "valid message", body: `{"job_id":"` + testJobID + `"}`, want: testJobID},
		{name: "malformed json", body: `not json`},
		{name: "missing job_id", body: `{}`},
		{name: "non-uuid job_id", body: `{"job_id":"not-a-uuid"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobID, err := parseJobMessage([]byte(tt.body))
			if tt.want != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, jobID)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidPayload))
		})
	}
}

func TestStartMessageDispatcher(t *testing.T) {
	t.Run("valid message is dispatched to the pool", func(t *testing.T) {
		f := newWorkerFixture()

		deliveries := make(chan amqp.Delivery, 1)
		deliveries <- amqp.Delivery{
			Body:        []byte(`{"job_id":"` + testJobID + `"}`),
			DeliveryTag: 7,
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go f.worker.startMessageDispatcher(ctx, deliveries)

		select {
		case msg := <-f.worker.jobsChan:
			assert.Equal(t, testJobID, msg.JobID)
			assert.Equal(t, uint64(7), msg.DeliveryTag)
		case <-time.After(time.Second):
			t.Fatal("expected job to be dispatched")
		}
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		f := newWorkerFixture()

		deliveries := make(chan amqp.Delivery, 2)
		deliveries <- amqp.Delivery{Body: []byte(`not json`)}
		deliveries <- amqp.Delivery{
			Body:        []byte(`{"job_id":"` + testJobID + `"}`),
			DeliveryTag: 8,
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go f.worker.startMessageDispatcher(ctx, deliveries)

		// The dispatcher skips the malformed delivery and reaches the next one
		select {
		case msg := <-f.worker.jobsChan:
			assert.Equal(t, testJobID, msg.JobID)
		case <-time.After(time.Second):
			t.Fatal("expected dispatcher to skip past the malformed message")
		}
	})

	t.Run("non-uuid job id is dropped", func(t *testing.T) {
		f := newWorkerFixture()

		deliveries := make(chan amqp.Delivery, 2)
		deliveries <- amqp.Delivery{Body: []byte(`{"job_id":"not-a-uuid"}`)}
		deliveries <- amqp.Delivery{
			Body:        []byte(`{"job_id":"` + testJobID + `"}`),
			DeliveryTag: 9,
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go f.worker.startMessageDispatcher(ctx, deliveries)

		select {
		case msg := <-f.worker.jobsChan:
			assert.Equal(t, testJobID, msg.JobID)
		case <-time.After(time.Second):
			t.Fatal("expected dispatcher to skip past the invalid job id")
		}
	})

	t.Run("closed delivery channel stops the dispatcher", func(t *testing.T) {
		f := newWorkerFixture()

		deliveries := make(chan amqp.Delivery)
		close(deliveries)

		done := make(chan struct{})
		go func() {
			f.worker.startMessageDispatcher(context.Background(), deliveries)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected dispatcher to return when deliveries close")
		}
	})

	t.Run("stop signal halts dispatch", func(t *testing.T) {
		f := newWorkerFixture()

		deliveries := make(chan amqp.Delivery)

		done := make(chan struct{})
		go func() {
			f.worker.startMessageDispatcher(context.Background(), deliveries)
			close(done)
		}()

		close(f.worker.stopChan)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected dispatcher to return on stop")
		}
	})
}

func TestJobStartRateLimit(t *testing.T) {
	// Two tokens of burst, then one token per interval: the third dispatch
	// must wait for a refill
	f := newWorkerFixture()
	f.worker.limiter = rate.NewLimiter(20, 2)

	deliveries := make(chan amqp.Delivery, 3)
	for i := 0; i < 3; i++ {
		deliveries <- amqp.Delivery{
			Body:        []byte(`{"job_id":"` + testJobID + `"}`),
			DeliveryTag: uint64(i),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.worker.startMessageDispatcher(ctx, deliveries)

	start := time.Now()
	for i := 0; i < 3; i++ {
		select {
		case <-f.worker.jobsChan:
		case <-time.After(2 * time.Second):
			t.Fatal("expected all deliveries to dispatch")
		}
	}

	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
