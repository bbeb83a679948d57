package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/diagnosis/afyaplus/pkg/notify"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetDefault(logger.New(io.Discard, "error"))
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestAsyncDispatcher_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int32
	slow := notify.NotifierFunc(func(ctx context.Context, msg notify.Message) error {
		<-release
		delivered.Add(1)
		return errors.New("gateway down")
	})

	d := notify.NewAsyncDispatcher(slow, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Dispatch(ctx, notify.Message{Type: "new_offer"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on delivery")
	}

	// Request context ending must not abort the delivery.
	cancel()
	close(release)
	d.Wait()
	assert.Equal(t, int32(1), delivered.Load())
}

func TestRouter(t *testing.T) {
	ctx := context.Background()

	t.Run("push preferred", func(t *testing.T) {
		push, email := &recorder{}, &recorder{}
		r := &notify.Router{Push: push, Email: email}

		require.NoError(t, r.Send(ctx, notify.Message{Token: "tok", Email: "a@b.tz"}))
		assert.Equal(t, 1, push.count())
		assert.Equal(t, 0, email.count())
	})

	t.Run("stale token falls back to email", func(t *testing.T) {
		push, email := &recorder{err: notify.ErrStaleToken}, &recorder{}
		r := &notify.Router{Push: push, Email: email}

		require.NoError(t, r.Send(ctx, notify.Message{Token: "tok", Email: "a@b.tz"}))
		assert.Equal(t, 1, email.count())
	})

	t.Run("other push errors surface", func(t *testing.T) {
		push, email := &recorder{err: errors.New("boom")}, &recorder{}
		r := &notify.Router{Push: push, Email: email}

		assert.Error(t, r.Send(ctx, notify.Message{Token: "tok", Email: "a@b.tz"}))
		assert.Equal(t, 0, email.count())
	})

	t.Run("email only", func(t *testing.T) {
		email := &recorder{}
		r := &notify.Router{Email: email}

		require.NoError(t, r.Send(ctx, notify.Message{Email: "a@b.tz"}))
		assert.Equal(t, 1, email.count())
	})

	t.Run("no route", func(t *testing.T) {
		r := &notify.Router{Push: &recorder{}, Email: &recorder{}}
		assert.ErrorIs(t, r.Send(ctx, notify.Message{}), notify.ErrNoRoute)
	})
}

func TestBreakerNotifier_OpensAfterFailures(t *testing.T) {
	failing := &recorder{err: errors.New("unavailable")}
	b := notify.NewBreakerNotifier("test", failing, 2, time.Minute)
	ctx := context.Background()

	assert.Error(t, b.Send(ctx, notify.Message{}))
	assert.Error(t, b.Send(ctx, notify.Message{}))
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Send(ctx, notify.Message{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, failing.count(), "open breaker short-circuits")
}

func TestBreakerNotifier_StaleTokensDoNotTrip(t *testing.T) {
	stale := &recorder{err: notify.ErrStaleToken}
	b := notify.NewBreakerNotifier("stale", stale, 2, time.Minute)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Send(context.Background(), notify.Message{}), notify.ErrStaleToken)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

type fakeBus struct {
	mu        sync.Mutex
	published []*events.Message
	handler   func(*events.Message)
	queue     string
}

func (b *fakeBus) Publish(_ context.Context, subject string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, &events.Message{Subject: subject, Data: raw})
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func(*events.Message)) error {
	b.handler = handler
	return nil
}

func (b *fakeBus) QueueSubscribe(subject, queue string, handler func(*events.Message)) error {
	b.queue = queue
	b.handler = handler
	return nil
}

func (b *fakeBus) Close() error { return nil }

func TestBusDispatcherAndWorker(t *testing.T) {
	bus := &fakeBus{}
	sink := &recorder{}

	worker := notify.NewWorker(bus, sink, "notify-workers", time.Second)
	require.NoError(t, worker.Start())
	assert.Equal(t, "notify-workers", bus.queue)

	notify.NewBusDispatcher(bus).Dispatch(context.Background(), notify.Message{
		Type:      "offer_accepted",
		Recipient: 7,
		Token:     "tok",
		Title:     "Offer Accepted",
		Body:      "Your offer was accepted by the patient.",
		Data:      map[string]string{"offer_id": "3"},
	})
	require.Len(t, bus.published, 1)
	assert.Equal(t, events.NotifySend, bus.published[0].Subject)

	bus.handler(bus.published[0])
	require.Equal(t, 1, sink.count())
	got := sink.msgs[0]
	assert.Equal(t, int64(7), got.Recipient)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, "3", got.Data["offer_id"])

	// Malformed payloads are dropped.
	bus.handler(&events.Message{Subject: events.NotifySend, Data: []byte("{")})
	assert.Equal(t, 1, sink.count())
}
