package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diagnosis/afyaplus/pkg/events"
	"github.com/diagnosis/afyaplus/pkg/logger"
)

// AsyncDispatcher runs each delivery in its own goroutine.
type AsyncDispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewAsyncDispatcher(notifier Notifier, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncDispatcher{notifier: notifier, timeout: timeout}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, msg Message) {
	// Detach from the request so delivery outlives the response.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		deliver(ctx, d.notifier, msg, d.timeout)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

func deliver(ctx context.Context, n Notifier, msg Message, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := n.Send(ctx, msg)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "Notification delivered", "type", msg.Type, "recipient", msg.Recipient)
	case errors.Is(err, ErrNoRoute):
		logger.DebugContext(ctx, "Notification skipped, no route", "type", msg.Type, "recipient", msg.Recipient)
	default:
		logger.ErrorContext(ctx, "Notification delivery failed", logger.Err(err), "type", msg.Type, "recipient", msg.Recipient)
	}
}

// BusDispatcher hands notifications to the notify worker over the event bus.
type BusDispatcher struct {
	publisher events.Publisher
}

func NewBusDispatcher(publisher events.Publisher) *BusDispatcher {
	return &BusDispatcher{publisher: publisher}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, msg Message) {
	event := events.NotificationEvent{
		Type:      msg.Type,
		Recipient: msg.Recipient,
		Token:     msg.Token,
		Email:     msg.Email,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      msg.Data,
	}
	if err := d.publisher.Publish(ctx, events.NotifySend, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish notification", logger.Err(err), "type", msg.Type, "recipient", msg.Recipient)
	}
}

// Worker consumes notify.send events and delivers them.
type Worker struct {
	subscriber events.Subscriber
	notifier   Notifier
	queue      string
	timeout    time.Duration
}

func NewWorker(subscriber events.Subscriber, notifier Notifier, queue string, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{subscriber: subscriber, notifier: notifier, queue: queue, timeout: timeout}
}

func (w *Worker) Start() error {
	return w.subscriber.QueueSubscribe(events.NotifySend, w.queue, w.Handle)
}

// Handle delivers a single bus message. Malformed payloads are logged and dropped.
func (w *Worker) Handle(m *events.Message) {
	var event events.NotificationEvent
	if err := m.Decode(&event); err != nil {
		logger.Error("Dropping malformed notification event", logger.Err(err), "subject", m.Subject)
		return
	}
	deliver(context.Background(), w.notifier, Message{
		Type:      event.Type,
		Recipient: event.Recipient,
		Token:     event.Token,
		Email:     event.Email,
		Title:     event.Title,
		Body:      event.Body,
		Data:      event.Data,
	}, w.timeout)
}
