package notify

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/afyaplus/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerNotifier stops calling a failing gateway for a while instead of
// piling up slow sends.
type BreakerNotifier struct {
	next    Notifier
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerNotifier(name string, next Notifier, failures uint32, openFor time.Duration) *BreakerNotifier {
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoRoute) || errors.Is(err, ErrStaleToken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerNotifier{next: next, breaker: cb}
}

func (b *BreakerNotifier) Send(ctx context.Context, msg Message) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, msg)
	})
	return err
}

func (b *BreakerNotifier) State() gobreaker.State {
	return b.breaker.State()
}
