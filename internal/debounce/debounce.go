// Package debounce coalesces bursts of change notifications into a single
// call fired after a quiet period.
package debounce

import (
	"context"
	"sync"
	"time"
)

const DefaultDelay = time.Second

// Debouncer owns one consumer goroutine (Run). Every Notify resets the quiet
// timer, and only the most recent value is handed to fire.
type Debouncer[T any] struct {
	delay time.Duration
	in    chan T
	fire  func(context.Context, T)

	closed    chan struct{}
	closeOnce sync.Once
}

func New[T any](delay time.Duration, fire func(context.Context, T)) *Debouncer[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer[T]{
		delay:  delay,
		in:     make(chan T, 16),
		fire:   fire,
		closed: make(chan struct{}),
	}
}

// Notify queues v. It returns false if ctx ended or the debouncer was
// closed before the value was accepted.
func (d *Debouncer[T]) Notify(ctx context.Context, v T) bool {
	select {
	case <-d.closed:
		return false
	default:
	}
	select {
	case d.in <- v:
		return true
	case <-d.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close makes Run fire the pending value, if any, without waiting out the
// quiet period and return nil. Once Run has returned fire is never called
// again.
func (d *Debouncer[T]) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

// Run consumes notifications until ctx is done. fire runs on this goroutine.
func (d *Debouncer[T]) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		latest  T
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.closed:
			if v, ok := d.drain(); ok {
				latest, pending = v, true
			}
			if pending {
				d.fire(ctx, latest)
			}
			return nil
		case v := <-d.in:
			latest, pending = v, true
			if timer == nil {
				timer = time.NewTimer(d.delay)
			} else {
				timer.Reset(d.delay)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if pending {
				pending = false
				d.fire(ctx, latest)
			}
		}
	}
}

// drain empties the queue and returns the newest value in it.
func (d *Debouncer[T]) drain() (last T, ok bool) {
	for {
		select {
		case v := <-d.in:
			last, ok = v, true
		default:
			return last, ok
		}
	}
}
