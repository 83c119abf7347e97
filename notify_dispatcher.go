package authcore

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// notifyDispatcher decouples notification delivery from the request
// path: Dispatch never blocks the caller beyond channel admission, and
// sender failures are logged, not returned. A nil dispatcher (the
// disabled state) accepts and drops everything.
type notifyDispatcher struct {
	cfg       NotifyConfig
	sender    NotificationSender
	ch        chan Notification
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, sender NotificationSender) *notifyDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sender == nil {
		sender = NoOpSender{}
	}

	d := &notifyDispatcher{
		cfg:    cfg,
		sender: sender,
		ch:     make(chan Notification, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *notifyDispatcher) deliver(n Notification) {
	if err := d.sender.Send(context.Background(), n); err != nil {
		log.Printf("authcore: notification %s to %s failed: %v", n.Template, n.To, err)
	}
}

// Dispatch enqueues n. With DropIfFull the call never blocks; the
// dropped counter records what backpressure cost.
func (d *notifyDispatcher) Dispatch(ctx context.Context, n Notification) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- n:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- n:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close drains the queue and stops the worker. Idempotent.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports notifications lost to backpressure.
func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
