package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

const (
	defaultQueueSize      = 256
	defaultWorkers        = 2
	defaultPublishTimeout = 10 * time.Second
)

var (
	// ErrQueueFull reports that a notification was dropped because the buffer is saturated.
	ErrQueueFull = errors.New("jobs: notification queue full")
	// ErrDispatcherClosed reports an enqueue after Close.
	ErrDispatcherClosed = errors.New("jobs: dispatcher closed")
)

// DispatcherOptions tunes the notification dispatcher.
type DispatcherOptions struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Dispatcher buffers lifecycle notifications and publishes them from a fixed worker pool.
// Enqueueing never blocks the caller.
type Dispatcher struct {
	publisher Publisher
	queue     chan NotificationMessage
	workers   int
	timeout   time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher around the given publisher. Call Start before use.
func NewDispatcher(publisher Publisher, opts DispatcherOptions) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("jobs dispatcher: publisher is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Dispatcher{
		publisher: publisher,
		queue:     make(chan NotificationMessage, size),
		workers:   workers,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Start launches the worker pool. Workers exit once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	base := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(base)
	}
}

// Close stops accepting notifications and waits for queued ones to be published
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyOrderCreated queues an order.created event.
func (d *Dispatcher) NotifyOrderCreated(ctx context.Context, order domain.Order) error {
	return d.enqueue(ctx, orderMessage(EventOrderCreated, order, d.clock()))
}

// NotifyOrderStatusChanged queues an order.status_changed event.
func (d *Dispatcher) NotifyOrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error {
	msg := orderMessage(EventOrderStatusChanged, order, d.clock())
	msg.PreviousStatus = string(previous)
	return d.enqueue(ctx, msg)
}

// NotifyReturnStatusChanged queues a return.status_changed event.
func (d *Dispatcher) NotifyReturnStatusChanged(ctx context.Context, req domain.ReturnRequest, previous domain.ReturnStatus) error {
	return d.enqueue(ctx, NotificationMessage{
		Type:           EventReturnStatusChanged,
		OrderID:        req.OrderID,
		RequestID:      req.ID,
		UserID:         req.UserID,
		Status:         string(req.Status),
		PreviousStatus: string(previous),
		RequestType:    string(req.Type),
		OccurredAt:     d.clock(),
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, msg NotificationMessage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger(ctx, "notify.dropped", map[string]any{
			"type":    msg.Type,
			"orderId": msg.OrderID,
		})
		return ErrQueueFull
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for msg := range d.queue {
		publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
		id, err := d.publisher.Publish(publishCtx, msg)
		cancel()
		if err != nil {
			d.logger(ctx, "notify.publish.failed", map[string]any{
				"type":    msg.Type,
				"orderId": msg.OrderID,
				"error":   err.Error(),
			})
			continue
		}
		d.logger(ctx, "notify.published", map[string]any{
			"type":      msg.Type,
			"orderId":   msg.OrderID,
			"messageId": id,
		})
	}
}

func orderMessage(event string, order domain.Order, now time.Time) NotificationMessage {
	msg := NotificationMessage{
		Type:       event,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Total,
		Currency:   order.Currency,
		OccurredAt: now,
	}
	if order.TrackingNumber != nil {
		msg.TrackingNumber = *order.TrackingNumber
	}
	return msg
}
