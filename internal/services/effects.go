package services

import (
	"context"
	"sync"

	"github.com/hanko-field/commerce/internal/repositories"
)

type effectsKey struct{}

type effectQueue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *effectQueue) reset() {
	q.mu.Lock()
	q.fns = nil
	q.mu.Unlock()
}

func (q *effectQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	fns := q.fns
	q.fns = nil
	return fns
}

// runWithEffects runs fn inside unit and, once the outermost unit commits, runs the effects fn
// queued through afterCommit. Nested calls join the outer queue. Every attempt of a retried
// transaction starts with an empty queue.
func runWithEffects(ctx context.Context, unit repositories.UnitOfWork, fn func(context.Context) error) error {
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	if _, nested := ctx.Value(effectsKey{}).(*effectQueue); nested {
		return unit.RunInTx(ctx, fn)
	}
	queue := &effectQueue{}
	ctx = context.WithValue(ctx, effectsKey{}, queue)
	err := unit.RunInTx(ctx, func(txCtx context.Context) error {
		queue.reset()
		return fn(txCtx)
	})
	if err != nil {
		queue.reset()
		return err
	}
	for _, effect := range queue.drain() {
		effect()
	}
	return nil
}

// afterCommit queues fn on ctx's effect queue, or runs it immediately when there is none.
func afterCommit(ctx context.Context, fn func()) {
	if queue, ok := ctx.Value(effectsKey{}).(*effectQueue); ok {
		queue.mu.Lock()
		queue.fns = append(queue.fns, fn)
		queue.mu.Unlock()
		return
	}
	fn()
}
