package sdruntime

import (
	"context"
	"fmt"
	"sync"
)

// PooledContext is a Context checked out of a ContextPool.
type PooledContext struct {
	*Context
	poolID int
	inUse  bool
}

// ID returns the pool-local identifier of this context.
func (pc *PooledContext) ID() int {
	return pc.poolID
}

// ContextPool shares up to maxSize contexts built from one ContextParams.
// Contexts are created on first demand and kept for reuse. Safe for
// concurrent use.
//
// Capacity is a bucket of tokens: a caller holds one token per checked-out
// context, so at most maxSize contexts exist at any time.
type ContextPool struct {
	params ContextParams
	tokens chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	idle    []*PooledContext
	created int
	nextID  int
	closed  bool

	// newContext is swapped in tests to count or fail context creation.
	newContext func(ContextParams) (*Context, error)
}

// NewContextPool creates a pool that holds at most maxSize contexts.
// No model is loaded until the first Acquire.
func NewContextPool(maxSize int, params ContextParams) (*ContextPool, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: pool size %d must be positive", ErrInvalidParams, maxSize)
	}
	if err := ValidateContextParams(params); err != nil {
		return nil, err
	}

	p := &ContextPool{
		params:     params,
		tokens:     make(chan struct{}, maxSize),
		done:       make(chan struct{}),
		newContext: NewContext,
	}
	for i := 0; i < maxSize; i++ {
		p.tokens <- struct{}{}
	}
	return p, nil
}

// Generate checks out a context, runs params through it and checks it back in.
//
// Error cases:
//   - ErrInvalidParams / ErrInvalidPrompt: parameters fail validation
//   - ErrAcquireTimeout: ctx ended while waiting for a free context
//   - ErrContextPoolClosed: pool has been closed
//   - anything returned by (*Context).Generate
func (p *ContextPool) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	if err := ValidateParams(params.normalized()); err != nil {
		return nil, err
	}

	pc, err := p.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire context: %w", err)
	}
	defer p.Release(pc)

	return pc.Generate(ctx, params)
}

// Acquire waits for capacity, then hands out the most recently released
// context or loads a new one.
func (p *ContextPool) Acquire(ctx context.Context) (*PooledContext, error) {
	if p.IsClosed() {
		return nil, ErrContextPoolClosed
	}

	select {
	case <-p.tokens:
	case <-p.done:
		return nil, ErrContextPoolClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrContextPoolClosed
	}
	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		pc.inUse = true
		p.mu.Unlock()
		return pc, nil
	}
	p.created++
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	sdCtx, err := p.newContext(p.params)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, err
	}
	return &PooledContext{Context: sdCtx, poolID: id, inUse: true}, nil
}

// Release checks pc back in. After Close the context is freed instead.
// Nil and already-released contexts are ignored.
func (p *ContextPool) Release(pc *PooledContext) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	if !pc.inUse {
		p.mu.Unlock()
		return
	}
	pc.inUse = false
	if p.closed {
		p.created--
		p.mu.Unlock()
		pc.Close()
		return
	}
	p.idle = append(p.idle, pc)
	p.mu.Unlock()

	p.tokens <- struct{}{}
}

// Close frees every idle context and fails pending and future Acquire calls.
// Checked-out contexts are freed as they are released. Close is idempotent.
func (p *ContextPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)
	p.mu.Unlock()

	for _, pc := range idle {
		pc.Close()
	}
	return nil
}

// Size returns the number of idle contexts.
func (p *ContextPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Created returns the number of live contexts, idle or checked out.
func (p *ContextPool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// MaxSize returns the pool capacity.
func (p *ContextPool) MaxSize() int {
	return cap(p.tokens)
}

// IsClosed reports whether Close has been called.
func (p *ContextPool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ModelPath returns the model every pooled context loads.
func (p *ContextPool) ModelPath() string {
	return p.params.ModelPath
}

// Params returns the context parameters every pooled context is created with.
func (p *ContextPool) Params() ContextParams {
	return p.params
}
