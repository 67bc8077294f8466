package product

import (
	"sync"

	"rcagent/internal/tuf"
)

// Update is one configuration operation delivered to a product callback.
// Content is the raw JSON document, nil for removals.
type Update struct {
	Content  []byte
	Path     string
	Metadata tuf.ConfigMetadata
}

// Callback consumes one cycle's batch of updates on the pipeline's
// background goroutine.
type Callback func(batch []Update)

// Pipeline is the standard Subscriber implementation: Append accumulates
// operations under a lock, Publish flushes them as one batch onto a channel,
// and a background goroutine (activated by Start) drains the channel into
// the product callback.
//
// A new cycle may Publish before the callback finished a prior batch; the
// channel buffer absorbs that, and callback implementations own any further
// synchronization.
type Pipeline struct {
	name     string
	callback Callback

	mu      sync.Mutex
	pending []Update
	started bool

	batches chan []Update
	done    chan struct{}
}

// NewPipeline creates a pipeline for the named product.
func NewPipeline(name string, cb Callback) *Pipeline {
	return &Pipeline{
		name:     name,
		callback: cb,
		batches:  make(chan []Update, 16),
		done:     make(chan struct{}),
	}
}

// Name returns the product name the pipeline was created for.
func (p *Pipeline) Name() string { return p.name }

// Append queues one operation for the current cycle.
func (p *Pipeline) Append(content []byte, path string, meta tuf.ConfigMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, Update{Content: content, Path: path, Metadata: meta})
	return nil
}

// Publish flushes the pending operations as one atomic batch. Publishing
// with nothing pending is a no-op.
func (p *Pipeline) Publish() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	p.batches <- batch
}

// Start launches the background delivery goroutine. Calling Start on a
// running pipeline is a no-op and never resets accumulated state.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	// Capture under the lock: Stop replaces p.done, and the goroutine must
	// keep watching the channel that belongs to its own activation.
	done := p.done
	go func() {
		for {
			select {
			case batch := <-p.batches:
				p.callback(batch)
			case <-done:
				return
			}
		}
	}()
}

// Stop terminates the delivery goroutine. Batches still in flight are
// dropped; Stop is for process shutdown, not cycle control.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.done)
	p.done = make(chan struct{})
}

// Pending returns how many operations are accumulated but not yet published.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
