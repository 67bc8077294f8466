// Package product defines the consumer contract for configuration updates
// and the registry that maps product names to registered subscribers.
//
// Delivery is two-phase: the diff engine calls Append once per changed
// config to accumulate the cycle's operations, then Publish exactly once per
// distinct subscriber after all mutations for the cycle are queued. A
// subscriber therefore observes each cycle's changes as one atomic batch,
// never partial.
package product

import "rcagent/internal/tuf"

// Subscriber is implemented by every registered product.
type Subscriber interface {
	// Append queues one configuration operation for the current cycle.
	// Content is the raw JSON config document; nil content is the removal
	// sentinel. An error marks the config apply_state=ERROR without
	// aborting the cycle.
	Append(content []byte, path string, meta tuf.ConfigMetadata) error

	// Publish hands the accumulated batch to the product. It is invoked at
	// most once per cycle, must be idempotent, and must not fail for an
	// empty pending state.
	Publish()

	// Start activates the subscriber's background delivery path. It must be
	// idempotent and must not reset accumulated state.
	Start()
}
