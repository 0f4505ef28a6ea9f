// Package rabbitmq manages the broker connection and channel lifecycle.
//
// This package includes:
//   - ConnectionManager: owns the single broker connection, reconnects on
//     drops, and runs the ordered shutdown sequence
//   - ChannelPool: publisher channels with borrow/return semantics and
//     grow-on-demand behavior under contention
//   - ConsumerChannel: dedicated long-lived channels that self-provision
//     their exchange, queue, binding, and prefetch before use
//   - TopologyBootstrapper: idempotent startup declaration of the
//     well-known events, commands, and dead-letter exchanges
//
// All broker interaction goes through the narrow Channel and Connection
// interfaces so the lifecycle logic can be exercised without a live broker.
package rabbitmq
