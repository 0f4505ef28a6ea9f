// Package messaging connects business collaborators to the broker layer.
//
// Collaborators publish opaque event envelopes through EventPublisher, which
// borrows channels from the publisher pool, and register handler functions in
// the Dispatcher's explicit registration table. The Subscriber runs one
// consumer loop per provisioned consumer channel and pushes every delivery
// through the retrying handler wrapper before deciding its disposition.
package messaging
