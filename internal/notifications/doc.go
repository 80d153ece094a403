// Package notifications pushes farm run events to an ntfy topic.
//
// Notifier implements the orchestrator's run Recorder contract, so it rides
// the same ordered background queue as run history. When no topic is
// configured NewNotifier returns nil and nothing is sent. Delivery failures
// are logged and never surface to the orchestrator.
package notifications
