// Package queue carries notifications over RabbitMQ: the Publisher hands
// messages to the broker and the Consumer delivers them to the mail
// outbox.
package queue

// DefaultQueue is the durable queue notifications travel through.
const DefaultQueue = "notifications.outbound"

// Notification is the message body published for every outgoing notice.
// It holds everything the delivering side needs, so the consumer never
// queries the primary database.
type Notification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	QueuedAt  string `json:"queued_at"`
}
