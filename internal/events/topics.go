package events

// Topic constants for domain events emitted by the payment service.
const (
	// TopicOrderPaymentSettled is emitted once per order when the gateway
	// reports the payment as succeeded or waiting for capture.
	TopicOrderPaymentSettled = "order:payment:settled"
)

