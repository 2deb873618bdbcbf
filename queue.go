package bulletin

import "context"

// QueueService delivers messages published to a topic.
type QueueService interface {
	Consume(ctx context.Context, topic string) (<-chan []byte, error)
}

// DispatchTopic is the default topic that triggers scheduled dispatches.
const DispatchTopic = "newsletter.dispatch"

// DispatchCommand is the payload of a message on DispatchTopic
type DispatchCommand struct {
	RunType string `json:"runType"`
}
