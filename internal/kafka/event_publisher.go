package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"upscale-go/internal/imgtypes"
)

// upscaleEventPublisher encodes UpscaleEvents as JSON and sends them keyed by request ID.
type upscaleEventPublisher struct {
	producer MessageProducer
	topic    string
	timeout  time.Duration
}

// NewUpscaleEventPublisher wraps a MessageProducer as an imgtypes.EventPublisher.
// timeout bounds the wait for each delivery report; <= 0 waits on ctx only.
func NewUpscaleEventPublisher(producer MessageProducer, topic string, timeout time.Duration) imgtypes.EventPublisher {
	return &upscaleEventPublisher{producer: producer, topic: topic, timeout: timeout}
}

func (p *upscaleEventPublisher) Publish(ctx context.Context, event imgtypes.UpscaleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal upscale event: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var key []byte
	if event.RequestID != "" {
		key = []byte(event.RequestID)
	}
	return p.producer.SendMessage(ctx, p.topic, key, payload)
}
