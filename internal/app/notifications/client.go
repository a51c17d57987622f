// Package notifications fans batch progress events out to live subscribers.
// Delivery is best effort; the journal is the record.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"voicestudio/internal/app/batch"

	watermill "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	topic            = "progress"
	subscriberBuffer = 256
)

var _ batch.Observer = &Client{}

type Client struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func New(logger *slog.Logger) *Client {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewStdLogger(false, false))

	return &Client{
		pubsub: ps,
		logger: logger,
	}
}

func (c *Client) Notify(ev batch.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to marshal event", "err", err)
		return
	}

	if err := c.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		c.logger.Warn("failed to publish event", "err", err)
	}
}

// Subscribe streams events until ctx is done. A subscriber that falls more
// than subscriberBuffer events behind loses events instead of stalling publishers.
func (c *Client) Subscribe(ctx context.Context) (<-chan batch.Event, error) {
	msgs, err := c.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	events := make(chan batch.Event, subscriberBuffer)
	go func() {
		defer close(events)

		for msg := range msgs {
			var ev batch.Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				c.logger.Warn("dropping malformed event", "err", err)
				continue
			}

			select {
			case events <- ev:
			default:
				c.logger.Warn("subscriber too slow, dropping event", "type", ev.Type, "index", ev.Index)
			}
		}
	}()

	return events, nil
}

func (c *Client) Close() error {
	return c.pubsub.Close()
}
