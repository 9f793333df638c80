package messaging

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub adapts a go-redis client to PubSubClient.
type RedisPubSub struct {
	client redis.UniversalClient
}

// NewRedisPubSub wraps client.
func NewRedisPubSub(client redis.UniversalClient) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish publishes payload on channel.
func (p *RedisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Subscribe subscribes to channel. The returned channel is closed when ctx is
// done.
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channel)
	// wait for the subscription confirmation so connection errors surface here
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
