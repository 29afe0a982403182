package redis

import (
	"context"

	"github.com/rs/zerolog/log"
)

const transportBuffer = 100

// Transport routes channel protocol envelopes over Redis pub/sub. Each node
// listens on its own request and reply channels and publishes to the
// peer's.
type Transport struct {
	client   *Client
	nodeName string
}

func NewTransport(client *Client, nodeName string) *Transport {
	return &Transport{client: client, nodeName: nodeName}
}

func (t *Transport) SendRequest(ctx context.Context, peer string, data []byte) error {
	return t.client.Publish(ctx, RequestChannel(peer), data).Err()
}

func (t *Transport) SendReply(ctx context.Context, peer string, data []byte) error {
	return t.client.Publish(ctx, ReplyChannel(peer), data).Err()
}

func (t *Transport) Requests(ctx context.Context) (<-chan []byte, error) {
	return t.subscribe(ctx, RequestChannel(t.nodeName))
}

func (t *Transport) Replies(ctx context.Context) (<-chan []byte, error) {
	return t.subscribe(ctx, ReplyChannel(t.nodeName))
}

func (t *Transport) subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	log.Debug().Str("channel", channel).Msg("redis pubsub subscribed")

	out := make(chan []byte, transportBuffer)
	go func() {
		defer pubsub.Close()
		defer close(out)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					log.Warn().Str("channel", channel).Msg("transport buffer full, dropping envelope")
				}
			}
		}
	}()

	return out, nil
}
