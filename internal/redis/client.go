package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RequestChannel is the pub/sub channel on which a node receives channel
// protocol requests addressed to it.
func RequestChannel(nodeName string) string {
	return fmt.Sprintf("channel:req:%s", nodeName)
}

// ReplyChannel is the pub/sub channel on which a node receives replies to
// requests it issued.
func ReplyChannel(nodeName string) string {
	return fmt.Sprintf("channel:resp:%s", nodeName)
}
