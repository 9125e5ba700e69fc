package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisPubSub 实现，多个观察端（看板、采集器）订阅同一事件流时使用
type RedisPubSub struct {
	client  *redis.Client
	ctx     context.Context
	cancel  context.CancelFunc
	channel string
}

var EventChannel = "webauto_events"

func NewRedisTransport(addr, password string, db int) (*RedisPubSub, error) {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		IdleTimeout:  5 * time.Minute,
	})

	// 验证连接
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}

	return &RedisPubSub{
		client:  client,
		ctx:     ctx,
		cancel:  cancel,
		channel: EventChannel,
	}, nil
}

func (rs *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return rs.client.Publish(ctx, rs.channel, data).Err()
}

func (rs *RedisPubSub) Subscribe(ctx context.Context) (<-chan *Event, error) {
	ch := make(chan *Event, 100)
	pubsub := rs.client.Subscribe(ctx, rs.channel)

	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err == nil {
					select {
					case ch <- &event:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			case <-rs.ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (rs *RedisPubSub) Close() error {
	rs.cancel()
	return rs.client.Close()
}
