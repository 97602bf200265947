package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "battle."

// Channel returns the Redis channel for a room.
func Channel(roomID string) string { return channelPrefix + roomID }

// RedisStream publishes events on battle.<room> channels so that several
// server instances share one event flow. Incoming messages are fanned out
// to local subscribers through a Broker.
type RedisStream struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *Broker
	logger *slog.Logger
}

// NewRedisStream pattern-subscribes to every room channel. Call Run to
// start delivering.
func NewRedisStream(ctx context.Context, client *redis.Client, logger *slog.Logger) *RedisStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{
		client: client,
		pubsub: client.PSubscribe(ctx, channelPrefix+"*"),
		local:  NewBroker(logger),
		logger: logger,
	}
}

func (r *RedisStream) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel(e.RoomID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisStream) Subscribe(ctx context.Context, roomID string) (<-chan Event, func()) {
	return r.local.Subscribe(ctx, roomID)
}

// Run reads from Redis until ctx ends or the subscription is closed.
func (r *RedisStream) Run(ctx context.Context) {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			e, err := decodeMessage(msg.Channel, msg.Payload)
			if err != nil {
				r.logger.Warn("discarding stream message", "channel", msg.Channel, "err", err)
				continue
			}
			r.local.Publish(ctx, e)
		}
	}
}

func (r *RedisStream) Close() error {
	return r.pubsub.Close()
}

func decodeMessage(channel, payload string) (Event, error) {
	roomID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || roomID == "" {
		return Event{}, fmt.Errorf("unexpected channel %q", channel)
	}
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, err
	}
	if e.RoomID == "" {
		e.RoomID = roomID
	}
	if e.RoomID != roomID {
		return Event{}, fmt.Errorf("event for room %s on channel %s", e.RoomID, channel)
	}
	return e, nil
}
