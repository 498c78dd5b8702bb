package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// DefaultRedisPrefix namespaces the keys written by Redis.
const DefaultRedisPrefix = "chatroom:"

// Redis keeps message bodies in a hash keyed by id and the send order in a
// list, newest at the head.
type Redis struct {
	client      *redis.Client
	messagesKey string
	timelineKey string
}

var _ chat.MessageStore = (*Redis)(nil)

// NewRedis returns a store using client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		client:      client,
		messagesKey: prefix + "messages",
		timelineKey: prefix + "timeline",
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Append implements chat.MessageStore.
func (r *Redis) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	prepare(&msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.messagesKey, msg.ID, data)
		pipe.LPush(ctx, r.timelineKey, msg.ID)
		return nil
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// Get implements chat.MessageStore.
func (r *Redis) Get(ctx context.Context, id string) (chat.Message, error) {
	return r.get(ctx, r.client, id)
}

func (r *Redis) get(ctx context.Context, c redis.HashCmdable, id string) (chat.Message, error) {
	data, err := c.HGet(ctx, r.messagesKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrNotFound, id)
		}
		return chat.Message{}, fmt.Errorf("failed to find message: %w", err)
	}
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return chat.Message{}, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return msg, nil
}

// SoftDelete implements chat.MessageStore.
func (r *Redis) SoftDelete(ctx context.Context, id, byUserID string) (chat.Message, error) {
	var deleted chat.Message
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		msg, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		markDeleted(&msg, byUserID)
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.messagesKey, id, data)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = msg
		return nil
	}, r.messagesKey)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Message{}, err
		}
		return chat.Message{}, fmt.Errorf("failed to delete message: %w", err)
	}
	return deleted, nil
}

// ListRecent implements chat.MessageStore.
func (r *Redis) ListRecent(ctx context.Context, limit int) ([]chat.Message, error) {
	out := make([]chat.Message, 0, max(limit, 0))
	if limit <= 0 {
		return out, nil
	}

	page := int64(max(limit, 50))
	for start := int64(0); len(out) < limit; start += page {
		ids, err := r.client.LRange(ctx, r.timelineKey, start, start+page-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		values, err := r.client.HMGet(ctx, r.messagesKey, ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var msg chat.Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				return nil, fmt.Errorf("failed to decode message: %w", err)
			}
			if msg.Deleted {
				continue
			}
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// PurgeAll implements chat.MessageStore.
func (r *Redis) PurgeAll(ctx context.Context) error {
	if err := r.client.Del(ctx, r.messagesKey, r.timelineKey).Err(); err != nil {
		return fmt.Errorf("failed to purge messages: %w", err)
	}
	return nil
}
