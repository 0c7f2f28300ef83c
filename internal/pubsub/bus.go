// Package pubsub fans application events out to the case-working
// console: Redis pub/sub for live delivery, Redis Streams for replay
// after a dropped connection.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConsoleChannel carries every application event, for the triage queue
// view. Per-application channels carry just that case's events.
const ConsoleChannel = "console"

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	ctx     context.Context
	hub     Hub
	streams *Streams
}

// Hub receives events for connected websocket clients.
type Hub interface {
	Broadcast(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		log:     log,
		ctx:     context.Background(),
		streams: NewStreams(rdb, log),
	}
}

func (b *Bus) SetHub(hub Hub) {
	b.hub = hub
}

func (b *Bus) GetStreams() *Streams {
	return b.streams
}

// PublishApplication publishes an event on the application's own channel
// and mirrors it to the console feed.
func (b *Bus) PublishApplication(reference string, event map[string]interface{}) error {
	if err := b.publish("application:"+reference, event); err != nil {
		return err
	}
	return b.publish(ConsoleChannel, event)
}

func (b *Bus) publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	seq, err := b.streams.Append(channel, event)
	if err != nil {
		b.log.Warn("Failed to append to stream", zap.String("channel", channel), zap.Error(err))
		// Live delivery still goes ahead without replayability.
	}

	withSeq := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		withSeq[k] = v
	}
	withSeq["seq"] = seq

	if b.hub != nil {
		b.hub.Broadcast(channel, withSeq)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Int64("seq", seq))
	return nil
}
