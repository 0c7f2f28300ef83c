package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamEvent is one replayable event from a channel's stream.
type StreamEvent struct {
	Channel   string
	Sequence  int64
	Event     map[string]interface{}
	Timestamp time.Time
}

// Streams keeps a per-channel append-only event log in Redis Streams so
// console clients can catch up after a reconnect.
type Streams struct {
	rdb *redis.Client
	log *zap.Logger
	ctx context.Context
}

func NewStreams(rdb *redis.Client, log *zap.Logger) *Streams {
	return &Streams{rdb: rdb, log: log, ctx: context.Background()}
}

// Append stores an event and returns its channel-scoped sequence number.
func (s *Streams) Append(channel string, event map[string]interface{}) (int64, error) {
	seq, err := s.rdb.Incr(s.ctx, "seq:"+channel).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	stamped := make(map[string]interface{}, len(event)+3)
	for k, v := range event {
		stamped[k] = v
	}
	stamped["seq"] = seq
	stamped["channel"] = channel
	stamped["timestamp"] = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(stamped)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.rdb.XAdd(s.ctx, &redis.XAddArgs{
		Stream: "stream:" + channel,
		ID:     "*",
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append to stream: %w", err)
	}

	return seq, nil
}

// LastAck returns the last sequence a connection acknowledged on a
// channel, 0 when it never acknowledged anything.
func (s *Streams) LastAck(channel, connectionID string) (int64, error) {
	val, err := s.rdb.Get(s.ctx, ackKey(channel, connectionID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last ack: %w", err)
	}
	seq, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ack: %w", err)
	}
	return seq, nil
}

// Ack records how far a connection has consumed a channel.
func (s *Streams) Ack(channel, connectionID string, sequence int64) error {
	if err := s.rdb.Set(s.ctx, ackKey(channel, connectionID), sequence, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to store ack: %w", err)
	}
	return nil
}

func ackKey(channel, connectionID string) string {
	return fmt.Sprintf("ack:%s:%s", channel, connectionID)
}

// Replay returns up to limit events on channel with sequence > sinceSeq.
func (s *Streams) Replay(channel string, sinceSeq int64, limit int64) ([]StreamEvent, error) {
	msgs, err := s.rdb.XRange(s.ctx, "stream:"+channel, "-", "+").Result()
	if err == redis.Nil {
		return []StreamEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]StreamEvent, 0, limit)
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var stamped map[string]interface{}
		if err := json.Unmarshal([]byte(data), &stamped); err != nil {
			s.log.Warn("Failed to unmarshal stream event", zap.Error(err))
			continue
		}

		seqF, _ := stamped["seq"].(float64)
		seq := int64(seqF)
		if seq <= sinceSeq {
			continue
		}

		ts, _ := time.Parse(time.RFC3339, asString(stamped["timestamp"]))
		if ts.IsZero() {
			ts = time.Now()
		}

		event := make(map[string]interface{})
		for k, v := range stamped {
			if k != "seq" && k != "channel" && k != "timestamp" {
				event[k] = v
			}
		}

		events = append(events, StreamEvent{
			Channel:   channel,
			Sequence:  seq,
			Event:     event,
			Timestamp: ts,
		})
		if int64(len(events)) >= limit {
			break
		}
	}
	return events, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
