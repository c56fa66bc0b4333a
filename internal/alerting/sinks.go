package alerting

import (
	"context"
	"fmt"

	rediscommon "github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LogSink writes notifications to the service log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("alert_id", n.Alert.ID),
		zap.String("alert_type", n.Alert.Type),
		zap.String("severity", string(n.Alert.Severity)),
		zap.String("tag_id", n.Alert.TagID),
		zap.String("message", n.Alert.Message),
		zap.Bool("audible", n.Treatment.Audible),
		zap.Bool("flash", n.Treatment.Flash),
	}
	if n.Treatment.Audible {
		s.logger.Warn("Alert raised", fields...)
	} else {
		s.logger.Info("Alert raised", fields...)
	}
	return nil
}

// RedisStreamSink publishes notifications to a Redis stream for display
// clients.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a stream sink. maxLen <= 0 leaves the stream
// untrimmed.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Send(ctx context.Context, n Notification) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, s.client, s.stream, s.maxLen, n); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", s.stream, err)
	}
	return nil
}
