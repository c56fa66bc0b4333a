package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamMessage one entry read from a Redis stream
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishToStream appends values to stream with XADD. Non-string values are
// stringified, falling back to JSON for composite types.
func PublishToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		var strValue string
		switch val := v.(type) {
		case string:
			strValue = val
		case []byte:
			strValue = string(val)
		case int:
			strValue = fmt.Sprintf("%d", val)
		case int64:
			strValue = fmt.Sprintf("%d", val)
		case float64:
			strValue = fmt.Sprintf("%f", val)
		case bool:
			if val {
				strValue = "true"
			} else {
				strValue = "false"
			}
		default:
			jsonBytes, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			strValue = string(jsonBytes)
		}
		streamValues[k] = strValue
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Result()
}

// PublishJSONToStream publishes data as JSON under the "data" field.
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, maxLen int64, data interface{}) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return PublishToStream(ctx, client, stream, maxLen, map[string]interface{}{
		"data":      string(jsonBytes),
		"timestamp": time.Now().Unix(),
	})
}

// ReadStreams blocks on XREAD for the given streams, each resumed from the
// id in offsets ("$" for new entries only). Entries of all streams are
// merged in id order, ties broken by stream name. A timeout with no entries
// returns an empty slice and no error.
func ReadStreams(ctx context.Context, client *redis.Client, offsets map[string]string, count int64, block time.Duration) ([]StreamMessage, error) {
	if len(offsets) == 0 {
		return []StreamMessage{}, nil
	}

	keys := make([]string, 0, len(offsets))
	ids := make([]string, 0, len(offsets))
	for stream, id := range offsets {
		keys = append(keys, stream)
		ids = append(ids, id)
	}

	streams, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: append(keys, ids...),
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			messages = append(messages, StreamMessage{
				Stream: stream.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}

	sort.Slice(messages, func(i, j int) bool {
		if c := CompareIDs(messages[i].ID, messages[j].ID); c != 0 {
			return c < 0
		}
		return messages[i].Stream < messages[j].Stream
	})
	return messages, nil
}

// CompareIDs orders two stream entry ids of the form <ms>-<seq>. It returns
// -1, 0 or 1. Unparsable parts compare as zero.
func CompareIDs(a, b string) int {
	ams, aseq := splitID(a)
	bms, bseq := splitID(b)
	switch {
	case ams < bms:
		return -1
	case ams > bms:
		return 1
	case aseq < bseq:
		return -1
	case aseq > bseq:
		return 1
	}
	return 0
}

func splitID(id string) (uint64, uint64) {
	msPart, seqPart, _ := strings.Cut(id, "-")
	ms, _ := strconv.ParseUint(msPart, 10, 64)
	seq, _ := strconv.ParseUint(seqPart, 10, 64)
	return ms, seq
}

// LastID returns the id of the newest entry in stream, or "0" when empty.
func LastID(ctx context.Context, client *redis.Client, stream string) (string, error) {
	entries, err := client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "0", nil
	}
	return entries[0].ID, nil
}
