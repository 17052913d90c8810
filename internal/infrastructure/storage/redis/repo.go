package redis

import (
	"context"
	"encoding/json"
	"strings"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/storage"

	"github.com/redis/go-redis/v9"
)

// scanFactor 按 ticker 过滤时多读的倍数
const scanFactor = 10

type Repo struct {
	rdb     *redis.Client
	prefix  string
	stream  string
	channel string
	maxLen  int64
}

func New(rdb *redis.Client, prefix, stream, channel string, maxLen int64) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "targetwatch"
	}
	if strings.TrimSpace(stream) == "" {
		stream = prefix + ":transitions"
	}
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":transitions:pub"
	}
	return &Repo{
		rdb:     rdb,
		prefix:  prefix,
		stream:  stream,
		channel: channel,
		maxLen:  maxLen,
	}
}

func (r *Repo) Stream() string  { return r.stream }
func (r *Repo) Channel() string { return r.channel }

func (r *Repo) RecordTransition(ctx context.Context, rec *domain.TransitionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * ticker op outcome payload
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"ticker":  rec.Ticker,
			"op":      string(rec.Op),
			"outcome": string(rec.Outcome),
			"payload": string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if _, err := r.rdb.XAdd(ctx, args).Result(); err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *Repo) ListTransitions(ctx context.Context, ticker string, limit int) ([]domain.TransitionRecord, error) {
	limit = storage.ClampLimit(limit)
	ticker = domain.NormalizeTicker(ticker)

	count := int64(limit)
	if ticker != "" {
		count *= scanFactor
	}
	msgs, err := r.rdb.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.TransitionRecord, 0, limit)
	for _, m := range msgs {
		if ticker != "" && m.Values["ticker"] != ticker {
			continue
		}
		raw, ok := m.Values["payload"].(string)
		if !ok {
			continue
		}
		var rec domain.TransitionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var (
	_ port.TransitionJournal = (*Repo)(nil)
	_ port.TransitionHistory = (*Repo)(nil)
)
