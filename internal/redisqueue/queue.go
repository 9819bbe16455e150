package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lachiem1/budgetbell/internal/reminder"
)

const (
	defaultPrefix = "budgetbell"
	dialTimeout   = 5 * time.Second
)

// Queue is a reminder subsystem kept in Redis: a sorted set of handles scored
// by trigger time plus one JSON payload per handle.
type Queue struct {
	client *redis.Client
	prefix string
}

// Dial connects to addr, which may be a redis:// URL or a bare host:port.
func Dial(ctx context.Context, addr, prefix string) (*Queue, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "redis://" + addr
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, prefix), nil
}

func New(client *redis.Client, prefix string) *Queue {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) dueKey() string {
	return q.prefix + ":due"
}

func (q *Queue) reminderKey(handle string) string {
	return q.prefix + ":reminder:" + handle
}

func (q *Queue) Schedule(ctx context.Context, req reminder.Request) (string, error) {
	if req.TriggerAt.IsZero() {
		return "", errors.New("reminder trigger time is required")
	}
	sc := reminder.Scheduled{Handle: uuid.NewString(), Request: req}
	if err := q.store(ctx, sc); err != nil {
		return "", err
	}
	return sc.Handle, nil
}

// Requeue restores a claimed reminder under its original handle.
func (q *Queue) Requeue(ctx context.Context, sc reminder.Scheduled) error {
	if sc.Handle == "" {
		return errors.New("reminder handle is required")
	}
	return q.store(ctx, sc)
}

func (q *Queue) store(ctx context.Context, sc reminder.Scheduled) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.reminderKey(sc.Handle), payload, 0)
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(sc.TriggerAt.Unix()), Member: sc.Handle})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store reminder %q in redis: %w", sc.Handle, err)
	}
	return nil
}

func (q *Queue) Cancel(ctx context.Context, handle string) error {
	removed, err := q.client.ZRem(ctx, q.dueKey(), handle).Result()
	if err != nil {
		return fmt.Errorf("remove reminder %q: %w", handle, err)
	}
	if err := q.client.Del(ctx, q.reminderKey(handle)).Err(); err != nil {
		return fmt.Errorf("delete reminder %q payload: %w", handle, err)
	}
	if removed == 0 {
		return fmt.Errorf("handle %q: %w", handle, reminder.ErrReminderNotFound)
	}
	return nil
}

func (q *Queue) List(ctx context.Context) ([]reminder.Scheduled, error) {
	handles, err := q.client.ZRange(ctx, q.dueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return q.load(ctx, handles)
}

// ClaimDue hands out reminders due at or before now. Each handle is claimed
// with ZREM, so concurrent consumers never receive the same reminder. Claimed
// payloads that cannot be decoded are dropped without failing the batch.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]reminder.Scheduled, error) {
	if limit <= 0 {
		return nil, nil
	}
	due, err := q.client.ZRangeByScoreWithScores(ctx, q.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}

	var (
		claimed []string
		scores  []redis.Z
	)
	for _, z := range due {
		handle, ok := z.Member.(string)
		if !ok {
			continue
		}
		n, err := q.client.ZRem(ctx, q.dueKey(), handle).Result()
		if err != nil {
			q.restore(ctx, scores)
			return nil, fmt.Errorf("claim reminder %q: %w", handle, err)
		}
		if n == 1 {
			claimed = append(claimed, handle)
			scores = append(scores, z)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	out, err := q.load(ctx, claimed)
	if err != nil {
		q.restore(ctx, scores)
		return nil, err
	}
	keys := make([]string, len(claimed))
	for i, handle := range claimed {
		keys[i] = q.reminderKey(handle)
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("delete claimed payloads: %w", err)
	}
	return out, nil
}

// restore puts claimed handles back in the due set after a failed claim.
func (q *Queue) restore(ctx context.Context, claimed []redis.Z) {
	if len(claimed) == 0 {
		return
	}
	_ = q.client.ZAdd(context.WithoutCancel(ctx), q.dueKey(), claimed...).Err()
}

func (q *Queue) load(ctx context.Context, handles []string) ([]reminder.Scheduled, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	keys := make([]string, len(handles))
	for i, handle := range handles {
		keys[i] = q.reminderKey(handle)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load reminder payloads: %w", err)
	}
	out, _ := decodePayloads(handles, values)
	return out, nil
}

// decodePayloads decodes MGET results for handles. Missing payloads are
// skipped; undecodable ones are skipped and their handles returned.
func decodePayloads(handles []string, values []any) ([]reminder.Scheduled, []string) {
	out := make([]reminder.Scheduled, 0, len(values))
	var corrupt []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Payload vanished between the index read and the load.
			continue
		}
		sc, err := decodeScheduled(raw)
		if err != nil {
			corrupt = append(corrupt, handles[i])
			continue
		}
		out = append(out, sc)
	}
	return out, corrupt
}

func decodeScheduled(raw string) (reminder.Scheduled, error) {
	var sc reminder.Scheduled
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return reminder.Scheduled{}, fmt.Errorf("decode reminder payload: %w", err)
	}
	if sc.Handle == "" {
		return reminder.Scheduled{}, errors.New("decode reminder payload: missing handle")
	}
	return sc, nil
}

func (q *Queue) Name() string {
	return "redis"
}
