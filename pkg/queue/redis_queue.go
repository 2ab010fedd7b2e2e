package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"litshelf/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusDelivering = "delivering"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Message is one outbound notification carried on the stream.
type Message struct {
	ID        string
	Recipient int64
	Kind      string
	Text      string
}

// Delivery tracks the status of a message, kept in a hash with TTL.
type Delivery struct {
	ID           string    `json:"id"`
	Recipient    int64     `json:"recipient"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisOutbox is a Redis Streams consumer-group queue for notifications.
// Failed deliveries are requeued until maxRetries, then marked failed.
type RedisOutbox struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	statusTTL    time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisOutboxConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisOutbox(cfg RedisOutboxConfig) (*RedisOutbox, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("outbox stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifier"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	statusTTL := cfg.StatusTTL
	if statusTTL <= 0 {
		statusTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisOutbox{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		statusTTL:    statusTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue appends msg to the stream and records its queued status.
func (q *RedisOutbox) Enqueue(ctx context.Context, msg Message) (Delivery, error) {
	if msg.Recipient == 0 {
		return Delivery{}, errors.New("recipient required")
	}
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = util.NewID()
	}
	now := time.Now().UTC()
	d := Delivery{
		ID:        msg.ID,
		Recipient: msg.Recipient,
		Kind:      msg.Kind,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, d); err != nil {
		return Delivery{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: encodeMessage(msg),
	}).Err(); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// GetDelivery returns the recorded status of a message.
func (q *RedisOutbox) GetDelivery(ctx context.Context, id string) (Delivery, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Delivery{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.statusKey(id)).Result()
	if err != nil {
		return Delivery{}, false, err
	}
	if len(data) == 0 {
		return Delivery{}, false, nil
	}
	return decodeDelivery(id, data), true, nil
}

// Start launches concurrency consumers that hand each message to handler
// until ctx is cancelled.
func (q *RedisOutbox) Start(ctx context.Context, concurrency int, handler func(context.Context, Message) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

// Close releases the Redis connection pool.
func (q *RedisOutbox) Close() error {
	return q.client.Close()
}

func (q *RedisOutbox) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// BUSYGROUP means the group exists; other errors resurface on read.
		_ = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	})
}

func (q *RedisOutbox) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Message) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisOutbox) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisOutbox) handleMessage(ctx context.Context, raw redis.XMessage, handler func(context.Context, Message) error) {
	msg, ok := decodeMessage(raw.Values)
	if !ok {
		q.ackAndDel(ctx, raw.ID)
		return
	}
	d, err := q.markDelivering(ctx, msg)
	if err != nil {
		q.ackAndDel(ctx, raw.ID)
		return
	}
	if err = handler(ctx, msg); err == nil {
		_ = q.markDone(ctx, msg.ID)
		q.ackAndDel(ctx, raw.ID)
		return
	}
	if d.Attempts >= q.maxRetries {
		_ = q.markFailed(ctx, msg.ID, err.Error())
		q.ackAndDel(ctx, raw.ID)
		return
	}
	_ = q.markQueued(ctx, msg.ID, err.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, raw.ID, msg)
}

func (q *RedisOutbox) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisOutbox) requeueAndAck(ctx context.Context, msgID string, msg Message) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: encodeMessage(msg),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisOutbox) markDelivering(ctx context.Context, msg Message) (Delivery, error) {
	d, found, err := q.GetDelivery(ctx, msg.ID)
	if err != nil {
		return Delivery{}, err
	}
	if !found {
		d = Delivery{ID: msg.ID}
	}
	d.Recipient = msg.Recipient
	d.Kind = msg.Kind
	d.Attempts++
	d.Status = StatusDelivering
	d.UpdatedAt = time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}
	if err := q.writeStatus(ctx, d); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (q *RedisOutbox) markQueued(ctx context.Context, id, errMsg string) error {
	return q.updateStatus(ctx, id, StatusQueued, errMsg)
}

func (q *RedisOutbox) markDone(ctx context.Context, id string) error {
	return q.updateStatus(ctx, id, StatusDone, "")
}

func (q *RedisOutbox) markFailed(ctx context.Context, id, errMsg string) error {
	return q.updateStatus(ctx, id, StatusFailed, errMsg)
}

func (q *RedisOutbox) updateStatus(ctx context.Context, id, status, errMsg string) error {
	d, _, err := q.GetDelivery(ctx, id)
	if err != nil {
		return err
	}
	d.ID = id
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, d)
}

func (q *RedisOutbox) writeStatus(ctx context.Context, d Delivery) error {
	key := q.statusKey(d.ID)
	payload := map[string]any{
		"id":        d.ID,
		"recipient": strconv.FormatInt(d.Recipient, 10),
		"kind":      d.Kind,
		"status":    d.Status,
		"error":     d.ErrorMessage,
		"attempts":  strconv.Itoa(d.Attempts),
		"createdAt": d.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": d.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.statusTTL).Err()
	return nil
}

func (q *RedisOutbox) statusKey(id string) string {
	return fmt.Sprintf("delivery:%s:%s", q.stream, id)
}

func encodeMessage(msg Message) map[string]any {
	return map[string]any{
		"id":        msg.ID,
		"recipient": strconv.FormatInt(msg.Recipient, 10),
		"kind":      msg.Kind,
		"text":      msg.Text,
	}
}

func decodeMessage(values map[string]any) (Message, bool) {
	id, _ := values["id"].(string)
	rawRecipient, _ := values["recipient"].(string)
	kind, _ := values["kind"].(string)
	text, _ := values["text"].(string)
	recipient, err := strconv.ParseInt(rawRecipient, 10, 64)
	if id == "" || err != nil || recipient == 0 {
		return Message{}, false
	}
	return Message{ID: id, Recipient: recipient, Kind: kind, Text: text}, true
}

func decodeDelivery(id string, data map[string]string) Delivery {
	d := Delivery{ID: id}
	if v := data["recipient"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.Recipient = n
		}
	}
	d.Kind = data["kind"]
	d.Status = data["status"]
	d.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			d.UpdatedAt = t
		}
	}
	return d
}
