// Package redisqueue is the durable broker transport for the pipeline. It
// speaks Redis Streams with consumer groups (acknowledgment plus stale-claim
// recovery) and degrades, per stream, to plain list semantics when the key
// left behind by an older deployment has an incompatible type.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds broker connection and delivery settings.
type Config struct {
	// URL is the broker connection string, e.g. "redis://localhost:6379/0".
	URL string

	// Password overrides the password embedded in URL when set.
	Password string

	// ConsumerGroup is the fixed group name shared by all workers
	// (default: "pipeline-workers").
	ConsumerGroup string

	// ConsumerName identifies this process within the group. Defaults to
	// the host name; stable for the process lifetime.
	ConsumerName string

	// BlockTimeout bounds how long Dequeue waits for a new message
	// (default: 5s).
	BlockTimeout time.Duration

	// ClaimIdle is how long a delivered-but-unacknowledged message must sit
	// idle before another consumer may reclaim it (default: 5m).
	ClaimIdle time.Duration

	// MaxStreamLen is the approximate trim length applied on enqueue
	// (default: 20000). Never an exact cap.
	MaxStreamLen int64

	// DeadLetterStream is the stream holding failed messages
	// (default: "streams:dead_letter").
	DeadLetterStream string

	// ConnectTimeout bounds the initial connection probe (default: 5s).
	ConnectTimeout time.Duration

	// ModeOverride forces every stream into "group" or "list" mode. Empty
	// means resolve per stream from broker signals.
	ModeOverride string
}

func (c *Config) applyDefaults() {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "pipeline-workers"
	}
	if c.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "pipeline-worker"
		}
		c.ConsumerName = host
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 5 * time.Minute
	}
	if c.MaxStreamLen <= 0 {
		c.MaxStreamLen = 20000
	}
	if c.DeadLetterStream == "" {
		c.DeadLetterStream = "streams:dead_letter"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// Client is the queue transport. Construct one per process and inject it;
// per-stream delivery modes are decided once and then only read.
type Client struct {
	cfg    Config
	rdb    *redis.Client
	logger *slog.Logger

	mu          sync.Mutex
	modes       map[string]Mode
	groupsReady map[string]bool
}

// NewClient connects to the broker and verifies it is reachable within the
// connect timeout. An unreachable broker fails construction so callers can
// run with a nil client and fail fast through Enabled.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.applyDefaults()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = cfg.ConnectTimeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	logger.Info("Broker connection established",
		slog.String("consumer_group", cfg.ConsumerGroup),
		slog.String("consumer", cfg.ConsumerName),
		slog.Duration("claim_idle", cfg.ClaimIdle),
	)

	return &Client{
		cfg:         cfg,
		rdb:         rdb,
		logger:      logger,
		modes:       make(map[string]Mode),
		groupsReady: make(map[string]bool),
	}, nil
}

// Enabled reports whether a broker connection is configured. Nil-safe so
// callers holding a nil *Client fail fast instead of hanging.
func (c *Client) Enabled() bool {
	return c != nil && c.rdb != nil
}

// ConsumerName returns this process's stable consumer identity.
func (c *Client) ConsumerName() string {
	return c.cfg.ConsumerName
}

// Close releases the broker connection.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func isWrongType(err error) bool {
	return err != nil && strings.Contains(err.Error(), "WRONGTYPE")
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// streamMode returns the resolved mode for the stream, or the process-wide
// override, defaulting to group.
func (c *Client) streamMode(stream string) Mode {
	switch Mode(c.cfg.ModeOverride) {
	case ModeGroup, ModeList:
		return Mode(c.cfg.ModeOverride)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.modes[stream]; ok {
		return m
	}
	return ModeGroup
}

// downgrade permanently switches the stream to list mode for this process.
// Only called in reaction to an explicit type-mismatch signal from the
// broker, never speculatively.
func (c *Client) downgrade(stream string) {
	c.mu.Lock()
	already := c.modes[stream] == ModeList
	c.modes[stream] = ModeList
	c.mu.Unlock()

	if !already {
		c.logger.Warn("Stream key has legacy list type, downgrading to list mode",
			slog.String("stream", stream),
		)
	}
}

// ensureGroup idempotently creates the consumer group at the beginning of the
// log. A type mismatch downgrades the stream and is reported via the return.
func (c *Client) ensureGroup(ctx context.Context, stream string) error {
	c.mu.Lock()
	ready := c.groupsReady[stream]
	c.mu.Unlock()
	if ready {
		return nil
	}

	err := c.rdb.XGroupCreateMkStream(ctx, stream, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		if isWrongType(err) {
			c.downgrade(stream)
		}
		return err
	}

	c.mu.Lock()
	c.groupsReady[stream] = true
	c.modes[stream] = ModeGroup
	c.mu.Unlock()
	return nil
}

// Enqueue appends a message to the stream. In group mode the entry is added
// with an approximate maximum-length trim; in list mode the payload is
// JSON-encoded and pushed to the tail of the list.
func (c *Client) Enqueue(ctx context.Context, stream string, payload map[string]any) error {
	if !c.Enabled() {
		return fmt.Errorf("queue transport is not configured")
	}

	if c.streamMode(stream) == ModeGroup {
		if err := c.ensureGroup(ctx, stream); err != nil && !isWrongType(err) {
			return fmt.Errorf("failed to prepare stream %s: %w", stream, err)
		}

		if c.streamMode(stream) == ModeGroup {
			err := c.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: c.cfg.MaxStreamLen,
				Approx: true,
				Values: payload,
			}).Err()
			if err == nil {
				return nil
			}
			if !isWrongType(err) {
				return fmt.Errorf("failed to enqueue to %s: %w", stream, err)
			}
			c.downgrade(stream)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := c.rdb.RPush(ctx, stream, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue to list %s: %w", stream, err)
	}
	return nil
}

// Dequeue pops the next message with a bounded wait, returning (nil, nil) on
// timeout. In group mode a stale pending message (claimed but unacknowledged
// past the idle threshold) is re-delivered to this consumer before any new
// message is read, so a crashed worker's in-flight message is retried without
// a separate watchdog.
func (c *Client) Dequeue(ctx context.Context, stream string, block time.Duration) (*Message, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("queue transport is not configured")
	}
	if block <= 0 {
		block = c.cfg.BlockTimeout
	}

	if c.streamMode(stream) == ModeGroup {
		if err := c.ensureGroup(ctx, stream); err != nil && !isWrongType(err) {
			return nil, fmt.Errorf("failed to prepare stream %s: %w", stream, err)
		}

		if c.streamMode(stream) == ModeGroup {
			msg, err := c.dequeueGroup(ctx, stream, block)
			if err == nil || !isWrongType(err) {
				return msg, err
			}
			c.downgrade(stream)
		}
	}

	return c.dequeueList(ctx, stream, block)
}

func (c *Client) dequeueGroup(ctx context.Context, stream string, block time.Duration) (*Message, error) {
	// Phase one: reclaim a stale pending message if any exists.
	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		MinIdle:  c.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && err != redis.Nil {
		if isWrongType(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reclaim stale messages on %s: %w", stream, err)
	}
	if len(claimed) > 0 {
		c.logger.Warn("Reclaimed stale message",
			slog.String("stream", stream),
			slog.String("message_id", claimed[0].ID),
			slog.String("consumer", c.cfg.ConsumerName),
		)
		return c.groupMessage(stream, claimed[0]), nil
	}

	// Phase two: block-read the next unclaimed message.
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if isWrongType(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return c.groupMessage(stream, streams[0].Messages[0]), nil
}

func (c *Client) groupMessage(stream string, msg redis.XMessage) *Message {
	return &Message{
		ID:       msg.ID,
		Stream:   stream,
		Mode:     ModeGroup,
		Values:   stringifyValues(msg.Values),
		PulledAt: time.Now().UTC(),
	}
}

func (c *Client) dequeueList(ctx context.Context, stream string, block time.Duration) (*Message, error) {
	res, err := c.rdb.BLPop(ctx, block, stream).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from list %s: %w", stream, err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(res[1]), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode list message on %s: %w", stream, err)
	}

	// List mode has no message identity and no acknowledgment; the message
	// is considered processed the instant it is popped.
	return &Message{
		Stream:   stream,
		Mode:     ModeList,
		Values:   stringifyValues(payload),
		PulledAt: time.Now().UTC(),
	}, nil
}

// Ack acknowledges successful processing. A no-op for list-mode messages.
func (c *Client) Ack(ctx context.Context, msg *Message) error {
	if !c.Enabled() || msg == nil || msg.Mode != ModeGroup {
		return nil
	}
	if err := c.rdb.XAck(ctx, msg.Stream, c.cfg.ConsumerGroup, msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}
	return nil
}

// EnqueueDeadLetter parks a failed payload on the dead-letter stream with the
// failure reason and timestamp.
func (c *Client) EnqueueDeadLetter(ctx context.Context, payload map[string]any, reason string) error {
	if !c.Enabled() {
		return fmt.Errorf("queue transport is not configured")
	}

	values := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		values[k] = v
	}
	values["reason"] = reason
	values["failed_at"] = time.Now().UTC().Format(time.RFC3339)

	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DeadLetterStream,
		MaxLen: c.cfg.MaxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue dead letter: %w", err)
	}
	return nil
}

// Length returns the number of entries waiting on the stream.
func (c *Client) Length(ctx context.Context, stream string) (int64, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("queue transport is not configured")
	}

	if c.streamMode(stream) == ModeGroup {
		n, err := c.rdb.XLen(ctx, stream).Result()
		if err == nil {
			return n, nil
		}
		if !isWrongType(err) {
			return 0, fmt.Errorf("failed to measure stream %s: %w", stream, err)
		}
		c.downgrade(stream)
	}

	n, err := c.rdb.LLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure list %s: %w", stream, err)
	}
	return n, nil
}

// DLQLength returns the number of entries in the dead-letter stream.
func (c *Client) DLQLength(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("queue transport is not configured")
	}
	n, err := c.rdb.XLen(ctx, c.cfg.DeadLetterStream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure dead-letter stream: %w", err)
	}
	return n, nil
}

// ScanDeadLetters returns up to count entries from the head of the
// dead-letter stream without removing them.
func (c *Client) ScanDeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("queue transport is not configured")
	}

	msgs, err := c.rdb.XRangeN(ctx, c.cfg.DeadLetterStream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead-letter stream: %w", err)
	}

	entries := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, DeadLetter{
			ID:     m.ID,
			Values: stringifyValues(m.Values),
		})
	}
	return entries, nil
}

// RemoveDeadLetter deletes one entry from the dead-letter stream.
func (c *Client) RemoveDeadLetter(ctx context.Context, id string) error {
	if !c.Enabled() {
		return fmt.Errorf("queue transport is not configured")
	}
	if err := c.rdb.XDel(ctx, c.cfg.DeadLetterStream, id).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", id, err)
	}
	return nil
}
