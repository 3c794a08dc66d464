package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// publishTimeout bounds a single publish so an unreachable Redis cannot hold
// up the caller for the client's full retry schedule.
const publishTimeout = 2 * time.Second

// ErrNoAccount is returned by Notify without an account id.
var ErrNoAccount = errors.New("account id is required")

// redisEnvelope wraps an event with the originating instance ID
// so that a node can skip its own published events.
type redisEnvelope struct {
	InstanceID string      `json:"instance_id"`
	Event      types.Event `json:"event"`
}

// notification is what other backends publish on the notify channel to
// reach the personal connections of an account.
type notification struct {
	AccountID string          `json:"account_id"`
	Data      json.RawMessage `json:"data"`
}

// RedisBridge relays group events between gateway instances via Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	cfg        *RedisConfig
	instanceID string
	hub        BroadcastTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance messaging.
func NewRedisBridge(cfg *RedisConfig, hub BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	return &RedisBridge{
		client:     client,
		cfg:        cfg,
		instanceID: uuid.New().String(),
		hub:        hub,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID identifies this gateway instance on the broadcast channel.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the broadcast and notify channels and begins relaying.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	sub := b.client.Subscribe(b.ctx, b.cfg.BroadcastChannel(), b.cfg.NotifyChannel())

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		_ = sub.Close()
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("prefix", b.cfg.Prefix).
		Msg("redis bridge started")
	return nil
}

// Publish sends an event to all other instances via Redis.
func (b *RedisBridge) Publish(ev types.Event) error {
	data, err := json.Marshal(redisEnvelope{InstanceID: b.instanceID, Event: ev})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(b.ctx, publishTimeout)
	defer cancel()
	return b.client.Publish(ctx, b.cfg.BroadcastChannel(), data).Err()
}

// Notify publishes a realtime event for an account on the notify channel.
// Every instance, this one included, delivers it to its local connections.
func (b *RedisBridge) Notify(ctx context.Context, accountID string, payload any) error {
	if accountID == "" {
		return ErrNoAccount
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(notification{AccountID: accountID, Data: raw})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.cfg.NotifyChannel(), data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads messages from the Redis subscription and forwards to the local hub.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()
	b.relay(sub.Channel())
}

// relay drains ch until it closes or the bridge stops. A closed channel
// means the subscription is gone, so the bridge reports itself unavailable.
func (b *RedisBridge) relay(ch <-chan *redis.Message) {
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				b.mu.Lock()
				b.active = false
				b.mu.Unlock()
				b.logger.Warn().Msg("redis subscription closed, bridge unavailable")
				return
			}
			b.handleRedisMessage(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBridge) handleRedisMessage(msg *redis.Message) {
	switch msg.Channel {
	case b.cfg.BroadcastChannel():
		b.handleBroadcast(msg.Payload)
	case b.cfg.NotifyChannel():
		b.handleNotify(msg.Payload)
	default:
		b.logger.Warn().Str("channel", msg.Channel).Msg("message on unexpected channel")
	}
}

// handleBroadcast decodes an envelope and forwards non-self events to the hub.
func (b *RedisBridge) handleBroadcast(payload string) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip events that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}
	if env.Event.Group == "" {
		b.logger.Warn().Str("from_instance", env.InstanceID).Msg("event without group dropped")
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("group", env.Event.Group).
		Msg("relaying event from redis")

	b.hub.BroadcastToLocal(env.Event)
}

// handleNotify turns a notification into a personal realtime event.
func (b *RedisBridge) handleNotify(payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode notification")
		return
	}
	if n.AccountID == "" {
		b.logger.Warn().Msg("notification without account_id dropped")
		return
	}

	ev, err := types.NewEvent(types.PersonalGroup(n.AccountID), types.EventRealtime, n.Data)
	if err != nil {
		b.logger.Error().Err(err).Str("account_id", n.AccountID).Msg("failed to encode notification")
		return
	}
	b.hub.BroadcastToLocal(ev)
}
